package vcs

import (
	"path"
	"slices"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

// FilterCollection groups the filters applied to a log view. A nil filter is inactive.
type FilterCollection struct {
	Branch    *BranchFilter
	Root      *RootFilter
	Structure *StructureFilter
	User      *UserFilter
	Hash      *HashFilter
	Text      *TextFilter
	Date      *DateFilter
}

func (f FilterCollection) IsEmpty() bool {
	return f.Branch == nil && f.Root == nil && !f.HasDetailsFilters() && f.Hash == nil
}

// HasDetailsFilters reports whether matching needs commit details.
func (f FilterCollection) HasDetailsFilters() bool {
	return f.User != nil || f.Text != nil || f.Date != nil || f.Structure != nil
}

// MatchesShort evaluates the details filters against short details. ok is false when a
// filter needs data that short details do not carry.
func (f FilterCollection) MatchesShort(d ShortDetails, me *User) (matched bool, ok bool) {
	if f.Text != nil || f.Structure != nil {
		return false, false
	}
	if f.User != nil && !f.User.Matches(d.Author, me) {
		return false, true
	}
	if f.Date != nil && !f.Date.Matches(time.Unix(d.Timestamp, 0)) {
		return false, true
	}
	return true, true
}

func (f FilterCollection) MatchesFull(d FullDetails, me *User) bool {
	if f.User != nil && !f.User.Matches(d.Author, me) {
		return false
	}
	if f.Date != nil && !f.Date.Matches(time.Unix(d.Timestamp, 0)) {
		return false
	}
	if f.Text != nil && !f.Text.Matches(d.Message) {
		return false
	}
	if f.Structure != nil && !f.Structure.MatchesChanges(d.Changes) {
		return false
	}
	return true
}

// BranchFilter matches ref names exactly or by glob pattern.
type BranchFilter struct {
	Names []string
}

func (f *BranchFilter) Matches(name string) bool {
	for _, pattern := range f.Names {
		if pattern == name {
			return true
		}
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

type RootFilter struct {
	Roots []string
}

func (f *RootFilter) Matches(root string) bool {
	return slices.Contains(f.Roots, root)
}

// StructureFilter matches commits touching any of Paths (relative to the root, directories
// match everything below them).
type StructureFilter struct {
	Paths []string
}

func (f *StructureFilter) MatchesPath(p string) bool {
	for _, want := range f.Paths {
		want = strings.TrimSuffix(want, "/")
		if want == "" || p == want || strings.HasPrefix(p, want+"/") {
			return true
		}
	}
	return false
}

func (f *StructureFilter) MatchesChanges(changes []Change) bool {
	for _, c := range changes {
		if f.MatchesPath(c.Path) || (c.OldPath != "" && f.MatchesPath(c.OldPath)) {
			return true
		}
	}
	return false
}

// MeUser is the user filter term resolved to the current user of the root.
const MeUser = "me"

type UserFilter struct {
	Users []string
}

func (f *UserFilter) Matches(author Signature, me *User) bool {
	name := strings.ToLower(author.Name)
	email := strings.ToLower(author.Email)
	for _, term := range f.Users {
		if term == MeUser {
			if me != nil && (strings.EqualFold(me.Name, author.Name) || strings.EqualFold(me.Email, author.Email)) {
				return true
			}
			continue
		}
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if strings.Contains(name, term) || strings.Contains(email, term) {
			return true
		}
	}
	return false
}

// HashFilter matches full hashes or hash prefixes.
type HashFilter struct {
	Hashes []string
}

func (f *HashFilter) Matches(h plumbing.Hash) bool {
	s := h.String()
	for _, prefix := range f.Hashes {
		prefix = strings.ToLower(strings.TrimSpace(prefix))
		if prefix != "" && strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

type TextFilter struct {
	Text      string
	MatchCase bool
}

func (f *TextFilter) Matches(message string) bool {
	if f.MatchCase {
		return strings.Contains(message, f.Text)
	}
	return strings.Contains(strings.ToLower(message), strings.ToLower(f.Text))
}

// DateFilter keeps commits in [After, Before]; zero bounds are open.
type DateFilter struct {
	After  time.Time
	Before time.Time
}

func (f *DateFilter) Matches(when time.Time) bool {
	if !f.After.IsZero() && when.Before(f.After) {
		return false
	}
	if !f.Before.IsZero() && when.After(f.Before) {
		return false
	}
	return true
}
