// Package refs groups the refs of the log by the commit they point to.
package refs

import (
	"iter"
	"slices"

	"github.com/thiagokokada/vcslog/internal/storage"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// CompressedRefs holds the refs of one root. Branches are kept as values since there are
// few of them; tags are kept as ref indices in the identity store.
type CompressedRefs struct {
	root  string
	store storage.Store

	branches map[int][]vcs.Ref
	tags     map[int][]int
	commits  []int
}

func NewCompressedRefs(root string, refs []vcs.Ref, store storage.Store) *CompressedRefs {
	c := &CompressedRefs{
		root:     root,
		store:    store,
		branches: make(map[int][]vcs.Ref),
		tags:     make(map[int][]int),
	}
	for _, ref := range refs {
		ref.Root = root
		index := store.CommitIndex(ref.CommitID())
		if _, ok := c.branches[index]; !ok {
			if _, ok := c.tags[index]; !ok {
				c.commits = append(c.commits, index)
			}
		}
		if ref.Type.IsBranch() {
			c.branches[index] = append(c.branches[index], ref)
		} else {
			c.tags[index] = append(c.tags[index], store.RefIndex(ref))
		}
	}
	for _, refs := range c.branches {
		slices.SortFunc(refs, vcs.CompareRefs)
	}
	slices.Sort(c.commits)
	return c
}

func (c *CompressedRefs) Root() string {
	return c.root
}

// RefsToCommit returns the refs pointing at index, branches first.
func (c *CompressedRefs) RefsToCommit(index int) []vcs.Ref {
	branches := c.branches[index]
	tags := c.tags[index]
	if len(branches) == 0 && len(tags) == 0 {
		return nil
	}
	out := make([]vcs.Ref, 0, len(branches)+len(tags))
	out = append(out, branches...)
	start := len(out)
	for _, refIndex := range tags {
		out = append(out, c.store.Ref(refIndex))
	}
	slices.SortFunc(out[start:], vcs.CompareRefs)
	return out
}

func (c *CompressedRefs) Branches() iter.Seq[vcs.Ref] {
	return func(yield func(vcs.Ref) bool) {
		for _, index := range c.commits {
			for _, ref := range c.branches[index] {
				if !yield(ref) {
					return
				}
			}
		}
	}
}

func (c *CompressedRefs) Tags() iter.Seq[vcs.Ref] {
	return func(yield func(vcs.Ref) bool) {
		for _, index := range c.commits {
			for _, refIndex := range c.tags[index] {
				if !yield(c.store.Ref(refIndex)) {
					return
				}
			}
		}
	}
}

// Refs yields every ref, all branches before any tag.
func (c *CompressedRefs) Refs() iter.Seq[vcs.Ref] {
	return func(yield func(vcs.Ref) bool) {
		for ref := range c.Branches() {
			if !yield(ref) {
				return
			}
		}
		for ref := range c.Tags() {
			if !yield(ref) {
				return
			}
		}
	}
}

// Commits yields the indices of commits with at least one ref, in ascending order.
func (c *CompressedRefs) Commits() iter.Seq[int] {
	return slices.Values(c.commits)
}

// BranchCommits yields the indices of commits with at least one branch.
func (c *CompressedRefs) BranchCommits() iter.Seq[int] {
	return func(yield func(int) bool) {
		for _, index := range c.commits {
			if len(c.branches[index]) == 0 {
				continue
			}
			if !yield(index) {
				return
			}
		}
	}
}
