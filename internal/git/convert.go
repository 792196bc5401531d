package git

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	gitbackend "github.com/thiagokokada/vcslog/internal/git/backend"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

func parseHash(s string) (plumbing.Hash, error) {
	if !plumbing.IsHash(s) {
		return plumbing.ZeroHash, fmt.Errorf("invalid commit hash %q", s)
	}
	return plumbing.NewHash(s), nil
}

func (p *Provider) shortDetails(c *gitbackend.Commit) (vcs.ShortDetails, error) {
	h, err := parseHash(c.Hash)
	if err != nil {
		return vcs.ShortDetails{}, err
	}
	parents := make([]plumbing.Hash, len(c.ParentHashes))
	for i, s := range c.ParentHashes {
		if parents[i], err = parseHash(s); err != nil {
			return vcs.ShortDetails{}, err
		}
	}
	return vcs.ShortDetails{
		ID:        vcs.CommitID{Hash: h, Root: p.Root()},
		Parents:   parents,
		Author:    convertSignature(c.Author),
		Subject:   subject(c.Message),
		Timestamp: c.Committer.When.Unix(),
	}, nil
}

func subject(message string) string {
	line, _, _ := strings.Cut(strings.TrimLeft(message, "\n"), "\n")
	return strings.TrimSpace(line)
}

func convertSignature(s gitbackend.Signature) vcs.Signature {
	return vcs.Signature{Name: s.Name, Email: s.Email, When: s.When}
}

func (p *Provider) convertRefs(refs []gitbackend.Ref) []vcs.Ref {
	out := make([]vcs.Ref, 0, len(refs))
	for _, r := range refs {
		h, err := parseHash(r.Hash)
		if err != nil {
			continue
		}
		ref := vcs.Ref{Name: r.Name, Hash: h, Root: p.Root()}
		switch r.Kind {
		case gitbackend.RefKindBranch:
			ref.Type = vcs.RefTypeBranch
		case gitbackend.RefKindRemoteBranch:
			ref.Type = vcs.RefTypeRemoteBranch
		case gitbackend.RefKindTag:
			ref.Type = vcs.RefTypeTag
		}
		out = append(out, ref)
	}
	return out
}

func convertChanges(changes []gitbackend.Change) []vcs.Change {
	out := make([]vcs.Change, 0, len(changes))
	for _, c := range changes {
		change := vcs.Change{Path: c.Path, OldPath: c.OldPath}
		switch c.Status {
		case gitbackend.ChangeAdded, gitbackend.ChangeCopied:
			change.Kind = vcs.ChangeAdded
		case gitbackend.ChangeDeleted:
			change.Kind = vcs.ChangeDeleted
		case gitbackend.ChangeRenamed:
			change.Kind = vcs.ChangeRenamed
		default:
			change.Kind = vcs.ChangeModified
		}
		out = append(out, change)
	}
	return out
}
