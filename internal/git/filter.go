package git

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"

	gitbackend "github.com/thiagokokada/vcslog/internal/git/backend"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// CommitsMatchingFilter walks the log of the branches selected by the branch filter (every
// ref when there is none) restricted to the structure filter paths, and returns at most
// limit hashes of commits matching the user, date and text filters. Hash filters are not
// evaluated here.
func (p *Provider) CommitsMatchingFilter(ctx context.Context, filters vcs.FilterCollection, limit int) ([]plumbing.Hash, error) {
	if filters.Root != nil && !filters.Root.Matches(p.Root()) {
		return nil, nil
	}
	opts := gitbackend.LogOptions{}
	if filters.Branch != nil {
		revs, err := p.branchRevs(ctx, filters.Branch)
		if err != nil {
			return nil, err
		}
		if len(revs) == 0 {
			return nil, nil
		}
		opts.Revs = revs
	}
	if filters.Structure != nil {
		opts.Paths = slices.Clone(filters.Structure.Paths)
	}

	var me *vcs.User
	if filters.User != nil && slices.Contains(filters.User.Users, vcs.MeUser) {
		user, err := p.CurrentUser(ctx)
		if err != nil {
			slog.Debug("current user unavailable for filter", slog.String("root", p.Root()), slog.Any("error", err))
		}
		me = user
	}
	details := vcs.FilterCollection{User: filters.User, Text: filters.Text, Date: filters.Date}

	stream, err := p.backend.StartLogStream(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("filter log: %w", err)
	}
	defer closeStream(stream)

	var out []plumbing.Hash
	for limit <= 0 || len(out) < limit {
		c, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("filter log: %w", err)
		}
		short, err := p.shortDetails(c)
		if err != nil {
			return nil, err
		}
		full := vcs.FullDetails{
			ShortDetails: short,
			Committer:    convertSignature(c.Committer),
			Message:      strings.TrimRight(c.Message, "\n"),
		}
		if details.MatchesFull(full, me) {
			out = append(out, short.ID.Hash)
		}
	}
	slog.Debug("filtered log",
		slog.String("root", p.Root()),
		slog.Int("matches", len(out)),
		slog.Int("limit", limit),
	)
	return out, nil
}

func (p *Provider) branchRevs(ctx context.Context, filter *vcs.BranchFilter) ([]string, error) {
	refs, err := p.backend.ListRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	var revs []string
	for _, ref := range refs {
		if ref.Kind == gitbackend.RefKindTag || !filter.Matches(ref.Name) {
			continue
		}
		revs = append(revs, ref.Hash)
	}
	slices.Sort(revs)
	return slices.Compact(revs), nil
}
