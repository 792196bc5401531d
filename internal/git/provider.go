// Package git implements vcs.LogProvider for git repositories on top of a backend (the git
// executable or go-git).
package git

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/sync/errgroup"

	gitbackend "github.com/thiagokokada/vcslog/internal/git/backend"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// BackendKind selects how a repository is read.
type BackendKind string

const (
	BackendNative BackendKind = "native"
	BackendCLI    BackendKind = "cli"
)

// changedPathsConcurrency bounds the number of concurrent per-commit diff reads.
const changedPathsConcurrency = 4

type Provider struct {
	backend gitbackend.Backend
}

var _ vcs.LogProvider = (*Provider)(nil)

// Open opens the repository containing path with the requested backend.
func Open(ctx context.Context, path string, kind BackendKind) (*Provider, error) {
	var (
		b   gitbackend.Backend
		err error
	)
	switch kind {
	case BackendNative, "":
		b, err = gitbackend.OpenNative(path)
	case BackendCLI:
		b, err = gitbackend.OpenCLI(ctx, path)
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
	if err != nil {
		return nil, err
	}
	slog.Debug("repository opened", slog.String("root", b.RepoPath()), slog.String("backend", string(kind)))
	return NewProvider(b), nil
}

func NewProvider(b gitbackend.Backend) *Provider {
	return &Provider{backend: b}
}

func (p *Provider) Root() string {
	return p.backend.RepoPath()
}

func (p *Provider) ReadFirstBlock(ctx context.Context, count int) (*vcs.LogResult, error) {
	if count <= 0 {
		return nil, fmt.Errorf("read first block: invalid count %d", count)
	}
	return p.readLog(ctx, gitbackend.LogOptions{MaxCount: count}, true)
}

func (p *Provider) ReadFullLog(ctx context.Context) (*vcs.LogResult, error) {
	return p.readLog(ctx, gitbackend.LogOptions{}, false)
}

func (p *Provider) readLog(ctx context.Context, opts gitbackend.LogOptions, withDetails bool) (*vcs.LogResult, error) {
	refs, err := p.backend.ListRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	stream, err := p.backend.StartLogStream(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer closeStream(stream)

	res := &vcs.LogResult{Refs: p.convertRefs(refs)}
	if opts.MaxCount > 0 {
		res.Commits = make([]vcs.TimedCommit, 0, opts.MaxCount)
	}
	for {
		c, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		d, err := p.shortDetails(c)
		if err != nil {
			return nil, err
		}
		res.Commits = append(res.Commits, vcs.TimedCommit{ID: d.ID.Hash, Parents: d.Parents, Timestamp: d.Timestamp})
		if withDetails {
			res.Details = append(res.Details, d)
		}
	}
	slog.Debug("log read",
		slog.String("root", p.Root()),
		slog.Int("commits", len(res.Commits)),
		slog.Int("refs", len(res.Refs)),
	)
	return res, nil
}

func (p *Provider) ReadShortDetails(ctx context.Context, hashes []plumbing.Hash) ([]vcs.ShortDetails, error) {
	commits, err := p.backend.ReadCommits(ctx, hashStrings(hashes))
	if err != nil {
		return nil, fmt.Errorf("read commits: %w", err)
	}
	out := make([]vcs.ShortDetails, 0, len(commits))
	for _, c := range commits {
		d, err := p.shortDetails(c)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (p *Provider) ReadFullDetails(ctx context.Context, hashes []plumbing.Hash) ([]vcs.FullDetails, error) {
	commits, err := p.backend.ReadCommits(ctx, hashStrings(hashes))
	if err != nil {
		return nil, fmt.Errorf("read commits: %w", err)
	}
	out := make([]vcs.FullDetails, len(commits))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(changedPathsConcurrency)
	for i, c := range commits {
		g.Go(func() error {
			short, err := p.shortDetails(c)
			if err != nil {
				return err
			}
			changes, err := p.backend.ChangedPaths(gctx, c.Hash)
			if err != nil {
				return fmt.Errorf("changed paths of %s: %w", c.Hash, err)
			}
			out[i] = vcs.FullDetails{
				ShortDetails: short,
				Committer:    convertSignature(c.Committer),
				Message:      strings.TrimRight(c.Message, "\n"),
				Changes:      convertChanges(changes),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) CurrentUser(ctx context.Context) (*vcs.User, error) {
	user, ok, err := p.backend.ConfigUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("read user: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &vcs.User{Name: user.Name, Email: user.Email}, nil
}

func (p *Provider) ContainingBranches(ctx context.Context, hash plumbing.Hash) ([]string, error) {
	names, err := p.backend.BranchesContaining(ctx, hash.String())
	if err != nil {
		return nil, fmt.Errorf("branches containing %s: %w", hash, err)
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

func closeStream(s gitbackend.LogStream) {
	if err := s.Close(); err != nil {
		slog.Debug("git log stream close", slog.Any("error", err))
	}
}

func hashStrings(hashes []plumbing.Hash) []string {
	out := make([]string, 0, len(hashes))
	seen := make(map[plumbing.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h.String())
	}
	return out
}
