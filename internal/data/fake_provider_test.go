package data

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/thiagokokada/vcslog/internal/config"
	"github.com/thiagokokada/vcslog/internal/storage"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// h returns a hash whose leading byte is n, so short hashes differ.
func h(n int) plumbing.Hash {
	return plumbing.NewHash(fmt.Sprintf("%02x%038x", n, n))
}

func tc(n int, parents ...int) vcs.TimedCommit {
	ps := make([]plumbing.Hash, 0, len(parents))
	for _, p := range parents {
		ps = append(ps, h(p))
	}
	return vcs.TimedCommit{ID: h(n), Parents: ps, Timestamp: int64(n * 10)}
}

func branch(name string, n int) vcs.Ref {
	return vcs.Ref{Name: name, Hash: h(n), Type: vcs.RefTypeBranch}
}

// linearHistory returns commits n..1, each the parent of the next.
func linearHistory(n int) []vcs.TimedCommit {
	var out []vcs.TimedCommit
	for i := n; i >= 1; i-- {
		if i == 1 {
			out = append(out, tc(1))
		} else {
			out = append(out, tc(i, i-1))
		}
	}
	return out
}

type fakeProvider struct {
	root string

	mu      sync.Mutex
	commits []vcs.TimedCommit
	refs    []vcs.Ref
	authors map[plumbing.Hash]string
	user    *vcs.User

	readShortFn  func(ctx context.Context, hashes []plumbing.Hash) ([]vcs.ShortDetails, error)
	filterFn     func(ctx context.Context, filters vcs.FilterCollection, limit int) ([]plumbing.Hash, error)
	containingFn func(ctx context.Context, hash plumbing.Hash) ([]string, error)
	userErr      error

	calls map[string]int
}

func newFakeProvider(root string, commits []vcs.TimedCommit, refs ...vcs.Ref) *fakeProvider {
	return &fakeProvider{root: root, commits: commits, refs: refs, authors: map[plumbing.Hash]string{}, calls: map[string]int{}}
}

func (p *fakeProvider) set(commits []vcs.TimedCommit, refs ...vcs.Ref) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commits = commits
	p.refs = refs
}

func (p *fakeProvider) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *fakeProvider) Root() string { return p.root }

func (p *fakeProvider) short(c vcs.TimedCommit) vcs.ShortDetails {
	author := p.authors[c.ID]
	if author == "" {
		author = "alice"
	}
	return vcs.ShortDetails{
		ID:        vcs.CommitID{Hash: c.ID, Root: p.root},
		Parents:   c.Parents,
		Author:    vcs.Signature{Name: author, Email: author + "@example.com", When: time.Unix(c.Timestamp, 0)},
		Subject:   "commit " + c.ID.String()[:8],
		Timestamp: c.Timestamp,
	}
}

func (p *fakeProvider) full(c vcs.TimedCommit) vcs.FullDetails {
	s := p.short(c)
	return vcs.FullDetails{
		ShortDetails: s,
		Committer:    s.Author,
		Message:      s.Subject + "\n\nbody",
		Changes:      []vcs.Change{{Kind: vcs.ChangeModified, Path: "dir/" + c.ID.String()[:4]}},
	}
}

func (p *fakeProvider) result(commits []vcs.TimedCommit) *vcs.LogResult {
	res := &vcs.LogResult{Commits: slices.Clone(commits), Refs: slices.Clone(p.refs)}
	for _, c := range commits {
		res.Details = append(res.Details, p.short(c))
	}
	return res
}

func (p *fakeProvider) ReadFirstBlock(_ context.Context, count int) (*vcs.LogResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["first"]++
	return p.result(p.commits[:min(count, len(p.commits))]), nil
}

func (p *fakeProvider) ReadFullLog(context.Context) (*vcs.LogResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["full"]++
	return p.result(p.commits), nil
}

func (p *fakeProvider) CommitsMatchingFilter(ctx context.Context, filters vcs.FilterCollection, limit int) ([]plumbing.Hash, error) {
	p.mu.Lock()
	p.calls["filter"]++
	fn := p.filterFn
	commits := slices.Clone(p.commits)
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, filters, limit)
	}
	var out []plumbing.Hash
	for _, c := range commits {
		if limit > 0 && len(out) >= limit {
			break
		}
		if filters.MatchesFull(p.full(c), p.user) {
			out = append(out, c.ID)
		}
	}
	return out, nil
}

func (p *fakeProvider) lookup(hashes []plumbing.Hash) []vcs.TimedCommit {
	var out []vcs.TimedCommit
	for _, hash := range hashes {
		for _, c := range p.commits {
			if c.ID == hash {
				out = append(out, c)
			}
		}
	}
	return out
}

func (p *fakeProvider) ReadShortDetails(ctx context.Context, hashes []plumbing.Hash) ([]vcs.ShortDetails, error) {
	p.mu.Lock()
	p.calls["short"]++
	fn := p.readShortFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, hashes)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []vcs.ShortDetails
	for _, c := range p.lookup(hashes) {
		out = append(out, p.short(c))
	}
	return out, nil
}

func (p *fakeProvider) ReadFullDetails(_ context.Context, hashes []plumbing.Hash) ([]vcs.FullDetails, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["fullDetails"]++
	var out []vcs.FullDetails
	for _, c := range p.lookup(hashes) {
		out = append(out, p.full(c))
	}
	return out, nil
}

func (p *fakeProvider) CurrentUser(context.Context) (*vcs.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user, p.userErr
}

func (p *fakeProvider) ContainingBranches(ctx context.Context, hash plumbing.Hash) ([]string, error) {
	p.mu.Lock()
	p.calls["containing"]++
	fn := p.containingFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, hash)
	}
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		FirstBlock:         2,
		RecentCommits:      100,
		DetailsCache:       100,
		ContainingCache:    10,
		ContainingQueue:    10,
		IndexBatch:         2,
		FilterCommitsLimit: 100,
	}
}

// newTestLogData returns LogData over providers with a channel receiving every pack
// published after the initial empty one.
func newTestLogData(t *testing.T, cfg *config.Config, providers ...vcs.LogProvider) (*LogData, <-chan *DataPack) {
	t.Helper()
	d := New(cfg, storage.NewMemory(), providers...)
	packs := make(chan *DataPack, 64)
	d.Subscribe(func(p *DataPack) {
		if p.Seq() > 0 {
			packs <- p
		}
	})
	t.Cleanup(func() { _ = d.Close() })
	return d, packs
}

func waitPack(t *testing.T, packs <-chan *DataPack, pred func(*DataPack) bool) *DataPack {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case p := <-packs:
			if pred(p) {
				return p
			}
		case <-timeout:
			t.Fatal("timed out waiting for data pack")
			return nil
		}
	}
}

// hashes returns the commit hashes of pack rows.
func hashes(d *LogData, pack *DataPack) []plumbing.Hash {
	var out []plumbing.Hash
	for index := range pack.Graph().Commits() {
		out = append(out, d.Store().CommitID(index).Hash)
	}
	return out
}

func hs(ns ...int) []plumbing.Hash {
	out := make([]plumbing.Hash, 0, len(ns))
	for _, n := range ns {
		out = append(out, h(n))
	}
	return out
}

// onLoop runs fn on the publication loop and waits for it.
func onLoop(t *testing.T, d *LogData, fn func()) {
	t.Helper()
	if err := d.Loop().Call(context.Background(), fn); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
}
