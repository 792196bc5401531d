package data

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/go-git/go-git/v5/plumbing"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/thiagokokada/vcslog/internal/eventloop"
	"github.com/thiagokokada/vcslog/internal/graph"
	"github.com/thiagokokada/vcslog/internal/storage"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// ContainingBranchesGetter answers which branches contain a commit. Answers are computed
// on a bounded LIFO queue and cached until the branch set changes. Methods without a
// context must be called on the publication loop.
type ContainingBranchesGetter struct {
	ctx   context.Context
	loop  *eventloop.Loop
	store storage.Store
	queue *eventloop.LIFOQueue

	cache      *lru.Cache[vcs.CommitID, []string]
	pack       *DataPack
	checksum   uint64
	generation atomic.Uint64
	conditions map[string][]*BranchCondition
	listeners  []func(vcs.CommitID)
}

func newContainingBranchesGetter(ctx context.Context, loop *eventloop.Loop, store storage.Store, pack *DataPack, cacheSize, queueDepth int) *ContainingBranchesGetter {
	cache, err := lru.New[vcs.CommitID, []string](max(cacheSize, 1))
	if err != nil {
		panic(err)
	}
	return &ContainingBranchesGetter{
		ctx:        ctx,
		loop:       loop,
		store:      store,
		queue:      eventloop.NewLIFOQueue(queueDepth),
		cache:      cache,
		pack:       pack,
		checksum:   pack.Refs().BranchesChecksum(),
		conditions: map[string][]*BranchCondition{},
	}
}

// OnLoaded registers fn to be called on the publication loop when an answer is cached.
func (g *ContainingBranchesGetter) OnLoaded(fn func(vcs.CommitID)) {
	g.listeners = append(g.listeners, fn)
}

// ContainingBranches returns the sorted branch names containing the commit, or false
// when the answer is not known yet. In that case it is computed in the background.
func (g *ContainingBranchesGetter) ContainingBranches(root string, hash plumbing.Hash) ([]string, bool) {
	id := vcs.CommitID{Hash: hash, Root: root}
	if branches, ok := g.cache.Get(id); ok {
		return branches, true
	}
	pack := g.pack
	gen := g.generation.Load()
	g.queue.Submit(func() {
		branches, err := g.compute(g.ctx, pack, id)
		g.loop.Post(func() {
			if gen != g.generation.Load() {
				return
			}
			if err != nil {
				slog.Error("containing branches", slog.String("commit", id.String()), slog.Any("error", err))
				return
			}
			g.cache.Add(id, branches)
			for _, fn := range g.listeners {
				fn(id)
			}
		})
	})
	return nil, false
}

// ContainingBranchesSynchronously computes the answer on the calling goroutine, which must
// not be the publication loop.
func (g *ContainingBranchesGetter) ContainingBranchesSynchronously(ctx context.Context, root string, hash plumbing.Hash) ([]string, error) {
	id := vcs.CommitID{Hash: hash, Root: root}
	var (
		pack     *DataPack
		gen      uint64
		branches []string
		cached   bool
	)
	if err := g.loop.Call(ctx, func() {
		branches, cached = g.cache.Get(id)
		pack = g.pack
		gen = g.generation.Load()
	}); err != nil {
		return nil, err
	}
	if cached {
		return branches, nil
	}
	branches, err := g.compute(ctx, pack, id)
	if err != nil {
		return nil, err
	}
	g.loop.Post(func() {
		if gen == g.generation.Load() {
			g.cache.Add(id, branches)
		}
	})
	return branches, nil
}

func (g *ContainingBranchesGetter) compute(ctx context.Context, pack *DataPack, id vcs.CommitID) ([]string, error) {
	index := g.store.CommitIndex(id)
	permanent := pack.Graph()
	var branches []string
	if permanent.SupportsFastReachability() && permanent.Contains(index) {
		compressed, ok := pack.Refs().ByRoot(id.Root)
		if !ok {
			return nil, nil
		}
		heads := map[int]struct{}{}
		for head := range compressed.BranchCommits() {
			heads[head] = struct{}{}
		}
		for head := range permanent.HeadsContaining(index, heads) {
			for _, ref := range compressed.RefsToCommit(head) {
				if ref.Type.IsBranch() {
					branches = append(branches, ref.Name)
				}
			}
		}
	} else {
		provider, ok := pack.Provider(id.Root)
		if !ok {
			return nil, nil
		}
		var err error
		branches, err = provider.ContainingBranches(ctx, id.Hash)
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(branches)
	return slices.Compact(branches), nil
}

// ContainedInBranchCondition returns a predicate telling whether a commit of root is
// contained in branch. The predicate turns false for good once the branch set changes.
func (g *ContainingBranchesGetter) ContainedInBranchCondition(branch, root string) *BranchCondition {
	c := &BranchCondition{branch: branch, root: root, graph: g.pack.Graph(), store: g.store}
	c.heads = g.pack.Refs().BranchHeads(func(ref vcs.Ref) bool {
		return ref.Root == root && ref.Name == branch
	})
	g.conditions[root] = append(g.conditions[root], c)
	return c
}

// dataPackChanged resets every answer when the branches of the new pack differ.
func (g *ContainingBranchesGetter) dataPackChanged(pack *DataPack) {
	g.pack = pack
	checksum := pack.Refs().BranchesChecksum()
	if checksum == g.checksum {
		return
	}
	slog.Debug("branches changed, resetting containing branches")
	g.checksum = checksum
	g.generation.Add(1)
	g.queue.Clear()
	g.cache.Purge()
	for root, conditions := range g.conditions {
		for _, c := range conditions {
			c.invalidated.Store(true)
		}
		delete(g.conditions, root)
	}
}

func (g *ContainingBranchesGetter) close() {
	g.queue.Close()
}

// BranchCondition is a reusable "contained in branch" predicate bound to one data pack.
type BranchCondition struct {
	branch      string
	root        string
	graph       *graph.PermanentGraph
	store       storage.Store
	heads       map[int]struct{}
	invalidated atomic.Bool
}

func (c *BranchCondition) Branch() string {
	return c.branch
}

// Valid is false once the branch set has changed since the condition was created.
func (c *BranchCondition) Valid() bool {
	return !c.invalidated.Load()
}

// Contains reports whether the commit is reachable from the branch.
func (c *BranchCondition) Contains(hash plumbing.Hash) bool {
	if c.invalidated.Load() {
		return false
	}
	index := c.store.CommitIndex(vcs.CommitID{Hash: hash, Root: c.root})
	for head := range c.heads {
		if c.graph.Reachable(head, index) {
			return true
		}
	}
	return false
}
