package data

import (
	"context"
	"log/slog"
	"slices"

	"github.com/go-git/go-git/v5/plumbing"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/thiagokokada/vcslog/internal/eventloop"
	"github.com/thiagokokada/vcslog/internal/storage"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// Details is either a loaded value or a placeholder for a load in flight.
type Details[T any] struct {
	value  T
	taskID uint64
	ready  bool
}

func Ready[T any](value T) Details[T] {
	return Details[T]{value: value, ready: true}
}

func Pending[T any](taskID uint64) Details[T] {
	return Details[T]{taskID: taskID}
}

func (d Details[T]) IsReady() bool {
	return d.ready
}

func (d Details[T]) Value() (T, bool) {
	return d.value, d.ready
}

// TaskID is the load that will replace a pending placeholder. It is zero for ready values.
func (d Details[T]) TaskID() uint64 {
	return d.taskID
}

type commitDetails interface {
	CommitID() vcs.CommitID
}

type detailsReader[T commitDetails] func(ctx context.Context, provider vcs.LogProvider, hashes []plumbing.Hash) ([]T, error)

func readShortDetails(ctx context.Context, provider vcs.LogProvider, hashes []plumbing.Hash) ([]vcs.ShortDetails, error) {
	return provider.ReadShortDetails(ctx, hashes)
}

func readFullDetails(ctx context.Context, provider vcs.LogProvider, hashes []plumbing.Hash) ([]vcs.FullDetails, error) {
	return provider.ReadFullDetails(ctx, hashes)
}

// DetailsGetter caches commit details by commit index and loads missing ones in the
// background. CommitData, Reload and Clear must be called on the publication loop.
type DetailsGetter[T commitDetails] struct {
	name      string
	ctx       context.Context
	loop      *eventloop.Loop
	store     storage.Store
	providers map[string]vcs.LogProvider
	read      detailsReader[T]
	// resident is consulted before the evicting cache.
	resident func(index int) (T, bool)

	cache        *lru.Cache[int, T]
	placeholders map[int]uint64
	queued       []int
	scheduled    bool
	lastTask     uint64
	listeners    []func([]int)
}

func newDetailsGetter[T commitDetails](ctx context.Context, name string, loop *eventloop.Loop, store storage.Store, providers map[string]vcs.LogProvider, size int, read detailsReader[T]) *DetailsGetter[T] {
	cache, err := lru.New[int, T](max(size, 1))
	if err != nil {
		panic(err)
	}
	return &DetailsGetter[T]{
		name:         name,
		ctx:          ctx,
		loop:         loop,
		store:        store,
		providers:    providers,
		read:         read,
		cache:        cache,
		placeholders: map[int]uint64{},
	}
}

// OnLoaded registers fn to be called on the publication loop with the indices installed
// by each background batch.
func (g *DetailsGetter[T]) OnLoaded(fn func(indices []int)) {
	g.listeners = append(g.listeners, fn)
}

// CommitData returns the cached details of index or a placeholder. A miss queues the
// index for the next batch.
func (g *DetailsGetter[T]) CommitData(index int) Details[T] {
	if v, ok := g.lookup(index); ok {
		return Ready(v)
	}
	if taskID, ok := g.placeholders[index]; ok {
		return Pending[T](taskID)
	}
	return Pending[T](g.request([]int{index}))
}

func (g *DetailsGetter[T]) lookup(index int) (T, bool) {
	if g.resident != nil {
		if v, ok := g.resident(index); ok {
			return v, true
		}
	}
	return g.cache.Get(index)
}

// Reload requests indices again even when a load is already in flight. Results of the
// older loads are discarded.
func (g *DetailsGetter[T]) Reload(indices ...int) uint64 {
	for _, index := range indices {
		g.cache.Remove(index)
	}
	return g.request(indices)
}

// Clear drops cached values and placeholders. Loads in flight are discarded when they
// complete.
func (g *DetailsGetter[T]) Clear() {
	g.cache.Purge()
	clear(g.placeholders)
	g.queued = nil
}

func (g *DetailsGetter[T]) request(indices []int) uint64 {
	if !g.scheduled {
		g.lastTask++
		g.scheduled = true
		g.loop.Post(g.dispatch)
	}
	for _, index := range indices {
		g.placeholders[index] = g.lastTask
		g.queued = append(g.queued, index)
	}
	return g.lastTask
}

// dispatch runs one loop turn after the first request of a batch, so requests made in
// the same turn share a task.
func (g *DetailsGetter[T]) dispatch() {
	g.scheduled = false
	taskID := g.lastTask
	byRoot := map[string][]int{}
	for _, index := range g.queued {
		if g.placeholders[index] != taskID {
			continue
		}
		root := g.store.CommitID(index).Root
		if !slices.Contains(byRoot[root], index) {
			byRoot[root] = append(byRoot[root], index)
		}
	}
	g.queued = nil

	for root, indices := range byRoot {
		provider, ok := g.providers[root]
		if !ok {
			slog.Error("no provider for root", slog.String("root", root))
			g.loop.Post(func() { g.install(taskID, indices, nil) })
			continue
		}
		hashes := make([]plumbing.Hash, 0, len(indices))
		for _, index := range indices {
			hashes = append(hashes, g.store.CommitID(index).Hash)
		}
		slog.Debug("loading commit details",
			slog.String("kind", g.name),
			slog.String("root", root),
			slog.Int("count", len(hashes)),
		)
		go func() {
			values, err := g.read(g.ctx, provider, hashes)
			if err != nil {
				slog.Error("load commit details", slog.String("kind", g.name), slog.String("root", root), slog.Any("error", err))
				values = nil
			}
			g.loop.Post(func() { g.install(taskID, indices, values) })
		}()
	}
}

// install keeps only values whose placeholder still belongs to taskID. Requested indices
// without a value lose their placeholder so a later request retries them.
func (g *DetailsGetter[T]) install(taskID uint64, requested []int, values []T) {
	var installed []int
	for _, v := range values {
		index := g.store.CommitIndex(v.CommitID())
		if current, ok := g.placeholders[index]; !ok || current != taskID {
			continue
		}
		g.cache.Add(index, v)
		delete(g.placeholders, index)
		installed = append(installed, index)
	}
	for _, index := range requested {
		if current, ok := g.placeholders[index]; ok && current == taskID {
			delete(g.placeholders, index)
		}
	}
	if len(installed) == 0 {
		return
	}
	for _, fn := range g.listeners {
		fn(installed)
	}
}

// CommitDataSync returns the details of indices, reading missing ones from the providers
// and waiting for them. It may be called from any goroutine except the publication loop,
// such as a Subscribe callback: the loop would wait on itself until ctx is done.
func (g *DetailsGetter[T]) CommitDataSync(ctx context.Context, indices []int) ([]T, error) {
	found := make(map[int]T, len(indices))
	var missing []int
	if err := g.loop.Call(ctx, func() {
		for _, index := range indices {
			if v, ok := g.lookup(index); ok {
				found[index] = v
			} else {
				missing = append(missing, index)
			}
		}
	}); err != nil {
		return nil, err
	}

	if len(missing) > 0 {
		byRoot := map[string][]plumbing.Hash{}
		for _, index := range missing {
			id := g.store.CommitID(index)
			byRoot[id.Root] = append(byRoot[id.Root], id.Hash)
		}
		results := make([][]T, len(byRoot))
		eg, egCtx := errgroup.WithContext(ctx)
		i := 0
		for root, hashes := range byRoot {
			provider, ok := g.providers[root]
			if !ok {
				continue
			}
			slot := i
			i++
			eg.Go(func() error {
				values, err := g.read(egCtx, provider, hashes)
				if err != nil {
					return err
				}
				results[slot] = values
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return nil, err
		}
		if err := g.loop.Call(ctx, func() {
			for _, values := range results {
				for _, v := range values {
					index := g.store.CommitIndex(v.CommitID())
					found[index] = v
					g.cache.Add(index, v)
					delete(g.placeholders, index)
				}
			}
		}); err != nil {
			return nil, err
		}
	}

	out := make([]T, 0, len(indices))
	for _, index := range indices {
		if v, ok := found[index]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}
