// Package data keeps the log of several repository roots in sync with the VCS and
// publishes it as immutable data packs.
//
// Two loops own all mutable state. The refresh worker reads from providers and joins the
// results into the saved logs; the publication loop installs new packs, owns the detail
// caches and notifies subscribers.
package data

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync/atomic"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/errgroup"

	"github.com/thiagokokada/vcslog/internal/config"
	"github.com/thiagokokada/vcslog/internal/eventloop"
	"github.com/thiagokokada/vcslog/internal/graph"
	"github.com/thiagokokada/vcslog/internal/storage"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

type LogData struct {
	cfg       *config.Config
	store     storage.Store
	providers map[string]vcs.LogProvider
	roots     []string

	ctx    context.Context
	cancel context.CancelFunc
	loop   *eventloop.Loop
	worker *eventloop.Loop

	// Owned by the refresh worker.
	logs      map[string][]graph.Commit[int]
	refs      map[string][]vcs.Ref
	fullRoots map[string]bool
	reload    map[string]bool
	seq       uint64

	// Owned by the publication loop.
	pack      *DataPack
	listeners []*Subscription

	current atomic.Pointer[DataPack]

	top        *TopCommitsCache
	users      *userRegistry
	index      *DetailsIndex
	short      *DetailsGetter[vcs.ShortDetails]
	full       *DetailsGetter[vcs.FullDetails]
	containing *ContainingBranchesGetter
	builder    *VisiblePackBuilder
}

// Subscription is a data pack listener registered with Subscribe.
type Subscription struct {
	fn     func(*DataPack)
	closed atomic.Bool
}

func New(cfg *config.Config, store storage.Store, providers ...vcs.LogProvider) *LogData {
	byRoot := make(map[string]vcs.LogProvider, len(providers))
	for _, p := range providers {
		byRoot[p.Root()] = p
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &LogData{
		cfg:       cfg,
		store:     store,
		providers: byRoot,
		roots:     slices.Sorted(maps.Keys(byRoot)),
		ctx:       ctx,
		cancel:    cancel,
		loop:      eventloop.New("publication"),
		worker:    eventloop.New("refresh"),
		logs:      map[string][]graph.Commit[int]{},
		refs:      map[string][]vcs.Ref{},
		fullRoots: map[string]bool{},
		reload:    map[string]bool{},
		top:       NewTopCommitsCache(store, cfg.RecentCommits),
		users:     newUserRegistry(),
		index:     NewDetailsIndex(store),
	}
	d.pack = EmptyDataPack(store, byRoot)
	d.current.Store(d.pack)
	d.short = newDetailsGetter[vcs.ShortDetails](ctx, "short", d.loop, store, byRoot, cfg.DetailsCache, readShortDetails)
	d.short.resident = d.top.Get
	d.full = newDetailsGetter[vcs.FullDetails](ctx, "full", d.loop, store, byRoot, cfg.DetailsCache, readFullDetails)
	d.containing = newContainingBranchesGetter(ctx, d.loop, store, d.pack, cfg.ContainingCache, cfg.ContainingQueue)
	d.builder = &VisiblePackBuilder{store: store, top: d.top, index: d.index, users: d.users}
	return d
}

func (d *LogData) Roots() []string {
	return d.roots
}

func (d *LogData) Store() storage.Store {
	return d.store
}

// Loop is the publication loop. Callbacks that touch caches must run on it.
func (d *LogData) Loop() *eventloop.Loop {
	return d.loop
}

// DataPack returns the latest published pack. It is safe to call from any goroutine.
func (d *LogData) DataPack() *DataPack {
	return d.current.Load()
}

// Subscribe registers fn to be called on the publication loop with the current pack and
// then after each new pack.
func (d *LogData) Subscribe(fn func(*DataPack)) *Subscription {
	s := &Subscription{fn: fn}
	d.loop.Post(func() {
		d.listeners = append(d.listeners, s)
		if !s.closed.Load() {
			s.fn(d.pack)
		}
	})
	return s
}

func (d *LogData) Unsubscribe(s *Subscription) {
	s.closed.Store(true)
	d.loop.Post(func() {
		d.listeners = slices.DeleteFunc(d.listeners, func(l *Subscription) bool { return l == s })
	})
}

// Initialize reads the first block of every root and returns once it is published. The
// full history is then loaded in the background.
func (d *LogData) Initialize(ctx context.Context) error {
	var err error
	if callErr := d.worker.Call(ctx, func() { err = d.initialize(ctx) }); callErr != nil {
		return callErr
	}
	if err != nil {
		return err
	}
	d.worker.Post(func() { d.loadFullLogs(d.ctx) })
	// The first pack was posted before the full log; wait until it is installed.
	return d.loop.Flush(ctx)
}

func (d *LogData) initialize(ctx context.Context) error {
	d.readCurrentUsers(ctx)
	results, err := d.readAll(ctx, d.roots, func(ctx context.Context, p vcs.LogProvider) (*vcs.LogResult, error) {
		return p.ReadFirstBlock(ctx, d.cfg.FirstBlock)
	})
	if err != nil {
		return err
	}
	var fresh []vcs.ShortDetails
	for _, root := range d.roots {
		res := results[root]
		d.logs[root] = d.indexCommits(root, res.Commits)
		d.refs[root] = res.Refs
		d.fullRoots[root] = false
		fresh = append(fresh, res.Details...)
	}
	slog.Debug("initialized log", slog.Int("roots", len(d.roots)))
	d.publish(fresh)
	return nil
}

func (d *LogData) readCurrentUsers(ctx context.Context) {
	for _, root := range d.roots {
		user, err := d.providers[root].CurrentUser(ctx)
		if err != nil {
			slog.Info("current user unavailable", slog.String("root", root), slog.Any("error", err))
			continue
		}
		if user == nil {
			slog.Info("no current user configured", slog.String("root", root))
			continue
		}
		d.users.set(root, *user)
	}
}

func (d *LogData) loadFullLogs(ctx context.Context) {
	var roots []string
	for _, root := range d.roots {
		if !d.fullRoots[root] {
			roots = append(roots, root)
		}
	}
	if len(roots) == 0 {
		return
	}
	if err := d.readFullLogs(ctx, roots); err != nil {
		slog.Error("load full log", slog.Any("error", err))
		return
	}
	d.publish(nil)
}

func (d *LogData) readFullLogs(ctx context.Context, roots []string) error {
	results, err := d.readAll(ctx, roots, func(ctx context.Context, p vcs.LogProvider) (*vcs.LogResult, error) {
		return p.ReadFullLog(ctx)
	})
	if err != nil {
		return err
	}
	for _, root := range roots {
		res := results[root]
		d.logs[root] = d.indexCommits(root, res.Commits)
		d.refs[root] = res.Refs
		d.fullRoots[root] = true
		delete(d.reload, root)
		slog.Debug("loaded full log", slog.String("root", root), slog.Int("commits", len(res.Commits)))
	}
	return nil
}

// Refresh rereads the given roots, or every root when none is given. Roots whose saved
// log cannot anchor the new commits are reloaded entirely.
func (d *LogData) Refresh(roots ...string) {
	if len(roots) == 0 {
		roots = d.roots
	}
	d.worker.Post(func() { d.refresh(d.ctx, roots, false) })
}

// RefreshSoftly rereads only the first block of every root. A root that cannot be
// joined keeps its saved log, is listed by DataPack.PendingReload and is reloaded entirely
// by the next Refresh of that root.
func (d *LogData) RefreshSoftly() {
	d.worker.Post(func() { d.refresh(d.ctx, d.roots, true) })
}

// refresh leaves the saved logs untouched when any root fails to join.
func (d *LogData) refresh(ctx context.Context, roots []string, soft bool) {
	roots = slices.DeleteFunc(slices.Clone(roots), func(root string) bool {
		_, ok := d.providers[root]
		return !ok
	})
	if len(roots) == 0 {
		return
	}
	results, err := d.readAll(ctx, roots, func(ctx context.Context, p vcs.LogProvider) (*vcs.LogResult, error) {
		return p.ReadFirstBlock(ctx, d.cfg.FirstBlock)
	})
	if err != nil {
		slog.Error("refresh", slog.Any("error", err))
		return
	}

	logs := maps.Clone(d.logs)
	refsByRoot := maps.Clone(d.refs)
	var reload []string
	var fresh []vcs.ShortDetails
	for _, root := range roots {
		res := results[root]
		fresh = append(fresh, res.Details...)
		saved := d.logs[root]
		if len(saved) == 0 || d.reload[root] {
			reload = append(reload, root)
			continue
		}
		merged, added, err := graph.Join(saved, d.refIndices(root, d.refs[root]), d.indexCommits(root, res.Commits), d.refIndices(root, res.Refs))
		if errors.Is(err, graph.ErrNotEnoughData) {
			slog.Warn("saved log cannot anchor first block, reloading history", slog.String("root", root), slog.Bool("deferred", soft))
			reload = append(reload, root)
			continue
		}
		if err != nil {
			slog.Error("join first block", slog.String("root", root), slog.Any("error", err))
			return
		}
		slog.Debug("joined first block", slog.String("root", root), slog.Int("added", added))
		logs[root] = merged
		refsByRoot[root] = res.Refs
	}

	if soft {
		for _, root := range reload {
			d.reload[root] = true
		}
		reload = nil
	}
	d.logs, d.refs = logs, refsByRoot
	if len(reload) > 0 {
		if err := d.readFullLogs(ctx, reload); err != nil {
			slog.Error("reload full log", slog.Any("error", err))
		}
	}
	d.publish(fresh)
}

type readFunc func(ctx context.Context, p vcs.LogProvider) (*vcs.LogResult, error)

func (d *LogData) readAll(ctx context.Context, roots []string, read readFunc) (map[string]*vcs.LogResult, error) {
	results := make([]*vcs.LogResult, len(roots))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, root := range roots {
		provider := d.providers[root]
		eg.Go(func() error {
			res, err := read(egCtx, provider)
			if err != nil {
				return errors.WithContext(errors.Wrap(err, errors.CodeExecutionFailed, "failed to read log"), "root", root)
			}
			results[i] = normalizeResult(root, res)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	byRoot := make(map[string]*vcs.LogResult, len(roots))
	for i, root := range roots {
		byRoot[root] = results[i]
	}
	return byRoot, nil
}

func normalizeResult(root string, res *vcs.LogResult) *vcs.LogResult {
	if res == nil {
		return &vcs.LogResult{}
	}
	out := &vcs.LogResult{
		Commits: res.Commits,
		Refs:    make([]vcs.Ref, len(res.Refs)),
		Details: make([]vcs.ShortDetails, len(res.Details)),
	}
	for i, ref := range res.Refs {
		ref.Root = root
		out.Refs[i] = ref
	}
	for i, detail := range res.Details {
		detail.ID.Root = root
		out.Details[i] = detail
	}
	return out
}

func (d *LogData) indexCommits(root string, commits []vcs.TimedCommit) []graph.Commit[int] {
	out := make([]graph.Commit[int], len(commits))
	for i, c := range commits {
		parents := make([]int, len(c.Parents))
		for j, p := range c.Parents {
			parents[j] = d.store.CommitIndex(vcs.CommitID{Hash: p, Root: root})
		}
		out[i] = graph.Commit[int]{
			ID:        d.store.CommitIndex(vcs.CommitID{Hash: c.ID, Root: root}),
			Parents:   parents,
			Timestamp: c.Timestamp,
		}
	}
	return out
}

func (d *LogData) refIndices(root string, refs []vcs.Ref) []int {
	seen := make(map[int]struct{}, len(refs))
	out := make([]int, 0, len(refs))
	for _, ref := range refs {
		index := d.store.CommitIndex(vcs.CommitID{Hash: ref.Hash, Root: root})
		if _, ok := seen[index]; ok {
			continue
		}
		seen[index] = struct{}{}
		out = append(out, index)
	}
	return out
}

// publish builds a pack from the saved logs and hands it to the publication loop.
func (d *LogData) publish(fresh []vcs.ShortDetails) {
	full := len(d.roots) > 0
	for _, root := range d.roots {
		full = full && d.fullRoots[root]
	}
	pack := BuildDataPack(d.store, d.providers, d.logs, d.refs, full)
	for _, root := range d.roots {
		if d.reload[root] {
			pack.reload = append(pack.reload, root)
		}
	}
	d.seq++
	pack.seq = d.seq
	if err := d.store.Flush(); err != nil {
		slog.Error("flush identity store", slog.Any("error", err))
	}
	slog.Debug("publishing data pack",
		slog.Uint64("seq", pack.seq),
		slog.Int("commits", pack.Graph().Len()),
		slog.Bool("full", full),
	)
	d.loop.Post(func() { d.install(pack, fresh) })
}

func (d *LogData) install(pack *DataPack, fresh []vcs.ShortDetails) {
	if pack.seq <= d.pack.seq {
		return
	}
	d.pack = pack
	d.current.Store(pack)
	d.top.update(pack, fresh)
	d.containing.dataPackChanged(pack)
	for _, root := range d.index.dataPackChanged(pack) {
		slog.Debug("details index out of date", slog.String("root", root))
		d.worker.Post(func() {
			if err := d.IndexRoot(d.ctx, root); err != nil {
				slog.Error("reindex root", slog.String("root", root), slog.Any("error", err))
			}
		})
	}
	for _, s := range slices.Clone(d.listeners) {
		if !s.closed.Load() {
			s.fn(pack)
		}
	}
}

// BuildVisiblePack applies filters to pack.
func (d *LogData) BuildVisiblePack(ctx context.Context, pack *DataPack, sort graph.SortType, filters vcs.FilterCollection, stage CommitCountStage) (*VisiblePack, error) {
	return d.builder.Build(ctx, pack, sort, filters, stage)
}

// CommitData returns the full details of index. Call on the publication loop.
func (d *LogData) CommitData(index int) Details[vcs.FullDetails] {
	return d.full.CommitData(index)
}

// ShortCommitData returns the short details of index. Call on the publication loop.
func (d *LogData) ShortCommitData(index int) Details[vcs.ShortDetails] {
	return d.short.CommitData(index)
}

func (d *LogData) ShortDetails() *DetailsGetter[vcs.ShortDetails] {
	return d.short
}

func (d *LogData) FullDetails() *DetailsGetter[vcs.FullDetails] {
	return d.full
}

func (d *LogData) TopCommits() *TopCommitsCache {
	return d.top
}

func (d *LogData) DetailsIndex() *DetailsIndex {
	return d.index
}

func (d *LogData) ContainingBranches(root string, hash plumbing.Hash) ([]string, bool) {
	return d.containing.ContainingBranches(root, hash)
}

func (d *LogData) ContainingBranchesSynchronously(ctx context.Context, root string, hash plumbing.Hash) ([]string, error) {
	return d.containing.ContainingBranchesSynchronously(ctx, root, hash)
}

func (d *LogData) ContainedInBranchCondition(branch, root string) *BranchCondition {
	return d.containing.ContainedInBranchCondition(branch, root)
}

func (d *LogData) Containing() *ContainingBranchesGetter {
	return d.containing
}

// ReloadPending subscribes a listener that refreshes, once per occurrence, every root a
// published pack lists as pending reload. Unsubscribe the result to stop it.
func (d *LogData) ReloadPending() *Subscription {
	requested := map[string]bool{}
	return d.Subscribe(func(pack *DataPack) {
		pending := pack.PendingReload()
		for root := range requested {
			if !slices.Contains(pending, root) {
				delete(requested, root)
			}
		}
		var roots []string
		for _, root := range pending {
			if !requested[root] {
				requested[root] = true
				roots = append(roots, root)
			}
		}
		if len(roots) > 0 {
			slog.Info("reloading history", slog.Any("roots", roots))
			d.Refresh(roots...)
		}
	})
}

// IndexRoot loads the full details of every commit of root into the details index. An
// indexed root stays indexed: commits added by later packs are indexed in the background.
// It must not be called from the publication loop.
func (d *LogData) IndexRoot(ctx context.Context, root string) error {
	return d.index.indexRoot(ctx, d.loop, d.DataPack, root, d.cfg.IndexBatch)
}

// Close cancels background reads and stops both loops.
func (d *LogData) Close() error {
	d.cancel()
	d.worker.Close()
	d.containing.close()
	d.loop.Close()
	return d.store.Flush()
}
