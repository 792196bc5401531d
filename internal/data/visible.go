package data

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-git/go-git/v5/plumbing"
	"golang.org/x/sync/errgroup"

	"github.com/thiagokokada/vcslog/internal/graph"
	"github.com/thiagokokada/vcslog/internal/storage"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// VisiblePack is a data pack seen through a set of filters and a sort order.
type VisiblePack struct {
	pack           *DataPack
	graph          *graph.VisibleGraph
	canRequestMore bool
	filters        vcs.FilterCollection
	sort           graph.SortType
}

func (v *VisiblePack) DataPack() *DataPack {
	return v.pack
}

func (v *VisiblePack) Graph() *graph.VisibleGraph {
	return v.graph
}

// CanRequestMore reports whether a deeper commit count stage may find more matches.
func (v *VisiblePack) CanRequestMore() bool {
	return v.canRequestMore
}

func (v *VisiblePack) Filters() vcs.FilterCollection {
	return v.filters
}

func (v *VisiblePack) Sort() graph.SortType {
	return v.sort
}

const (
	stageGrowth   = 10
	stageMaxLimit = 100_000
)

// CommitCountStage is the number of matches requested from a detail filter. The zero
// value requests every match.
type CommitCountStage struct {
	limit int
}

func FirstStage(limit int) CommitCountStage {
	if limit <= 0 || limit > stageMaxLimit {
		return CommitCountStage{}
	}
	return CommitCountStage{limit: limit}
}

// AllCommitsStage requests every match.
func AllCommitsStage() CommitCountStage {
	return CommitCountStage{}
}

func (s CommitCountStage) Limit() int {
	return s.limit
}

func (s CommitCountStage) IsAll() bool {
	return s.limit == 0
}

// Next grows the limit geometrically, switching to every match past the maximum.
func (s CommitCountStage) Next() CommitCountStage {
	if s.IsAll() {
		return s
	}
	return FirstStage(s.limit * stageGrowth)
}

// VisiblePackBuilder derives visible packs from data packs.
type VisiblePackBuilder struct {
	store storage.Store
	top   *TopCommitsCache
	index *DetailsIndex
	users *userRegistry
}

func (b *VisiblePackBuilder) me(root string) *vcs.User {
	return b.users.Get(root)
}

// Build applies filters to pack. Provider failures while filtering are logged and count
// as no matches; only cancellation of ctx is returned as an error.
func (b *VisiblePackBuilder) Build(ctx context.Context, pack *DataPack, sort graph.SortType, filters vcs.FilterCollection, stage CommitCountStage) (*VisiblePack, error) {
	result := &VisiblePack{pack: pack, filters: filters, sort: sort}

	if filters.Hash != nil && len(filters.Hash.Hashes) > 0 {
		matching := b.hashMatches(pack, filters.Hash)
		result.graph = pack.Graph().Visible(graph.VisibleOptions{Matching: matching, Sort: sort})
		return result, nil
	}

	var heads map[int]struct{}
	switch {
	case filters.Branch != nil:
		heads = pack.Refs().BranchHeads(func(ref vcs.Ref) bool {
			return filters.Branch.Matches(ref.Name) && (filters.Root == nil || filters.Root.Matches(ref.Root))
		})
	case filters.Root != nil:
		heads = pack.Refs().Heads(filters.Root.Roots)
	}
	if heads != nil && len(heads) == 0 {
		result.graph = graph.EmptyVisibleGraph()
		return result, nil
	}

	var matching map[int]struct{}
	if filters.HasDetailsFilters() {
		var err error
		matching, result.canRequestMore, err = b.filterDetails(ctx, pack, heads, filters, stage)
		if err != nil {
			return nil, err
		}
		if len(matching) == 0 {
			result.graph = graph.EmptyVisibleGraph()
			return result, nil
		}
	}

	result.graph = pack.Graph().Visible(graph.VisibleOptions{Heads: heads, Matching: matching, Sort: sort})
	return result, nil
}

func (b *VisiblePackBuilder) hashMatches(pack *DataPack, filter *vcs.HashFilter) map[int]struct{} {
	matching := map[int]struct{}{}
	for index := range pack.Graph().Commits() {
		if filter.Matches(b.store.CommitID(index).Hash) {
			matching[index] = struct{}{}
		}
	}
	return matching
}

func (b *VisiblePackBuilder) filterDetails(ctx context.Context, pack *DataPack, heads map[int]struct{}, filters vcs.FilterCollection, stage CommitCountStage) (map[int]struct{}, bool, error) {
	var reachable map[int]struct{}
	if heads != nil {
		reachable = pack.Graph().ReachableFrom(heads)
	}
	candidate := func(index int) bool {
		if reachable == nil {
			return true
		}
		_, ok := reachable[index]
		return ok
	}

	if matched, complete, ok := b.filterInMemory(pack, filters, stage, candidate); ok {
		slog.Debug("filtered from recent commits", slog.Int("matches", len(matched)), slog.Bool("complete", complete))
		return matched, !complete, nil
	}

	roots := filteredRoots(pack, filters)
	if b.allIndexed(roots) {
		matched := b.index.Filter(func(yield func(int) bool) {
			for index := range pack.Graph().Commits() {
				if candidate(index) && !yield(index) {
					return
				}
			}
		}, filters, b.me)
		slog.Debug("filtered from details index", slog.Int("matches", len(matched)))
		return matched, false, nil
	}

	return b.filterWithProviders(ctx, pack, roots, filters, stage, candidate)
}

// filterInMemory scans the recent commits from the top row and stops at the first row
// the cache does not hold. ok is false when the scan cannot answer the request.
func (b *VisiblePackBuilder) filterInMemory(pack *DataPack, filters vcs.FilterCollection, stage CommitCountStage, candidate func(int) bool) (matched map[int]struct{}, complete bool, ok bool) {
	matched = map[int]struct{}{}
	scanned := 0
	for index := range pack.Graph().Commits() {
		d, cached := b.top.Get(index)
		if !cached {
			break
		}
		scanned++
		if !candidate(index) {
			continue
		}
		if filters.Root != nil && !filters.Root.Matches(d.ID.Root) {
			continue
		}
		match, usable := filters.MatchesShort(d, b.me(d.ID.Root))
		if !usable {
			return nil, false, false
		}
		if match {
			matched[index] = struct{}{}
		}
	}
	if scanned == pack.Graph().Len() {
		return matched, true, true
	}
	if !stage.IsAll() && len(matched) >= stage.Limit() {
		return matched, false, true
	}
	return nil, false, false
}

func (b *VisiblePackBuilder) allIndexed(roots []string) bool {
	if b.index == nil || len(roots) == 0 {
		return false
	}
	for _, root := range roots {
		if !b.index.IsIndexed(root) {
			return false
		}
	}
	return true
}

func (b *VisiblePackBuilder) filterWithProviders(ctx context.Context, pack *DataPack, roots []string, filters vcs.FilterCollection, stage CommitCountStage, candidate func(int) bool) (map[int]struct{}, bool, error) {
	var (
		mu          sync.Mutex
		matched     = map[int]struct{}{}
		requestMore bool
	)
	eg, egCtx := errgroup.WithContext(ctx)
	for _, root := range roots {
		provider, ok := pack.Provider(root)
		if !ok {
			continue
		}
		eg.Go(func() error {
			hashes, err := provider.CommitsMatchingFilter(egCtx, filters, stage.Limit())
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				slog.Error("filter commits", slog.String("root", root), slog.Any("error", err))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if !stage.IsAll() && len(hashes) >= stage.Limit() {
				requestMore = true
			}
			b.collect(matched, pack, root, hashes, candidate)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, false, err
	}
	slog.Debug("filtered with providers", slog.Int("roots", len(roots)), slog.Int("matches", len(matched)))
	return matched, requestMore, nil
}

func (b *VisiblePackBuilder) collect(matched map[int]struct{}, pack *DataPack, root string, hashes []plumbing.Hash, candidate func(int) bool) {
	for _, h := range hashes {
		index := b.store.CommitIndex(vcs.CommitID{Hash: h, Root: root})
		if pack.Graph().Contains(index) && candidate(index) {
			matched[index] = struct{}{}
		}
	}
}

func filteredRoots(pack *DataPack, filters vcs.FilterCollection) []string {
	var roots []string
	for _, root := range pack.Roots() {
		if filters.Root == nil || filters.Root.Matches(root) {
			roots = append(roots, root)
		}
	}
	return roots
}
