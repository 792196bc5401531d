package data

import (
	"maps"
	"slices"

	"github.com/thiagokokada/vcslog/internal/graph"
	"github.com/thiagokokada/vcslog/internal/refs"
	"github.com/thiagokokada/vcslog/internal/storage"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// DataPack is an immutable snapshot of the whole log: the permanent graph of every root
// and its refs. A new pack replaces the previous one on every successful refresh.
type DataPack struct {
	seq       uint64
	providers map[string]vcs.LogProvider
	graph     *graph.PermanentGraph
	refs      *refs.Model
	full      bool
	reload    []string
}

// BuildDataPack merges the per-root logs into one permanent graph. logs are newest-first
// lists of commit indices.
func BuildDataPack(store storage.Store, providers map[string]vcs.LogProvider, logs map[string][]graph.Commit[int], refsByRoot map[string][]vcs.Ref, full bool) *DataPack {
	roots := slices.Sorted(maps.Keys(logs))
	perRoot := make([][]graph.Commit[int], 0, len(roots))
	for _, root := range roots {
		perRoot = append(perRoot, logs[root])
	}
	compressed := make(map[string]*refs.CompressedRefs, len(refsByRoot))
	for root, rs := range refsByRoot {
		compressed[root] = refs.NewCompressedRefs(root, rs, store)
	}
	return &DataPack{
		providers: providers,
		graph:     graph.NewPermanentGraph(graph.MergeRoots(perRoot...)),
		refs:      refs.NewModel(store, compressed),
		full:      full,
	}
}

// EmptyDataPack is the pack published before the first refresh.
func EmptyDataPack(store storage.Store, providers map[string]vcs.LogProvider) *DataPack {
	return &DataPack{
		providers: providers,
		graph:     graph.NewPermanentGraph(nil),
		refs:      refs.EmptyModel(store),
	}
}

// Seq orders publications; a later pack always has a greater sequence number.
func (p *DataPack) Seq() uint64 {
	return p.seq
}

func (p *DataPack) Graph() *graph.PermanentGraph {
	return p.graph
}

func (p *DataPack) Refs() *refs.Model {
	return p.refs
}

// IsFull reports whether the whole history of every root is loaded.
func (p *DataPack) IsFull() bool {
	return p.full
}

// PendingReload lists the roots whose saved log could not anchor the commits read by a
// soft refresh. Their history stays as it was until a Refresh reloads it.
func (p *DataPack) PendingReload() []string {
	return p.reload
}

func (p *DataPack) Provider(root string) (vcs.LogProvider, bool) {
	provider, ok := p.providers[root]
	return provider, ok
}

func (p *DataPack) Roots() []string {
	return slices.Sorted(maps.Keys(p.providers))
}

func (p *DataPack) IsEmpty() bool {
	return p.graph.Len() == 0
}
