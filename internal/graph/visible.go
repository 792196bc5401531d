package graph

import (
	"cmp"
	"iter"
	"slices"
)

type SortType uint8

const (
	// SortLinear keeps the permanent graph order.
	SortLinear SortType = iota
	// SortDate orders rows by timestamp, newest first.
	SortDate
)

func (s SortType) String() string {
	if s == SortDate {
		return "date"
	}
	return "linear"
}

func SortTypeFromString(s string) SortType {
	if s == "date" {
		return SortDate
	}
	return SortLinear
}

// VisibleOptions restricts a visible graph. A nil set does not restrict.
type VisibleOptions struct {
	Heads    map[int]struct{}
	Matching map[int]struct{}
	Sort     SortType
}

// VisibleGraph is a filtered, possibly reordered view of a permanent graph.
type VisibleGraph struct {
	rows  []int
	rowOf map[int]int
}

var emptyVisibleGraph = &VisibleGraph{rowOf: map[int]int{}}

// EmptyVisibleGraph returns the canonical graph with no rows.
func EmptyVisibleGraph() *VisibleGraph {
	return emptyVisibleGraph
}

func (g *PermanentGraph) Visible(opts VisibleOptions) *VisibleGraph {
	if (opts.Heads != nil && len(opts.Heads) == 0) || (opts.Matching != nil && len(opts.Matching) == 0) {
		return EmptyVisibleGraph()
	}
	var reachable map[int]struct{}
	if opts.Heads != nil {
		reachable = g.ReachableFrom(opts.Heads)
	}
	var rows []int
	for _, c := range g.commits {
		if reachable != nil {
			if _, ok := reachable[c.ID]; !ok {
				continue
			}
		}
		if opts.Matching != nil {
			if _, ok := opts.Matching[c.ID]; !ok {
				continue
			}
		}
		rows = append(rows, c.ID)
	}
	if len(rows) == 0 {
		return EmptyVisibleGraph()
	}
	if opts.Sort == SortDate {
		slices.SortStableFunc(rows, func(a, b int) int {
			return cmp.Compare(g.Timestamp(b), g.Timestamp(a))
		})
	}
	vg := &VisibleGraph{rows: rows, rowOf: make(map[int]int, len(rows))}
	for i, id := range rows {
		vg.rowOf[id] = i
	}
	return vg
}

func (g *VisibleGraph) Len() int {
	return len(g.rows)
}

func (g *VisibleGraph) CommitAt(row int) int {
	return g.rows[row]
}

func (g *VisibleGraph) Row(index int) (int, bool) {
	row, ok := g.rowOf[index]
	return row, ok
}

func (g *VisibleGraph) Commits() iter.Seq[int] {
	return slices.Values(g.rows)
}
