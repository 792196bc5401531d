package graph

import "iter"

// PermanentGraph is the accepted commit graph of a data pack, independent of any filter.
// Nodes are commit indices. It is immutable once built.
type PermanentGraph struct {
	commits  []Commit[int]
	rows     map[int]int
	children map[int][]int

	topological bool
}

// NewPermanentGraph builds a graph whose row order is the order of commits. Parents that
// are not part of commits are kept on the nodes but have no row.
func NewPermanentGraph(commits []Commit[int]) *PermanentGraph {
	g := &PermanentGraph{
		commits:     commits,
		rows:        make(map[int]int, len(commits)),
		children:    make(map[int][]int, len(commits)),
		topological: true,
	}
	for row, c := range commits {
		g.rows[c.ID] = row
	}
	for row, c := range commits {
		for _, p := range c.Parents {
			parentRow, ok := g.rows[p]
			if !ok {
				continue
			}
			if parentRow <= row {
				g.topological = false
			}
			g.children[p] = append(g.children[p], c.ID)
		}
	}
	return g
}

func (g *PermanentGraph) Len() int {
	return len(g.commits)
}

func (g *PermanentGraph) CommitAt(row int) Commit[int] {
	return g.commits[row]
}

func (g *PermanentGraph) Row(index int) (int, bool) {
	row, ok := g.rows[index]
	return row, ok
}

func (g *PermanentGraph) Contains(index int) bool {
	_, ok := g.rows[index]
	return ok
}

func (g *PermanentGraph) Parents(index int) []int {
	row, ok := g.rows[index]
	if !ok {
		return nil
	}
	return g.commits[row].Parents
}

func (g *PermanentGraph) Children(index int) []int {
	return g.children[index]
}

func (g *PermanentGraph) Timestamp(index int) int64 {
	row, ok := g.rows[index]
	if !ok {
		return 0
	}
	return g.commits[row].Timestamp
}

// Commits yields commit indices in row order.
func (g *PermanentGraph) Commits() iter.Seq[int] {
	return func(yield func(int) bool) {
		for _, c := range g.commits {
			if !yield(c.ID) {
				return
			}
		}
	}
}

// SupportsFastReachability reports whether every child row precedes its parents' rows, which
// makes reachability answerable from the loaded commits alone.
func (g *PermanentGraph) SupportsFastReachability() bool {
	return g.topological
}

// Reachable reports whether to is an ancestor of (or equal to) from.
func (g *PermanentGraph) Reachable(from, to int) bool {
	fromRow, ok := g.rows[from]
	if !ok {
		return false
	}
	toRow, ok := g.rows[to]
	if !ok {
		return false
	}
	if from == to {
		return true
	}
	if g.topological && fromRow > toRow {
		return false
	}
	seen := map[int]struct{}{from: {}}
	queue := []int{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, p := range g.Parents(current) {
			if p == to {
				return true
			}
			row, ok := g.rows[p]
			if !ok || (g.topological && row > toRow) {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			queue = append(queue, p)
		}
	}
	return false
}

// HeadsContaining returns the heads from which commit is reachable, walking descendants.
func (g *PermanentGraph) HeadsContaining(commit int, heads map[int]struct{}) map[int]struct{} {
	found := map[int]struct{}{}
	if !g.Contains(commit) {
		return found
	}
	seen := map[int]struct{}{commit: {}}
	queue := []int{commit}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, ok := heads[current]; ok {
			found[current] = struct{}{}
		}
		for _, child := range g.children[current] {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			queue = append(queue, child)
		}
	}
	return found
}

// ReachableFrom returns every loaded commit reachable from heads, heads included.
func (g *PermanentGraph) ReachableFrom(heads map[int]struct{}) map[int]struct{} {
	reached := make(map[int]struct{}, len(heads))
	var queue []int
	for h := range heads {
		if !g.Contains(h) {
			continue
		}
		reached[h] = struct{}{}
		queue = append(queue, h)
	}
	for len(queue) > 0 {
		current := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, p := range g.Parents(current) {
			if _, ok := reached[p]; ok || !g.Contains(p) {
				continue
			}
			reached[p] = struct{}{}
			queue = append(queue, p)
		}
	}
	return reached
}
