package graph

import (
	"slices"
	"testing"
)

func ic(id int, ts int64, parents ...int) Commit[int] {
	return Commit[int]{ID: id, Parents: parents, Timestamp: ts}
}

// 5 merges 4 (feature) into 3; 4 branches from 2.
func sampleGraph() *PermanentGraph {
	return NewPermanentGraph([]Commit[int]{
		ic(5, 50, 3, 4),
		ic(4, 40, 2),
		ic(3, 30, 2),
		ic(2, 20, 1),
		ic(1, 10),
	})
}

func TestMergeRoots(t *testing.T) {
	t.Parallel()

	a := []Commit[int]{ic(1, 30), ic(2, 10)}
	b := []Commit[int]{ic(3, 40), ic(4, 20), ic(5, 5)}
	var got []int
	for _, c := range MergeRoots(a, b) {
		got = append(got, c.ID)
	}
	if want := []int{3, 1, 4, 2, 5}; !slices.Equal(got, want) {
		t.Fatalf("MergeRoots() = %v, want %v", got, want)
	}
}

func TestPermanentGraph_Reachable(t *testing.T) {
	t.Parallel()

	g := sampleGraph()
	if !g.SupportsFastReachability() {
		t.Fatal("expected topological graph")
	}
	tests := []struct {
		from, to int
		want     bool
	}{
		{5, 1, true},
		{5, 4, true},
		{3, 4, false},
		{4, 3, false},
		{2, 5, false},
		{2, 2, true},
		{9, 1, false},
	}
	for _, tt := range tests {
		if got := g.Reachable(tt.from, tt.to); got != tt.want {
			t.Fatalf("Reachable(%d, %d) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPermanentGraph_NonTopological(t *testing.T) {
	t.Parallel()

	g := NewPermanentGraph([]Commit[int]{ic(1, 10), ic(2, 20, 1)})
	if g.SupportsFastReachability() {
		t.Fatal("expected non-topological graph")
	}
	if !g.Reachable(2, 1) {
		t.Fatal("Reachable(2, 1) = false, want true")
	}
}

func TestPermanentGraph_HeadsContaining(t *testing.T) {
	t.Parallel()

	g := sampleGraph()
	heads := map[int]struct{}{3: {}, 4: {}}
	got := g.HeadsContaining(2, heads)
	if len(got) != 2 {
		t.Fatalf("HeadsContaining(2) = %v, want both heads", got)
	}
	got = g.HeadsContaining(4, heads)
	if _, ok := got[4]; !ok || len(got) != 1 {
		t.Fatalf("HeadsContaining(4) = %v, want only 4", got)
	}
}

func TestVisible_HeadsAndMatching(t *testing.T) {
	t.Parallel()

	g := sampleGraph()
	vg := g.Visible(VisibleOptions{Heads: map[int]struct{}{3: {}}})
	if got := slices.Collect(vg.Commits()); !slices.Equal(got, []int{3, 2, 1}) {
		t.Fatalf("rows = %v, want [3 2 1]", got)
	}

	vg = g.Visible(VisibleOptions{Matching: map[int]struct{}{4: {}, 1: {}}})
	if got := slices.Collect(vg.Commits()); !slices.Equal(got, []int{4, 1}) {
		t.Fatalf("rows = %v, want [4 1]", got)
	}
	if row, ok := vg.Row(1); !ok || row != 1 {
		t.Fatalf("Row(1) = %d, %v", row, ok)
	}
}

func TestVisible_EmptySetsGiveEmptyGraph(t *testing.T) {
	t.Parallel()

	g := sampleGraph()
	if vg := g.Visible(VisibleOptions{Heads: map[int]struct{}{}}); vg != EmptyVisibleGraph() {
		t.Fatal("expected canonical empty graph for empty heads")
	}
	if vg := g.Visible(VisibleOptions{Matching: map[int]struct{}{}}); vg.Len() != 0 {
		t.Fatal("expected empty graph for empty matching set")
	}
}

func TestVisible_SortDate(t *testing.T) {
	t.Parallel()

	g := NewPermanentGraph([]Commit[int]{ic(3, 10, 1), ic(2, 30, 1), ic(1, 5)})
	vg := g.Visible(VisibleOptions{Sort: SortDate})
	if got := slices.Collect(vg.Commits()); !slices.Equal(got, []int{2, 3, 1}) {
		t.Fatalf("rows = %v, want [2 3 1]", got)
	}
}
