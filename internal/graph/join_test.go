package graph

import (
	"slices"
	"testing"

	"github.com/jmgilman/go/errors"
)

func c(id string, ts int64, parents ...string) Commit[string] {
	return Commit[string]{ID: id, Parents: parents, Timestamp: ts}
}

func ids(commits []Commit[string]) []string {
	out := make([]string, 0, len(commits))
	for _, c := range commits {
		out = append(out, c.ID)
	}
	return out
}

func linearLog() []Commit[string] {
	return []Commit[string]{
		c("C3", 3, "C2"),
		c("C2", 2, "C1"),
		c("C1", 1),
	}
}

func TestJoin_EmptyBlockSameRefsIsNoop(t *testing.T) {
	t.Parallel()

	saved := linearLog()
	merged, added, err := Join(saved, []string{"C3"}, nil, []string{"C3"})
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if added != 0 {
		t.Fatalf("added = %d, want 0", added)
	}
	if got, want := ids(merged), ids(saved); !slices.Equal(got, want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
}

func TestJoin_FastForward(t *testing.T) {
	t.Parallel()

	merged, added, err := Join(linearLog(), []string{"C3"}, []Commit[string]{c("C4", 4, "C3")}, []string{"C4"})
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}
	if got, want := ids(merged), []string{"C4", "C3", "C2", "C1"}; !slices.Equal(got, want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
}

func TestJoin_ForcePushDropsStaleCommits(t *testing.T) {
	t.Parallel()

	merged, _, err := Join(linearLog(), []string{"C3"}, []Commit[string]{c("C5", 5, "C2")}, []string{"C5"})
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if got, want := ids(merged), []string{"C5", "C2", "C1"}; !slices.Equal(got, want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
}

func TestJoin_MergedBranchIsComplete(t *testing.T) {
	t.Parallel()

	block := []Commit[string]{
		c("M", 10, "C3", "F2"),
		c("F2", 9, "F1"),
		c("F1", 8, "C2"),
	}
	merged, added, err := Join(linearLog(), []string{"C3"}, block, []string{"M"})
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if added != 3 {
		t.Fatalf("added = %d, want 3", added)
	}
	got := ids(merged)
	seen := map[string]int{}
	for row, id := range got {
		if _, dup := seen[id]; dup {
			t.Fatalf("commit %s appears twice in %v", id, got)
		}
		seen[id] = row
	}
	for _, id := range []string{"M", "F2", "F1", "C3", "C2", "C1"} {
		if _, ok := seen[id]; !ok {
			t.Fatalf("commit %s missing from %v", id, got)
		}
	}
	for _, commit := range merged {
		for _, p := range commit.Parents {
			if seen[p] <= seen[commit.ID] {
				t.Fatalf("parent %s is not below %s in %v", p, commit.ID, got)
			}
		}
	}
}

func TestJoin_KeepsUnrelatedRefs(t *testing.T) {
	t.Parallel()

	// feature still points at C2 while main moves forward.
	merged, added, err := Join(linearLog(), []string{"C3", "C2"}, []Commit[string]{c("C4", 4, "C3")}, []string{"C4", "C2"})
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if added != 1 {
		t.Fatalf("added = %d, want 1", added)
	}
	if got, want := ids(merged), []string{"C4", "C3", "C2", "C1"}; !slices.Equal(got, want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
}

func TestJoin_DeletedBranchRemovesOnlyItsCommits(t *testing.T) {
	t.Parallel()

	saved := []Commit[string]{
		c("F1", 4, "C2"),
		c("C3", 3, "C2"),
		c("C2", 2, "C1"),
		c("C1", 1),
	}
	merged, added, err := Join(saved, []string{"F1", "C3"}, nil, []string{"C3"})
	if err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if added != -1 {
		t.Fatalf("added = %d, want -1", added)
	}
	if got, want := ids(merged), []string{"C3", "C2", "C1"}; !slices.Equal(got, want) {
		t.Fatalf("merged = %v, want %v", got, want)
	}
}

func TestJoin_NotEnoughData(t *testing.T) {
	t.Parallel()

	_, _, err := Join(linearLog(), []string{"C3"}, []Commit[string]{c("C5", 5, "unknown")}, []string{"C5"})
	if !errors.Is(err, ErrNotEnoughData) {
		t.Fatalf("Join() error = %v, want ErrNotEnoughData", err)
	}
	if errors.GetCode(err) != errors.CodeConflict {
		t.Fatalf("code = %s, want %s", errors.GetCode(err), errors.CodeConflict)
	}
}

func TestJoin_RedNeverResolved(t *testing.T) {
	t.Parallel()

	_, _, err := Join(linearLog(), []string{"gone"}, nil, []string{"C3"})
	if !errors.Is(err, ErrNotEnoughData) {
		t.Fatalf("Join() error = %v, want ErrNotEnoughData", err)
	}
}

func TestJoin_InconsistentState(t *testing.T) {
	t.Parallel()

	saved := []Commit[string]{
		c("X", 4, "C2"),
		c("C3", 3, "C2"),
		c("C2", 2, "C1"),
		c("C1", 1),
	}
	_, _, err := Join(saved, []string{"C3"}, []Commit[string]{c("C4", 5, "C3")}, []string{"C4"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrInconsistentState) {
		t.Fatalf("Join() error = %v, want ErrInconsistentState", err)
	}
	if errors.GetCode(err) != errors.CodeInternal {
		t.Fatalf("code = %s, want %s (err=%v)", errors.GetCode(err), errors.CodeInternal, err)
	}
	var perr errors.PlatformError
	if !errors.As(err, &perr) {
		t.Fatalf("error %v is not a platform error", err)
	}
	if _, ok := perr.Context()["commit"]; !ok {
		t.Fatalf("error context = %v, want the offending commit", perr.Context())
	}
}

func TestJoin_DoesNotMutateInputs(t *testing.T) {
	t.Parallel()

	saved := linearLog()
	block := []Commit[string]{c("C5", 5, "C2")}
	prev := []string{"C3"}
	next := []string{"C5"}
	if _, _, err := Join(saved, prev, block, next); err != nil {
		t.Fatalf("Join() error = %v", err)
	}
	if got, want := ids(saved), []string{"C3", "C2", "C1"}; !slices.Equal(got, want) {
		t.Fatalf("saved log mutated: %v", got)
	}
	if got := ids(block); !slices.Equal(got, []string{"C5"}) {
		t.Fatalf("block mutated: %v", got)
	}
	if !slices.Equal(prev, []string{"C3"}) || !slices.Equal(next, []string{"C5"}) {
		t.Fatalf("refs mutated: prev=%v next=%v", prev, next)
	}
}

func TestIntegrateNewCommits_InsertsByTimestamp(t *testing.T) {
	t.Parallel()

	list := []Commit[string]{c("A", 10), c("B", 5), c("C", 1)}
	got := ids(integrateNewCommits(list, []Commit[string]{c("N", 7)}))
	if want := []string{"A", "N", "B", "C"}; !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
