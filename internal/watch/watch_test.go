package watch

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func mkdirs(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", p, err)
		}
	}
}

func TestWatchPaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	mkdirs(t,
		filepath.Join(gitDir, "refs", "heads", "feature"),
		filepath.Join(gitDir, "refs", "remotes", "origin"),
		filepath.Join(gitDir, "objects"),
	)

	got := slices.Sorted(watchPaths(root))
	want := []string{
		gitDir,
		filepath.Join(gitDir, "refs"),
		filepath.Join(gitDir, "refs", "heads"),
		filepath.Join(gitDir, "refs", "heads", "feature"),
		filepath.Join(gitDir, "refs", "remotes"),
		filepath.Join(gitDir, "refs", "remotes", "origin"),
	}
	slices.Sort(want)
	if !slices.Equal(got, want) {
		t.Fatalf("watchPaths() = %v, want %v", got, want)
	}
}

func TestWatchPaths_Bare(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if got := slices.Collect(watchPaths(root)); !slices.Equal(got, []string{root}) {
		t.Fatalf("watchPaths() = %v, want [%s]", got, root)
	}
	if got := slices.Collect(watchPaths("")); len(got) != 0 {
		t.Fatalf("watchPaths(\"\") = %v", got)
	}
}

func TestShouldIgnoreWatchPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want bool
	}{
		{name: "/repo/.git/index.lock", want: true},
		{name: "/repo/.git/refs/heads/main.LOCK", want: true},
		{name: "/repo/.git/fsmonitor.ipc", want: true},
		{name: "/repo/.git/refs/heads/main", want: false},
		{name: "/repo/.git/HEAD", want: false},
	}
	for _, tt := range tests {
		if got := shouldIgnoreWatchPath(tt.name); got != tt.want {
			t.Fatalf("shouldIgnoreWatchPath(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWatcherDebouncesChanges(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	heads := filepath.Join(root, ".git", "refs", "heads")
	mkdirs(t, heads)

	changed := make(chan struct{}, 10)
	w, err := New([]string{root}, 50*time.Millisecond, func() { changed <- struct{}{} })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	for i := range 3 {
		if err := os.WriteFile(filepath.Join(heads, "main"), []byte{byte('a' + i), '\n'}, 0o644); err != nil {
			t.Fatalf("write ref: %v", err)
		}
	}

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change notification")
	}
	select {
	case <-changed:
		t.Fatal("burst of writes should produce a single notification")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherClose(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	mkdirs(t, filepath.Join(root, ".git"))

	w, err := New([]string{root}, time.Hour, func() { t.Error("unexpected change notification") })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	w.schedule()
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	// Events after Close are ignored.
	w.schedule()
}
