package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/thiagokokada/vcslog/internal/vcs"
)

type diskRepo struct {
	t    *testing.T
	path string
	repo *gogit.Repository
}

func newDiskRepo(t *testing.T) *diskRepo {
	t.Helper()
	path := t.TempDir()
	repo, err := gogit.PlainInit(path, false)
	if err != nil {
		t.Fatalf("PlainInit() error = %v", err)
	}
	return &diskRepo{t: t, path: path, repo: repo}
}

func (r *diskRepo) commit(msg, author, file string, when time.Time) string {
	r.t.Helper()
	if err := os.WriteFile(filepath.Join(r.path, file), []byte(msg), 0o644); err != nil {
		r.t.Fatalf("write: %v", err)
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		r.t.Fatalf("Worktree() error = %v", err)
	}
	if _, err := wt.Add(file); err != nil {
		r.t.Fatalf("Add() error = %v", err)
	}
	sig := &object.Signature{Name: author, Email: strings.ToLower(author) + "@example.com", When: when}
	hash, err := wt.Commit(msg, &gogit.CommitOptions{Author: sig})
	if err != nil {
		r.t.Fatalf("Commit() error = %v", err)
	}
	return hash.String()
}

func sampleRepo(t *testing.T) (*diskRepo, []string) {
	t.Helper()
	r := newDiskRepo(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	hashes := []string{
		r.commit("first commit", "Alice", "a.txt", base),
		r.commit("second commit", "Bob", "b.txt", base.Add(time.Hour)),
		r.commit("third commit", "Alice", "a.txt", base.Add(2*time.Hour)),
	}
	return r, hashes
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	if err := run(context.Background(), append([]string{"-nocache"}, args...), &out); err != nil {
		t.Fatalf("run(%v) error = %v", args, err)
	}
	return out.String()
}

func TestRunPrintsLog(t *testing.T) {
	r, hashes := sampleRepo(t)

	out := runCLI(t, r.path)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 rows, got %d:\n%s", len(lines), out)
	}
	for i, want := range []string{"third commit", "second commit", "first commit"} {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("row %d = %q, want %q", i, lines[i], want)
		}
	}
	if !strings.HasPrefix(lines[0], hashes[2][:10]) {
		t.Fatalf("row 0 = %q, want hash prefix %s", lines[0], hashes[2][:10])
	}
	if !strings.Contains(lines[0], "(master)") {
		t.Fatalf("row 0 = %q, want branch label", lines[0])
	}
}

func TestRunLimitsRows(t *testing.T) {
	r, _ := sampleRepo(t)

	out := runCLI(t, "-n", "1", r.path)
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 1 {
		t.Fatalf("expected 1 row, got:\n%s", out)
	}
}

func TestRunFilters(t *testing.T) {
	r, _ := sampleRepo(t)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{
			name:    "user",
			args:    []string{"-user", "bob"},
			want:    []string{"second commit"},
			notWant: []string{"first commit", "third commit"},
		},
		{
			name:    "text",
			args:    []string{"-text", "THIRD"},
			want:    []string{"third commit"},
			notWant: []string{"first commit", "second commit"},
		},
		{
			name:    "path",
			args:    []string{"-path", "b.txt"},
			want:    []string{"second commit"},
			notWant: []string{"first commit", "third commit"},
		},
		{
			name:    "path_indexed",
			args:    []string{"-index", "-path", "b.txt"},
			want:    []string{"second commit"},
			notWant: []string{"first commit", "third commit"},
		},
		{
			name:    "unknown_branch",
			args:    []string{"-branch", "nope"},
			notWant: []string{"first commit", "second commit", "third commit"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := runCLI(t, append(tt.args, r.path)...)
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Fatalf("output missing %q:\n%s", want, out)
				}
			}
			for _, notWant := range tt.notWant {
				if strings.Contains(out, notWant) {
					t.Fatalf("output unexpectedly contains %q:\n%s", notWant, out)
				}
			}
		})
	}
}

func TestRunContains(t *testing.T) {
	r, hashes := sampleRepo(t)

	out := runCLI(t, "-n", "0", "-contains", hashes[0][:8], r.path)
	want := hashes[0][:10] + " is contained in: master"
	if !strings.Contains(out, want) {
		t.Fatalf("output missing %q:\n%s", want, out)
	}
}

func TestRunErrors(t *testing.T) {
	r, _ := sampleRepo(t)

	tests := []struct {
		name string
		args []string
	}{
		{name: "backend", args: []string{"-backend", "svn", r.path}},
		{name: "sort", args: []string{"-sort", "random", r.path}},
		{name: "since", args: []string{"-since", "yesterday", r.path}},
		{name: "first_block", args: []string{"-first-block", "0", r.path}},
		{name: "not_a_repo", args: []string{t.TempDir()}},
		{name: "unknown_commit", args: []string{"-contains", "zzzz", r.path}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := run(context.Background(), append([]string{"-nocache"}, tt.args...), &out); err == nil {
				t.Fatalf("run(%v) expected error", tt.args)
			}
		})
	}
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-version"}, &out); err != nil {
		t.Fatalf("run(-version) error = %v", err)
	}
	if strings.TrimSpace(out.String()) == "" {
		t.Fatal("expected version output")
	}
}

func TestBuildFilters(t *testing.T) {
	t.Parallel()

	f, err := buildFilters(options{
		branches:  "main, release/* ,",
		users:     "me,bob",
		paths:     "docs/",
		hashes:    "abc123",
		text:      "Fix",
		matchCase: true,
		since:     "2024-01-02",
		until:     "2024-01-03",
		sort:      "date",
	})
	if err != nil {
		t.Fatalf("buildFilters() error = %v", err)
	}
	if f.Branch == nil || len(f.Branch.Names) != 2 || f.Branch.Names[1] != "release/*" {
		t.Fatalf("branch filter = %+v", f.Branch)
	}
	if f.User == nil || f.User.Users[0] != vcs.MeUser {
		t.Fatalf("user filter = %+v", f.User)
	}
	if f.Structure == nil || f.Structure.Paths[0] != "docs/" {
		t.Fatalf("structure filter = %+v", f.Structure)
	}
	if f.Hash == nil || f.Hash.Hashes[0] != "abc123" {
		t.Fatalf("hash filter = %+v", f.Hash)
	}
	if f.Text == nil || !f.Text.MatchCase {
		t.Fatalf("text filter = %+v", f.Text)
	}
	if f.Date == nil {
		t.Fatal("expected date filter")
	}
	end := time.Date(2024, 1, 3, 23, 59, 59, 0, time.UTC)
	if !f.Date.Matches(end) || f.Date.Matches(end.Add(time.Second)) {
		t.Fatalf("date filter upper bound = %v", f.Date.Before)
	}
	if f.Date.Matches(time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)) {
		t.Fatalf("date filter lower bound = %v", f.Date.After)
	}

	empty, err := buildFilters(options{sort: "linear"})
	if err != nil {
		t.Fatalf("buildFilters(empty) error = %v", err)
	}
	if !empty.IsEmpty() {
		t.Fatalf("expected empty filters, got %+v", empty)
	}
}
