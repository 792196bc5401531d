package backend

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

type nativeGit struct {
	repo *gitlib.Repository
	path string
}

// OpenNative opens the repository containing repoPath with go-git.
func OpenNative(repoPath string) (Backend, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	repo, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	root := abs
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	return &nativeGit{repo: repo, path: root}, nil
}

// NewNative wraps an already opened repository, such as an in-memory one.
func NewNative(repo *gitlib.Repository, path string) Backend {
	return &nativeGit{repo: repo, path: path}
}

func (n *nativeGit) RepoPath() string {
	return n.path
}

func (n *nativeGit) ListRefs(ctx context.Context) ([]Ref, error) {
	iter, err := n.repo.References()
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	defer iter.Close()

	var refs []Ref
	err = iter.ForEach(func(r *plumbing.Reference) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.Type() != plumbing.HashReference {
			return nil
		}
		ref, ok := shortRef(r.Name().String(), r.Hash().String())
		if !ok {
			return nil
		}
		if ref.Kind == RefKindTag {
			peeled, err := n.peelTag(r.Hash())
			if err != nil {
				return err
			}
			ref.Hash = peeled.String()
		}
		refs = append(refs, ref)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	return refs, nil
}

func (n *nativeGit) peelTag(h plumbing.Hash) (plumbing.Hash, error) {
	tag, err := n.repo.TagObject(h)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return h, nil
	}
	if err != nil {
		return plumbing.ZeroHash, err
	}
	commit, err := tag.Commit()
	if err != nil {
		// Tags of trees and blobs have no commit to point at.
		return h, nil
	}
	return commit.Hash, nil
}

func (n *nativeGit) startHashes(ctx context.Context, revs []string) ([]plumbing.Hash, error) {
	if len(revs) > 0 {
		hashes := make([]plumbing.Hash, 0, len(revs))
		for _, rev := range revs {
			h, err := n.repo.ResolveRevision(plumbing.Revision(rev))
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", rev, err)
			}
			hashes = append(hashes, *h)
		}
		return hashes, nil
	}
	refs, err := n.ListRefs(ctx)
	if err != nil {
		return nil, err
	}
	var hashes []plumbing.Hash
	for _, ref := range refs {
		hashes = append(hashes, plumbing.NewHash(ref.Hash))
	}
	if head, err := n.repo.Head(); err == nil {
		hashes = append(hashes, head.Hash())
	}
	return hashes, nil
}

func (n *nativeGit) StartLogStream(ctx context.Context, opts LogOptions) (LogStream, error) {
	starts, err := n.startHashes(ctx, opts.Revs)
	if err != nil {
		return nil, err
	}
	ordered, err := n.dateOrder(ctx, starts)
	if err != nil {
		return nil, err
	}
	return &nativeLogStream{ctx: ctx, git: n, commits: ordered, opts: opts}, nil
}

// dateOrder walks every commit reachable from starts and returns them newest-first, never
// emitting a commit before all of its children.
func (n *nativeGit) dateOrder(ctx context.Context, starts []plumbing.Hash) ([]*object.Commit, error) {
	commits := map[plumbing.Hash]*object.Commit{}
	children := map[plumbing.Hash]int{}
	stack := slices.Clone(starts)
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := commits[h]; ok {
			continue
		}
		c, err := n.repo.CommitObject(h)
		if err != nil {
			if errors.Is(err, plumbing.ErrObjectNotFound) {
				// Tags of non-commit objects end up here.
				continue
			}
			return nil, fmt.Errorf("read commit %s: %w", h, err)
		}
		commits[h] = c
		for _, p := range c.ParentHashes {
			children[p]++
			stack = append(stack, p)
		}
	}

	ready := &commitHeap{}
	for h, c := range commits {
		if children[h] == 0 {
			heap.Push(ready, c)
		}
	}
	out := make([]*object.Commit, 0, len(commits))
	for ready.Len() > 0 {
		c := heap.Pop(ready).(*object.Commit)
		out = append(out, c)
		for _, p := range c.ParentHashes {
			children[p]--
			if children[p] == 0 {
				if parent, ok := commits[p]; ok {
					heap.Push(ready, parent)
				}
			}
		}
	}
	return out, nil
}

type commitHeap []*object.Commit

func (h commitHeap) Len() int { return len(h) }
func (h commitHeap) Less(i, j int) bool {
	ti, tj := h[i].Committer.When, h[j].Committer.When
	if !ti.Equal(tj) {
		return ti.After(tj)
	}
	return h[i].Hash.String() < h[j].Hash.String()
}
func (h commitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *commitHeap) Push(x any)   { *h = append(*h, x.(*object.Commit)) }
func (h *commitHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}

type nativeLogStream struct {
	ctx      context.Context
	git      *nativeGit
	commits  []*object.Commit
	opts     LogOptions
	pos      int
	returned int
}

func (s *nativeLogStream) Next() (*Commit, error) {
	for {
		if s.opts.MaxCount > 0 && s.returned >= s.opts.MaxCount {
			return nil, io.EOF
		}
		if s.pos >= len(s.commits) {
			return nil, io.EOF
		}
		if err := s.ctx.Err(); err != nil {
			return nil, err
		}
		c := s.commits[s.pos]
		s.pos++
		if len(s.opts.Paths) > 0 {
			touched, err := s.git.touches(s.ctx, c, s.opts.Paths)
			if err != nil {
				return nil, err
			}
			if !touched {
				continue
			}
		}
		s.returned++
		return convertCommit(c), nil
	}
}

func (s *nativeLogStream) Close() error {
	s.commits = nil
	return nil
}

func (n *nativeGit) touches(ctx context.Context, c *object.Commit, paths []string) (bool, error) {
	changes, err := n.changes(ctx, c)
	if err != nil {
		return false, err
	}
	for _, change := range changes {
		if underAny(change.Path, paths) || (change.OldPath != "" && underAny(change.OldPath, paths)) {
			return true, nil
		}
	}
	return false, nil
}

func underAny(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		prefix = strings.TrimSuffix(prefix, "/")
		if prefix == "" || p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

func (n *nativeGit) ReadCommits(ctx context.Context, hashes []string) ([]*Commit, error) {
	out := make([]*Commit, 0, len(hashes))
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := n.repo.CommitObject(plumbing.NewHash(h))
		if err != nil {
			return nil, fmt.Errorf("read commit %s: %w", h, err)
		}
		out = append(out, convertCommit(c))
	}
	return out, nil
}

func (n *nativeGit) ChangedPaths(ctx context.Context, hash string) ([]Change, error) {
	c, err := n.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return n.changes(ctx, c)
}

func (n *nativeGit) changes(ctx context.Context, c *object.Commit) ([]Change, error) {
	to, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", c.Hash, err)
	}
	from := &object.Tree{}
	if c.NumParents() > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("read parent of %s: %w", c.Hash, err)
		}
		if from, err = parent.Tree(); err != nil {
			return nil, fmt.Errorf("read tree of %s: %w", parent.Hash, err)
		}
	}
	diff, err := object.DiffTreeWithOptions(ctx, from, to, object.DefaultDiffTreeOptions)
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", c.Hash, err)
	}
	changes := make([]Change, 0, len(diff))
	for _, d := range diff {
		action, err := d.Action()
		if err != nil {
			return nil, err
		}
		switch action {
		case merkletrie.Insert:
			changes = append(changes, Change{Status: ChangeAdded, Path: d.To.Name})
		case merkletrie.Delete:
			changes = append(changes, Change{Status: ChangeDeleted, Path: d.From.Name})
		default:
			if d.From.Name != d.To.Name {
				changes = append(changes, Change{Status: ChangeRenamed, Path: d.To.Name, OldPath: d.From.Name})
			} else {
				changes = append(changes, Change{Status: ChangeModified, Path: d.To.Name})
			}
		}
	}
	slices.SortFunc(changes, func(a, b Change) int { return strings.Compare(a.Path, b.Path) })
	return changes, nil
}

func (n *nativeGit) ConfigUser(ctx context.Context) (User, bool, error) {
	cfg, err := n.repo.ConfigScoped(config.GlobalScope)
	if err != nil {
		return User{}, false, fmt.Errorf("read config: %w", err)
	}
	user := User{Name: cfg.User.Name, Email: cfg.User.Email}
	if user.Name == "" && user.Email == "" {
		return User{}, false, nil
	}
	return user, true, nil
}

func (n *nativeGit) BranchesContaining(ctx context.Context, hash string) ([]string, error) {
	target, err := n.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	refs, err := n.ListRefs(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ref := range refs {
		if ref.Kind == RefKindTag {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if ref.Hash == target.Hash.String() {
			names = append(names, ref.Name)
			continue
		}
		head, err := n.repo.CommitObject(plumbing.NewHash(ref.Hash))
		if err != nil {
			return nil, fmt.Errorf("read commit %s: %w", ref.Hash, err)
		}
		ok, err := target.IsAncestor(head)
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, ref.Name)
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

func convertCommit(c *object.Commit) *Commit {
	parents := make([]string, len(c.ParentHashes))
	for i, p := range c.ParentHashes {
		parents[i] = p.String()
	}
	return &Commit{
		Hash:         c.Hash.String(),
		ParentHashes: parents,
		Author:       Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When},
		Committer:    Signature{Name: c.Committer.Name, Email: c.Committer.Email, When: c.Committer.When},
		Message:      c.Message,
	}
}
