package git

import (
	"context"
	"errors"
	"io"
	"sync"

	gitbackend "github.com/thiagokokada/vcslog/internal/git/backend"
)

type fakeBackend struct {
	repoPath string

	startLogStreamFunc     func(opts gitbackend.LogOptions) (gitbackend.LogStream, error)
	listRefsFunc           func() ([]gitbackend.Ref, error)
	readCommitsFunc        func(hashes []string) ([]*gitbackend.Commit, error)
	changedPathsFunc       func(hash string) ([]gitbackend.Change, error)
	configUserFunc         func() (gitbackend.User, bool, error)
	branchesContainingFunc func(hash string) ([]string, error)

	mu       sync.Mutex
	lastOpts *gitbackend.LogOptions
}

func (f *fakeBackend) RepoPath() string { return f.repoPath }

func (f *fakeBackend) StartLogStream(_ context.Context, opts gitbackend.LogOptions) (gitbackend.LogStream, error) {
	f.mu.Lock()
	f.lastOpts = &opts
	f.mu.Unlock()
	if f.startLogStreamFunc != nil {
		return f.startLogStreamFunc(opts)
	}
	return nil, errors.New("unexpected StartLogStream call")
}

func (f *fakeBackend) ListRefs(context.Context) ([]gitbackend.Ref, error) {
	if f.listRefsFunc != nil {
		return f.listRefsFunc()
	}
	return nil, errors.New("unexpected ListRefs call")
}

func (f *fakeBackend) ReadCommits(_ context.Context, hashes []string) ([]*gitbackend.Commit, error) {
	if f.readCommitsFunc != nil {
		return f.readCommitsFunc(hashes)
	}
	return nil, errors.New("unexpected ReadCommits call")
}

func (f *fakeBackend) ChangedPaths(_ context.Context, hash string) ([]gitbackend.Change, error) {
	if f.changedPathsFunc != nil {
		return f.changedPathsFunc(hash)
	}
	return nil, errors.New("unexpected ChangedPaths call")
}

func (f *fakeBackend) ConfigUser(context.Context) (gitbackend.User, bool, error) {
	if f.configUserFunc != nil {
		return f.configUserFunc()
	}
	return gitbackend.User{}, false, errors.New("unexpected ConfigUser call")
}

func (f *fakeBackend) BranchesContaining(_ context.Context, hash string) ([]string, error) {
	if f.branchesContainingFunc != nil {
		return f.branchesContainingFunc(hash)
	}
	return nil, errors.New("unexpected BranchesContaining call")
}

func (f *fakeBackend) options() gitbackend.LogOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastOpts == nil {
		return gitbackend.LogOptions{}
	}
	return *f.lastOpts
}

type fakeLogStream struct {
	commits []*gitbackend.Commit
	err     error
	pos     int
	closed  bool
}

func (s *fakeLogStream) Next() (*gitbackend.Commit, error) {
	if s.pos >= len(s.commits) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	c := s.commits[s.pos]
	s.pos++
	return c, nil
}

func (s *fakeLogStream) Close() error {
	s.closed = true
	return nil
}
