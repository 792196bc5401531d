package backend

import "context"

// Backend abstracts access to repository data.
//
// The CLI implementation shells out to the git executable and the native one reads the
// repository through go-git. Both return commits newest-first in date order.
type Backend interface {
	RepoPath() string
	StartLogStream(ctx context.Context, opts LogOptions) (LogStream, error)

	ListRefs(ctx context.Context) ([]Ref, error)
	// ReadCommits returns the requested commits; unknown hashes are an error.
	ReadCommits(ctx context.Context, hashes []string) ([]*Commit, error)
	// ChangedPaths lists the paths a commit changed relative to its first parent.
	ChangedPaths(ctx context.Context, hash string) ([]Change, error)

	// ConfigUser returns the configured user; ok is false when none is set.
	ConfigUser(ctx context.Context) (user User, ok bool, err error)
	// BranchesContaining returns the short names of local and remote branches whose
	// history includes hash.
	BranchesContaining(ctx context.Context, hash string) ([]string, error)
}

// LogStream yields commits until io.EOF.
type LogStream interface {
	Next() (*Commit, error)
	Close() error
}
