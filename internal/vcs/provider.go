package vcs

import (
	"context"

	"github.com/go-git/go-git/v5/plumbing"
)

// LogResult is what a provider returns for a log read.
type LogResult struct {
	// Commits are newest-first; parents always follow their children.
	Commits []TimedCommit
	Refs    []Ref
	// Details optionally holds short details for the returned commits, used to seed the
	// recent commits cache.
	Details []ShortDetails
}

// LogProvider reads commit data from one repository root.
//
// Implementations must be safe for concurrent use; the core calls them from background
// goroutines only.
type LogProvider interface {
	Root() string

	ReadFirstBlock(ctx context.Context, count int) (*LogResult, error)
	ReadFullLog(ctx context.Context) (*LogResult, error)

	CommitsMatchingFilter(ctx context.Context, filters FilterCollection, limit int) ([]plumbing.Hash, error)

	ReadShortDetails(ctx context.Context, hashes []plumbing.Hash) ([]ShortDetails, error)
	ReadFullDetails(ctx context.Context, hashes []plumbing.Hash) ([]FullDetails, error)

	// CurrentUser returns nil when no user is configured.
	CurrentUser(ctx context.Context) (*User, error)
	ContainingBranches(ctx context.Context, hash plumbing.Hash) ([]string, error)
}
