// Package storage assigns dense integer indices to commits and refs.
//
// Indices are never reused for the lifetime of a store, so every other component keys
// its state by int instead of by hash.
package storage

import (
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// Store is the identity store. Implementations are safe for concurrent use.
type Store interface {
	// CommitIndex returns the index of the commit, assigning a new one on first sight.
	CommitIndex(id vcs.CommitID) int
	// CommitID returns the commit behind index. It panics for indices never issued.
	CommitID(index int) vcs.CommitID
	// FindCommitID returns the first stored commit matching pred, in index order.
	FindCommitID(pred func(vcs.CommitID) bool) (vcs.CommitID, bool)

	RefIndex(ref vcs.Ref) int
	// Ref panics for indices never issued.
	Ref(index int) vcs.Ref

	// Flush persists pending assignments. It is a no-op for memory stores.
	Flush() error
}
