// Package graph holds the commit graph algorithms: joining a freshly read block of
// commits into a cached log, merging the logs of several roots, and the permanent and
// visible graphs built from the result.
package graph

// Commit is a node of the commit graph. Parents are ordered as recorded in the VCS.
type Commit[T comparable] struct {
	ID        T
	Parents   []T
	Timestamp int64
}
