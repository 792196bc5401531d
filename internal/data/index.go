package data

import (
	"context"
	"iter"
	"log/slog"
	"maps"
	"sync/atomic"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/jmgilman/go/errors"

	"github.com/thiagokokada/vcslog/internal/eventloop"
	"github.com/thiagokokada/vcslog/internal/storage"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// DetailsIndex keeps the full details of every indexed commit so that detail filters can
// be answered without asking the VCS. Writes happen on the publication loop; readers use
// an immutable snapshot.
type DetailsIndex struct {
	store storage.Store
	snap  atomic.Pointer[indexSnapshot]
}

type indexSnapshot struct {
	indexed map[string]bool
	commits map[int]vcs.FullDetails
}

func NewDetailsIndex(store storage.Store) *DetailsIndex {
	x := &DetailsIndex{store: store}
	x.snap.Store(&indexSnapshot{indexed: map[string]bool{}, commits: map[int]vcs.FullDetails{}})
	return x
}

// IsIndexed reports whether every commit of root known at indexing time is in the index.
func (x *DetailsIndex) IsIndexed(root string) bool {
	return x.snap.Load().indexed[root]
}

func (x *DetailsIndex) Len() int {
	return len(x.snap.Load().commits)
}

func (x *DetailsIndex) add(details []vcs.FullDetails) {
	if len(details) == 0 {
		return
	}
	prev := x.snap.Load()
	next := &indexSnapshot{indexed: prev.indexed, commits: maps.Clone(prev.commits)}
	for _, d := range details {
		next.commits[x.store.CommitIndex(d.ID)] = d
	}
	x.snap.Store(next)
}

func (x *DetailsIndex) markIndexed(root string, indexed bool) {
	prev := x.snap.Load()
	next := &indexSnapshot{indexed: maps.Clone(prev.indexed), commits: prev.commits}
	next.indexed[root] = indexed
	x.snap.Store(next)
}

// Filter returns the indices among candidates whose indexed details match filters.
// Candidates that are not indexed never match.
func (x *DetailsIndex) Filter(candidates iter.Seq[int], filters vcs.FilterCollection, me func(root string) *vcs.User) map[int]struct{} {
	snap := x.snap.Load()
	matched := map[int]struct{}{}
	for index := range candidates {
		d, ok := snap.commits[index]
		if !ok {
			continue
		}
		if filters.MatchesFull(d, me(d.ID.Root)) {
			matched[index] = struct{}{}
		}
	}
	return matched
}

// covers reports whether every commit of root in pack is in the index.
func (x *DetailsIndex) covers(pack *DataPack, root string) bool {
	snap := x.snap.Load()
	for index := range pack.Graph().Commits() {
		if _, ok := snap.commits[index]; ok {
			continue
		}
		if x.store.CommitID(index).Root == root {
			return false
		}
	}
	return true
}

// dataPackChanged clears the indexed flag of every root that has commits in pack the
// index does not hold, and returns those roots. Call on the publication loop.
func (x *DetailsIndex) dataPackChanged(pack *DataPack) []string {
	var stale []string
	for root, indexed := range x.snap.Load().indexed {
		if indexed && !x.covers(pack, root) {
			stale = append(stale, root)
		}
	}
	for _, root := range stale {
		x.markIndexed(root, false)
	}
	return stale
}

// indexRoot reads the full details of every commit of root in the current pack that is
// not indexed yet, batchSize commits at a time. Root is marked indexed when the details
// cover the pack current at the end; a newer pack with unread commits leaves it for the
// next run.
func (x *DetailsIndex) indexRoot(ctx context.Context, loop *eventloop.Loop, current func() *DataPack, root string, batchSize int) error {
	pack := current()
	provider, ok := pack.Provider(root)
	if !ok {
		return errors.WithContext(errors.New(errors.CodeInvalidInput, "unknown root"), "root", root)
	}
	snap := x.snap.Load()
	var pending []plumbing.Hash
	for index := range pack.Graph().Commits() {
		if _, ok := snap.commits[index]; ok {
			continue
		}
		id := x.store.CommitID(index)
		if id.Root != root {
			continue
		}
		pending = append(pending, id.Hash)
	}
	slog.Debug("indexing root", slog.String("root", root), slog.Int("commits", len(pending)))

	batchSize = max(batchSize, 1)
	details := make([]vcs.FullDetails, 0, len(pending))
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		batch, err := provider.ReadFullDetails(ctx, pending[start:end])
		if err != nil {
			return errors.Wrap(err, errors.CodeExecutionFailed, "failed to index commits")
		}
		details = append(details, batch...)
	}
	return loop.Call(ctx, func() {
		x.add(details)
		x.markIndexed(root, x.covers(current(), root))
	})
}
