package data

import (
	"sync/atomic"

	"github.com/thiagokokada/vcslog/internal/storage"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// TopCommitsCache keeps the short details of the newest commits of the permanent graph.
// Entries are contiguous from the top row. It is written on the publication loop and read
// from anywhere through an immutable snapshot.
type TopCommitsCache struct {
	capacity int
	store    storage.Store
	entries  atomic.Pointer[map[int]vcs.ShortDetails]
}

func NewTopCommitsCache(store storage.Store, capacity int) *TopCommitsCache {
	c := &TopCommitsCache{capacity: capacity, store: store}
	empty := map[int]vcs.ShortDetails{}
	c.entries.Store(&empty)
	return c
}

func (c *TopCommitsCache) Get(index int) (vcs.ShortDetails, bool) {
	d, ok := (*c.entries.Load())[index]
	return d, ok
}

func (c *TopCommitsCache) Len() int {
	return len(*c.entries.Load())
}

// update rebuilds the cache for pack, taking details from fresh first and then from the
// previous contents. It stops at the first top row with no details.
func (c *TopCommitsCache) update(pack *DataPack, fresh []vcs.ShortDetails) {
	previous := *c.entries.Load()
	incoming := make(map[int]vcs.ShortDetails, len(fresh))
	for _, d := range fresh {
		incoming[c.store.CommitIndex(d.ID)] = d
	}
	next := make(map[int]vcs.ShortDetails, min(c.capacity, pack.Graph().Len()))
	for index := range pack.Graph().Commits() {
		if len(next) >= c.capacity {
			break
		}
		d, ok := incoming[index]
		if !ok {
			d, ok = previous[index]
		}
		if !ok {
			break
		}
		next[index] = d
	}
	c.entries.Store(&next)
}
