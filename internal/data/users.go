package data

import (
	"maps"
	"sync/atomic"

	"github.com/thiagokokada/vcslog/internal/vcs"
)

// userRegistry holds the current user of every root, used to resolve the "me" user
// filter.
type userRegistry struct {
	users atomic.Pointer[map[string]vcs.User]
}

func newUserRegistry() *userRegistry {
	r := &userRegistry{}
	empty := map[string]vcs.User{}
	r.users.Store(&empty)
	return r
}

func (r *userRegistry) Get(root string) *vcs.User {
	u, ok := (*r.users.Load())[root]
	if !ok {
		return nil
	}
	return &u
}

func (r *userRegistry) set(root string, user vcs.User) {
	next := maps.Clone(*r.users.Load())
	next[root] = user
	r.users.Store(&next)
}
