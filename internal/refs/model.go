package refs

import (
	"iter"
	"maps"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/thiagokokada/vcslog/internal/storage"
	"github.com/thiagokokada/vcslog/internal/vcs"
)

// Model combines the compressed refs of every root of the log.
type Model struct {
	store  storage.Store
	byRoot map[string]*CompressedRefs
	roots  []string

	checksum uint64
}

func NewModel(store storage.Store, byRoot map[string]*CompressedRefs) *Model {
	m := &Model{
		store:  store,
		byRoot: byRoot,
		roots:  slices.Sorted(maps.Keys(byRoot)),
	}
	m.checksum = m.computeChecksum()
	return m
}

// EmptyModel has no roots and no refs.
func EmptyModel(store storage.Store) *Model {
	return NewModel(store, map[string]*CompressedRefs{})
}

func (m *Model) Roots() []string {
	return m.roots
}

func (m *Model) ByRoot(root string) (*CompressedRefs, bool) {
	refs, ok := m.byRoot[root]
	return refs, ok
}

func (m *Model) RefsToCommit(index int) []vcs.Ref {
	refs, ok := m.byRoot[m.store.CommitID(index).Root]
	if !ok {
		return nil
	}
	return refs.RefsToCommit(index)
}

func (m *Model) Branches() iter.Seq[vcs.Ref] {
	return func(yield func(vcs.Ref) bool) {
		for _, root := range m.roots {
			for ref := range m.byRoot[root].Branches() {
				if !yield(ref) {
					return
				}
			}
		}
	}
}

func (m *Model) Refs() iter.Seq[vcs.Ref] {
	return func(yield func(vcs.Ref) bool) {
		for _, root := range m.roots {
			for ref := range m.byRoot[root].Refs() {
				if !yield(ref) {
					return
				}
			}
		}
	}
}

// BranchHeads returns the commit indices of the branches matching pred.
func (m *Model) BranchHeads(pred func(vcs.Ref) bool) map[int]struct{} {
	heads := map[int]struct{}{}
	for ref := range m.Branches() {
		if pred(ref) {
			heads[m.store.CommitIndex(ref.CommitID())] = struct{}{}
		}
	}
	return heads
}

// Heads returns the commit indices of every ref in roots. A nil roots slice means every
// root.
func (m *Model) Heads(roots []string) map[int]struct{} {
	heads := map[int]struct{}{}
	for _, root := range m.roots {
		if roots != nil && !slices.Contains(roots, root) {
			continue
		}
		for index := range m.byRoot[root].Commits() {
			heads[index] = struct{}{}
		}
	}
	return heads
}

// BranchesChecksum changes whenever a branch is created, deleted or moved.
func (m *Model) BranchesChecksum() uint64 {
	return m.checksum
}

func (m *Model) computeChecksum() uint64 {
	h := xxhash.New()
	for ref := range m.Branches() {
		_, _ = h.WriteString(ref.Root)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(ref.Name)
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(ref.Hash[:])
	}
	return h.Sum64()
}
