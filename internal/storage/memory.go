package storage

import (
	"fmt"
	"sync"

	"github.com/thiagokokada/vcslog/internal/vcs"
)

// Memory keeps identities in process memory.
type Memory struct {
	mu sync.RWMutex

	commitIndex map[vcs.CommitID]int
	commits     []vcs.CommitID

	refIndex map[vcs.Ref]int
	refs     []vcs.Ref
}

func NewMemory() *Memory {
	return &Memory{
		commitIndex: make(map[vcs.CommitID]int),
		refIndex:    make(map[vcs.Ref]int),
	}
}

func (m *Memory) CommitIndex(id vcs.CommitID) int {
	m.mu.RLock()
	index, ok := m.commitIndex[id]
	m.mu.RUnlock()
	if ok {
		return index
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addCommitLocked(id)
}

func (m *Memory) addCommitLocked(id vcs.CommitID) int {
	if index, ok := m.commitIndex[id]; ok {
		return index
	}
	index := len(m.commits)
	m.commits = append(m.commits, id)
	m.commitIndex[id] = index
	return index
}

func (m *Memory) CommitID(index int) vcs.CommitID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= len(m.commits) {
		panic(fmt.Sprintf("storage: unknown commit index %d", index))
	}
	return m.commits[index]
}

func (m *Memory) FindCommitID(pred func(vcs.CommitID) bool) (vcs.CommitID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.commits {
		if pred(id) {
			return id, true
		}
	}
	return vcs.CommitID{}, false
}

func (m *Memory) RefIndex(ref vcs.Ref) int {
	m.mu.RLock()
	index, ok := m.refIndex[ref]
	m.mu.RUnlock()
	if ok {
		return index
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addRefLocked(ref)
}

func (m *Memory) addRefLocked(ref vcs.Ref) int {
	if index, ok := m.refIndex[ref]; ok {
		return index
	}
	index := len(m.refs)
	m.refs = append(m.refs, ref)
	m.refIndex[ref] = index
	return index
}

func (m *Memory) Ref(index int) vcs.Ref {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if index < 0 || index >= len(m.refs) {
		panic(fmt.Sprintf("storage: unknown ref index %d", index))
	}
	return m.refs[index]
}

func (m *Memory) Flush() error {
	return nil
}

// Len returns the number of commits and refs known to the store.
func (m *Memory) Len() (commits, refs int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.commits), len(m.refs)
}
