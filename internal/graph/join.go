package graph

import (
	"slices"

	"github.com/jmgilman/go/errors"
)

var (
	// ErrNotEnoughData means the saved log cannot anchor the new block; the whole history of
	// the root has to be reloaded.
	ErrNotEnoughData = errors.New(errors.CodeConflict, "not enough data to join the first block with the saved log")

	// ErrInconsistentState means the red/green bookkeeping is broken.
	ErrInconsistentState = errors.New(errors.CodeInternal, "inconsistent join state")
)

// Join merges firstBlock, a newest-first prefix of the current history, into savedLog, the
// previously accepted newest-first log. previousRefs are the ref targets savedLog was built
// for and newRefs the current ones.
//
// It returns the merged log and the number of commits it gained. Inputs are not modified.
func Join[T comparable](savedLog []Commit[T], previousRefs []T, firstBlock []Commit[T], newRefs []T) ([]Commit[T], int, error) {
	greenBoundary, newCommits, err := newCommitsAndGreenBoundary(savedLog, firstBlock, newRefs)
	if err != nil {
		return nil, 0, err
	}
	redBoundary, red, err := redCommitsAndRedBoundary(savedLog, previousRefs, firstBlock, newRefs)
	if err != nil {
		return nil, 0, err
	}

	unsafeBoundary := max(greenBoundary, redBoundary)
	unsafePart := make([]Commit[T], 0, unsafeBoundary+len(newCommits))
	for _, c := range savedLog[:unsafeBoundary] {
		if _, ok := red[c.ID]; !ok {
			unsafePart = append(unsafePart, c)
		}
	}
	unsafePart = integrateNewCommits(unsafePart, newCommits)

	merged := make([]Commit[T], 0, len(unsafePart)+len(savedLog)-unsafeBoundary)
	merged = append(merged, unsafePart...)
	merged = append(merged, savedLog[unsafeBoundary:]...)
	return merged, len(unsafePart) - unsafeBoundary, nil
}

// newCommitsAndGreenBoundary walks savedLog until every ref and every commit or parent of
// firstBlock that is not a parentless block commit has been found.
func newCommitsAndGreenBoundary[T comparable](savedLog []Commit[T], firstBlock []Commit[T], newRefs []T) (int, []Commit[T], error) {
	frontier := make(map[T]struct{}, len(newRefs)+2*len(firstBlock))
	for _, ref := range newRefs {
		frontier[ref] = struct{}{}
	}
	for _, c := range firstBlock {
		frontier[c.ID] = struct{}{}
		for _, p := range c.Parents {
			frontier[p] = struct{}{}
		}
	}
	for _, c := range firstBlock {
		if len(c.Parents) > 0 {
			delete(frontier, c.ID)
		}
	}

	boundary := -1
	for i, c := range savedLog {
		if len(frontier) == 0 {
			boundary = i
			break
		}
		delete(frontier, c.ID)
	}
	if boundary < 0 {
		if len(frontier) != 0 {
			return 0, nil, ErrNotEnoughData
		}
		boundary = len(savedLog)
	}

	known := make(map[T]struct{}, boundary)
	for _, c := range savedLog[:boundary] {
		known[c.ID] = struct{}{}
	}
	var newCommits []Commit[T]
	for _, c := range firstBlock {
		if _, ok := known[c.ID]; ok {
			continue
		}
		known[c.ID] = struct{}{}
		newCommits = append(newCommits, c)
	}
	return boundary, newCommits, nil
}

func redCommitsAndRedBoundary[T comparable](savedLog []Commit[T], previousRefs []T, firstBlock []Commit[T], newRefs []T) (int, map[T]struct{}, error) {
	green := make(map[T]struct{}, len(newRefs)+2*len(firstBlock))
	for _, ref := range newRefs {
		green[ref] = struct{}{}
	}
	for _, c := range firstBlock {
		green[c.ID] = struct{}{}
		for _, p := range c.Parents {
			green[p] = struct{}{}
		}
	}
	current := make(map[T]struct{}, len(newRefs))
	for _, ref := range newRefs {
		current[ref] = struct{}{}
	}
	red := make(map[T]struct{}, len(previousRefs))
	for _, ref := range previousRefs {
		if _, ok := current[ref]; !ok {
			red[ref] = struct{}{}
		}
	}

	s := redGreenSorter[T]{red: red, green: green, confirmed: map[T]struct{}{}}
	boundary, err := s.firstSafeIndex(savedLog)
	if err != nil {
		return 0, nil, err
	}
	return boundary, s.confirmed, nil
}

type redGreenSorter[T comparable] struct {
	red       map[T]struct{}
	green     map[T]struct{}
	confirmed map[T]struct{}
}

func (s *redGreenSorter[T]) firstSafeIndex(savedLog []Commit[T]) (int, error) {
	if len(s.red) == 0 {
		return 0, nil
	}
	for i, c := range savedLog {
		if _, isGreen := s.green[c.ID]; isGreen {
			delete(s.red, c.ID)
			for _, p := range c.Parents {
				s.green[p] = struct{}{}
			}
		} else {
			if err := s.confirmRed(c.ID); err != nil {
				return 0, err
			}
			for _, p := range c.Parents {
				s.red[p] = struct{}{}
			}
		}
		if len(s.red) == 0 {
			return i + 1, nil
		}
	}
	return 0, ErrNotEnoughData
}

func (s *redGreenSorter[T]) confirmRed(id T) error {
	if _, ok := s.red[id]; !ok {
		return errors.WithContext(errors.Wrap(ErrInconsistentState, errors.CodeInternal, "failed to confirm red commit"), "commit", id)
	}
	delete(s.red, id)
	s.confirmed[id] = struct{}{}
	return nil
}

// integrateNewCommits inserts newCommits into list so that every commit lands above its
// parents. Each commit goes to the first position holding one of its parents or an older
// commit; this is a heuristic, not a full topological sort.
func integrateNewCommits[T comparable](list []Commit[T], newCommits []Commit[T]) []Commit[T] {
	pending := make(map[T]Commit[T], len(newCommits))
	for _, c := range newCommits {
		pending[c.ID] = c
	}
	var stack []Commit[T]
	for _, start := range newCommits {
		if _, ok := pending[start.ID]; !ok {
			continue
		}
		stack = append(stack, start)
		for len(stack) > 0 {
			current := stack[len(stack)-1]
			deferred := false
			for _, p := range current.Parents {
				if parent, ok := pending[p]; ok {
					stack = append(stack, parent)
					deferred = true
					break
				}
			}
			if deferred {
				continue
			}
			list = insertCommit(list, current)
			delete(pending, current.ID)
			stack = stack[:len(stack)-1]
		}
	}
	return list
}

func insertCommit[T comparable](list []Commit[T], c Commit[T]) []Commit[T] {
	for i, existing := range list {
		if slices.Contains(c.Parents, existing.ID) || existing.Timestamp < c.Timestamp {
			return slices.Insert(list, i, c)
		}
	}
	return append(list, c)
}
