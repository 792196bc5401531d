package graph

// MergeRoots interleaves the newest-first logs of several roots into one newest-first
// log ordered by timestamp. The order inside each log is kept; ties go to the earlier log.
func MergeRoots[T comparable](logs ...[]Commit[T]) []Commit[T] {
	total := 0
	for _, log := range logs {
		total += len(log)
	}
	merged := make([]Commit[T], 0, total)
	pos := make([]int, len(logs))
	for len(merged) < total {
		best := -1
		for i, log := range logs {
			if pos[i] >= len(log) {
				continue
			}
			if best < 0 || log[pos[i]].Timestamp > logs[best][pos[best]].Timestamp {
				best = i
			}
		}
		merged = append(merged, logs[best][pos[best]])
		pos[best]++
	}
	return merged
}
