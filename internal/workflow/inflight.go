package workflow

import (
	"sort"
	"sync"
)

// inflightSet tracks record IDs with a live dispatch goroutine. A record is
// added before its goroutine launches and removed when the dispatch returns,
// regardless of outcome, so a poll cycle that overlaps a slow stage body
// never dispatches the same record twice. The set is process-local by
// design: a restart begins empty and the phase preconditions plus the
// stale-claim reclaim cover whatever was running when the process died.
type inflightSet struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{ids: make(map[int64]struct{})}
}

// TryAdd reserves the record for a dispatch. It returns false when the record
// already has a live dispatch.
func (s *inflightSet) TryAdd(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Remove releases the record after its dispatch returns.
func (s *inflightSet) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

// Snapshot returns the in-flight record IDs in ascending order.
func (s *inflightSet) Snapshot() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
