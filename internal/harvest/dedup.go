package harvest

import (
	"sort"
	"sync"
)

// IDSet is the in-memory set of external ids already harvested. It is the
// authority consulted before any persist, so the store never sees a
// duplicate within or across runs.
type IDSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewIDSet builds a set seeded with the given ids.
func NewIDSet(seed ...[]string) *IDSet {
	s := &IDSet{ids: make(map[string]struct{})}
	for _, batch := range seed {
		for _, id := range batch {
			s.ids[id] = struct{}{}
		}
	}
	return s
}

// Has reports whether id is already in the set.
func (s *IDSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Add inserts id and reports whether it was new.
func (s *IDSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// AddAll inserts every id in the batch.
func (s *IDSet) AddAll(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

// Len returns the number of ids in the set.
func (s *IDSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Snapshot returns the ids sorted, for deterministic checkpoints.
func (s *IDSet) Snapshot() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
