package record

import "sync"

// Set is an ordered collection of records indexed by id. Every record lives
// in exactly one slot; updates address records by id and never hold a
// reference to a slot across calls.
type Set struct {
	mu      sync.RWMutex
	records []ListRecord
	index   map[ID]int
}

// NewSet creates an empty record set.
func NewSet() *Set {
	return &Set{index: make(map[ID]int)}
}

// Append adds records in order, resetting their permissions to Loading.
// Records whose id is already present are skipped. It returns how many
// records were added.
func (s *Set) Append(records ...ListRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, r := range records {
		if _, ok := s.index[r.ID]; ok {
			continue
		}
		r.Permissions = Loading
		s.index[r.ID] = len(s.records)
		s.records = append(s.records, r)
		added++
	}
	return added
}

// Len returns the number of records.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// IDs returns the ids of records in [from, to) in order.
func (s *Set) IDs(from, to int) []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from < 0 {
		from = 0
	}
	if to > len(s.records) {
		to = len(s.records)
	}
	if from >= to {
		return nil
	}
	ids := make([]ID, 0, to-from)
	for _, r := range s.records[from:to] {
		ids = append(ids, r.ID)
	}
	return ids
}

// Get returns a copy of the record with the given id.
func (s *Set) Get(id ID) (ListRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return ListRecord{}, false
	}
	return s.records[i], true
}

// Apply writes each update into its record's slot. Updates for unknown ids
// and updates that would put a record back to Loading are ignored; the
// number applied is returned.
func (s *Set) Apply(updates []Update) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, u := range updates {
		i, ok := s.index[u.ID]
		if !ok || !IsTerminal(u.Permissions) {
			continue
		}
		s.records[i].Permissions = u.Permissions
		applied++
	}
	return applied
}

// Snapshot returns a copy of all records in order.
func (s *Set) Snapshot() []ListRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ListRecord, len(s.records))
	copy(out, s.records)
	return out
}
