package history

import "sync"

const defaultMaxSize = 100

// MemoryStore keeps the most recent records in memory only.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	maxSize int
}

// NewMemoryStore creates a store holding at most maxSize records.
// A non-positive maxSize selects the default of 100.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	return &MemoryStore{
		records: make([]Record, 0),
		maxSize: maxSize,
	}
}

// Records returns a copy of the stored records, most recent first.
func (s *MemoryStore) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Record, len(s.records))
	copy(result, s.records)
	return result
}

// Save stores a record, evicting the oldest once the store is full.
func (s *MemoryStore) Save(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append([]Record{rec}, s.records...)
	if len(s.records) > s.maxSize {
		s.records = s.records[:s.maxSize]
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
