package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// DiskStore persists records to a directory as one JSON file each. The
// directory is trimmed to the most recent maxSize files.
type DiskStore struct {
	dir     string
	maxSize int
	logger  *slog.Logger

	mu      sync.Mutex
	records []Record // most recent first
	files   []string // parallel to records
}

type storedRecord struct {
	file   string
	record Record
}

// NewDiskStore creates a disk-backed store. The directory is created if it
// doesn't exist, and existing records are loaded.
func NewDiskStore(dir string, maxSize int, logger *slog.Logger) (*DiskStore, error) {
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &DiskStore{
		dir:     dir,
		maxSize: maxSize,
		logger:  logger.With("component", "history_store"),
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	if err := s.load(); err != nil {
		s.logger.Warn("failed to load existing history", "error", err)
	}
	return s, nil
}

// Records returns a copy of the stored records, most recent first.
func (s *DiskStore) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Record, len(s.records))
	copy(result, s.records)
	return result
}

// Save writes rec to disk and evicts the oldest record once the store is
// full.
func (s *DiskStore) Save(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	// The timestamp prefix keeps directory order chronological.
	name := rec.EndedAt.UTC().Format("20060102T150405.000000000") + "-" + uuid.NewString() + ".json"
	path := filepath.Join(s.dir, name)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}

	s.records = append([]Record{rec}, s.records...)
	s.files = append([]string{name}, s.files...)
	s.trimLocked()

	s.logger.Debug("saved record to disk", "path", path, "activity", rec.Key)
	return nil
}

func (s *DiskStore) trimLocked() {
	for len(s.records) > s.maxSize {
		last := len(s.records) - 1
		if err := os.Remove(filepath.Join(s.dir, s.files[last])); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove evicted record", "file", s.files[last], "error", err)
		}
		s.records = s.records[:last]
		s.files = s.files[:last]
	}
}

// Len returns the number of stored records.
func (s *DiskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// load reads every record file in the directory. Unreadable files are
// skipped.
func (s *DiskStore) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read state directory: %w", err)
	}

	stored := make([]storedRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read record file", "file", path, "error", err)
			continue
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("failed to parse record file", "file", path, "error", err)
			continue
		}
		stored = append(stored, storedRecord{file: entry.Name(), record: rec})
	}

	sort.Slice(stored, func(i, j int) bool {
		if !stored[i].record.EndedAt.Equal(stored[j].record.EndedAt) {
			return stored[i].record.EndedAt.After(stored[j].record.EndedAt)
		}
		return stored[i].file > stored[j].file
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make([]Record, len(stored))
	s.files = make([]string, len(stored))
	for i, sr := range stored {
		s.records[i] = sr.record
		s.files[i] = sr.file
	}
	s.trimLocked()

	s.logger.Info("loaded history from disk", "count", len(s.records))
	return nil
}
