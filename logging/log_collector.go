package logging

import (
	"sync"
	"time"
)

const (
	defaultMaxEntriesPerKey = 50
	defaultMaxKeys          = 1024
)

// LogEntry represents a single log record with structured data.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LogCollector buffers recent log entries per activity key.
//
// Each key keeps at most maxPerKey entries (oldest dropped first) and at
// most maxKeys keys are tracked; records for new keys beyond that are
// dropped until some key is drained.
type LogCollector struct {
	mu        sync.Mutex
	logs      map[string][]LogEntry
	maxPerKey int
	maxKeys   int
}

// NewLogCollector creates a LogCollector with default bounds.
func NewLogCollector() *LogCollector {
	return NewBoundedLogCollector(defaultMaxEntriesPerKey, defaultMaxKeys)
}

// NewBoundedLogCollector creates a LogCollector with explicit bounds.
// Non-positive values select the defaults.
func NewBoundedLogCollector(maxPerKey, maxKeys int) *LogCollector {
	if maxPerKey <= 0 {
		maxPerKey = defaultMaxEntriesPerKey
	}
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &LogCollector{
		logs:      make(map[string][]LogEntry),
		maxPerKey: maxPerKey,
		maxKeys:   maxKeys,
	}
}

// Add appends an entry for key.
func (c *LogCollector) Add(key string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	logs, ok := c.logs[key]
	if !ok && len(c.logs) >= c.maxKeys {
		return
	}
	if len(logs) >= c.maxPerKey {
		logs = append(logs[:0], logs[len(logs)-c.maxPerKey+1:]...)
	}
	c.logs[key] = append(logs, entry)
}

// Get returns a copy of the entries buffered for key.
func (c *LogCollector) Get(key string) []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	logs, ok := c.logs[key]
	if !ok {
		return nil
	}
	result := make([]LogEntry, len(logs))
	copy(result, logs)
	return result
}

// Drain returns and forgets the entries buffered for key.
func (c *LogCollector) Drain(key string) []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	logs := c.logs[key]
	delete(c.logs, key)
	return logs
}

// Keys returns the number of keys with buffered entries.
func (c *LogCollector) Keys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logs)
}
