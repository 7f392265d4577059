package storage

import (
	"sort"
	"sync"
	"time"
)

// MemoryBackend implements Backend interface using in-memory storage.
// It is used for tests and for short runs where nothing needs to survive
// the process.
type MemoryBackend struct {
	mu         sync.RWMutex
	points     []Point
	attributes map[string]map[string]string
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		points:     make([]Point, 0),
		attributes: make(map[string]map[string]string),
	}
}

// WritePoints appends points to memory storage.
func (m *MemoryBackend) WritePoints(points []Point) error {
	if len(points) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.points = append(m.points, points...)
	return nil
}

// SetAttribute stores a run level value, replacing any earlier one.
func (m *MemoryBackend) SetAttribute(runID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.attributes[runID] == nil {
		m.attributes[runID] = make(map[string]string)
	}
	m.attributes[runID][key] = value
	return nil
}

// ReadSeries returns the points of one key in a run, ordered by step.
// An empty runID matches every run.
func (m *MemoryBackend) ReadSeries(runID, key string, start, end time.Time) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Point
	for _, p := range m.points {
		if runID != "" && p.RunID != runID {
			continue
		}
		if p.Key != key || !inRange(p.Timestamp, start, end) {
			continue
		}
		result = append(result, p)
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].RunID != result[j].RunID {
			return result[i].RunID < result[j].RunID
		}
		return result[i].Step < result[j].Step
	})

	return result, nil
}

// ReadAttributes returns a copy of the run level values.
func (m *MemoryBackend) ReadAttributes(runID string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	attrs := make(map[string]string, len(m.attributes[runID]))
	for k, v := range m.attributes[runID] {
		attrs[k] = v
	}
	return attrs, nil
}

// ListKeys returns the sorted compound keys logged in a run.
func (m *MemoryBackend) ListKeys(runID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keySet := make(map[string]bool)
	for _, p := range m.points {
		if runID == "" || p.RunID == runID {
			keySet[p.Key] = true
		}
	}
	return sortedSet(keySet), nil
}

// ListRuns returns every run id with points or attributes.
func (m *MemoryBackend) ListRuns() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runSet := make(map[string]bool)
	for _, p := range m.points {
		runSet[p.RunID] = true
	}
	for runID := range m.attributes {
		runSet[runID] = true
	}
	return sortedSet(runSet), nil
}

// Close performs cleanup for memory backend
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.points = nil
	m.attributes = make(map[string]map[string]string)
	return nil
}

// Len returns the number of stored points (for testing)
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
