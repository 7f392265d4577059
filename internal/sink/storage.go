package sink

import (
	"context"

	"github.com/thisdougb/runlog/internal/metrics"
	"github.com/thisdougb/runlog/internal/storage"
)

// Storage writes batches through a storage manager, one point per key.
type Storage struct {
	manager *storage.Manager
}

// NewStorage wraps manager. Closing the sink closes the manager.
func NewStorage(manager *storage.Manager) *Storage {
	return &Storage{manager: manager}
}

func (s *Storage) Write(_ context.Context, b Batch) error {
	return s.manager.PersistPoints(Points(b))
}

func (s *Storage) SetAttribute(_ context.Context, runID, key, value string) error {
	return s.manager.SetAttribute(runID, key, value)
}

func (s *Storage) Close() error {
	return s.manager.Close()
}

// Manager exposes the wrapped manager for reads.
func (s *Storage) Manager() *storage.Manager {
	return s.manager
}

// Points converts a batch to storage points in key order.
func Points(b Batch) []storage.Point {
	if b.Values == nil {
		return nil
	}

	points := make([]storage.Point, 0, b.Values.Len())
	b.Values.Range(func(key string, v metrics.Value) bool {
		points = append(points, storage.Point{
			RunID:     b.RunID,
			Step:      b.Step,
			Timestamp: b.Time,
			Key:       key,
			Value:     v.Number,
			Text:      v.Text,
			IsText:    v.IsText,
		})
		return true
	})
	return points
}
