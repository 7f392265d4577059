package storage

import "time"

// Backend defines the interface for all storage implementations
type Backend interface {
	WritePoints(points []Point) error
	SetAttribute(runID, key, value string) error
	ReadSeries(runID, key string, start, end time.Time) ([]Point, error)
	ReadAttributes(runID string) (map[string]string, error)
	ListKeys(runID string) ([]string, error)
	ListRuns() ([]string, error)
	Close() error
}

// Point is one logged value of one compound key within a run
type Point struct {
	RunID     string    `json:"run_id"`
	Step      int64     `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Text      string    `json:"text,omitempty"`
	IsText    bool      `json:"is_text,omitempty"`
}

// inRange reports whether ts falls within [start, end]. A zero bound is
// open.
func inRange(ts, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && ts.After(end) {
		return false
	}
	return true
}
