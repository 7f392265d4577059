// Package sink delivers normalized metric batches to the places a run
// reports to: the dashboard service, local storage, Prometheus,
// OpenTelemetry and a message bus.
package sink

import (
	"context"
	"time"

	"github.com/thisdougb/runlog/internal/metrics"
)

// Batch is the normalized result of one Log call.
type Batch struct {
	RunID  string
	Step   int64
	Time   time.Time
	Values *metrics.Flat[metrics.Value]
}

// Sink receives every batch of a run. Close is called once when the run
// ends.
type Sink interface {
	Write(ctx context.Context, b Batch) error
	Close() error
}

// Attributer is implemented by sinks that keep run level values such as
// package versions or the run state.
type Attributer interface {
	SetAttribute(ctx context.Context, runID, key, value string) error
}
