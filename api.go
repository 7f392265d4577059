package runlog

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/thisdougb/runlog/internal/core"
	"github.com/thisdougb/runlog/internal/metrics"
	"github.com/thisdougb/runlog/internal/sink"
	"github.com/thisdougb/runlog/internal/storage"
)

// Metric tree types
type (
	Tree   = metrics.Tree
	Node   = metrics.Node
	Leaf   = metrics.Leaf
	Text   = metrics.Text
	Scalar = metrics.Scalar
	Array  = metrics.Array
	Value  = metrics.Value

	// Values is a normalized metric map: compound key to label or float,
	// in first-visit order.
	Values = metrics.Flat[metrics.Value]

	// Leaves is a flattened metric map before coercion.
	Leaves = metrics.Flat[metrics.Leaf]

	// ConversionError describes a leaf that does not reduce to one float.
	ConversionError = metrics.ConversionError
)

// DefaultSeparator joins the keys of a path when none is configured.
const DefaultSeparator = metrics.DefaultSeparator

var (
	// ErrTypeConversion matches every error from a leaf that cannot be
	// reduced to a single float.
	ErrTypeConversion = metrics.ErrTypeConversion

	// ErrMissingToken is returned by NewRun for an active run without a
	// token.
	ErrMissingToken = core.ErrMissingToken

	// ErrClosed is returned by Run.Log after Close.
	ErrClosed = core.ErrClosed
)

// NewTree returns an empty metric tree.
func NewTree() *Tree {
	return metrics.NewTree()
}

// FromMap builds a tree from nested Go maps with keys sorted at every level.
// Numbers of any kind become Scalar, numeric slices become Vector and maps
// keyed by strings or integers become subtrees. Other values fail with
// ErrTypeConversion.
func FromMap(m map[string]any) (*Tree, error) {
	return metrics.FromMap(m)
}

// Vector returns a one dimensional array leaf.
func Vector(values ...float64) Array {
	return metrics.Vector(values...)
}

// Flatten turns a nested tree into a single level map whose keys are the
// paths joined by sep. An empty sep means DefaultSeparator.
func Flatten(t *Tree, sep string) *Leaves {
	return metrics.Flatten(t, sep)
}

// CoerceLeaf reduces a leaf to a label or a single float.
func CoerceLeaf(leaf Leaf) (Value, error) {
	return metrics.CoerceLeaf(leaf)
}

// Normalize flattens t and coerces every leaf. The first leaf that cannot
// be coerced aborts with an error matching ErrTypeConversion.
func Normalize(t *Tree, sep string) (*Values, error) {
	return metrics.Normalize(t, sep)
}

// CountParams is the total number of numeric elements in t.
func CountParams(t *Tree) int {
	return metrics.CountParams(t)
}

// Logger receives metric trees. What happens when a tree cannot be
// normalized or delivered is up to the implementation.
//
// A Logger may also implement io.Closer; use Close to release it either
// way.
type Logger interface {
	Log(ctx context.Context, t *Tree) error
}

// Nop is a Logger that discards everything. Embed it to get a no-op Close.
type Nop struct{}

func (Nop) Log(context.Context, *Tree) error { return nil }

func (Nop) Close() error { return nil }

// Close releases l if it implements io.Closer and does nothing otherwise.
// It is safe to call on a logger that never logged.
func Close(l Logger) error {
	if c, ok := l.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type multiLogger []Logger

// Multi returns a Logger that hands every tree to each of loggers in turn.
// Errors are joined; a failing logger does not stop the others.
func Multi(loggers ...Logger) Logger {
	return multiLogger(append([]Logger(nil), loggers...))
}

func (m multiLogger) Log(ctx context.Context, t *Tree) error {
	var errs []error
	for _, l := range m {
		if err := l.Log(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiLogger) Close() error {
	var errs []error
	for _, l := range m {
		if err := Close(l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sink receives every normalized batch of a run.
type (
	Sink  = sink.Sink
	Batch = sink.Batch
)

// StorageSink opens a sink that stores one point per key. driver is
// "memory", "sqlite" (dsn is the database file) or "postgres" (dsn is the
// connection URL).
func StorageSink(driver, dsn string) (Sink, error) {
	cfg := &storage.Config{
		Enabled:       true,
		Driver:        driver,
		DBPath:        dsn,
		DatabaseURL:   dsn,
		FlushInterval: time.Second,
		BatchSize:     100,
	}
	backend, err := storage.OpenBackend(cfg)
	if err != nil {
		return nil, err
	}
	manager := storage.NewManagerWithQueue(backend, true, cfg.FlushInterval, cfg.BatchSize)
	return sink.NewStorage(manager), nil
}

// Config configures a Run. See the field docs in internal/core.
type Config = core.Config

// ConfigFromEnv reads the RUNLOG_* environment and the optional
// runlog.yaml file. Sinks are left empty.
func ConfigFromEnv() Config {
	return core.ConfigFromEnv()
}

// SinksFromEnv opens the storage, Prometheus, OTLP and AMQP sinks switched
// on in the environment. Prometheus collectors are registered with reg.
func SinksFromEnv(ctx context.Context, project string, reg prometheus.Registerer) ([]Sink, error) {
	return core.SinksFromEnv(ctx, project, reg)
}

// Run is one logging session against the dashboard and the configured
// sinks. It implements Logger and io.Closer.
type Run struct {
	impl *core.Run
}

// NewRun opens a run. The run owns cfg.Sinks and closes them, also when
// NewRun fails.
func NewRun(ctx context.Context, cfg Config) (*Run, error) {
	impl, err := core.NewRun(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Run{impl: impl}, nil
}

// NewRunFromEnv opens a run configured entirely from the environment,
// registering Prometheus collectors with the default registerer.
func NewRunFromEnv(ctx context.Context) (*Run, error) {
	cfg := ConfigFromEnv()
	sinks, err := SinksFromEnv(ctx, cfg.Project, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}
	cfg.Sinks = sinks
	return NewRun(ctx, cfg)
}

// WithRun opens a run, passes it to fn and closes it whatever fn returns.
// Errors from fn and Close are joined.
func WithRun(ctx context.Context, cfg Config, fn func(*Run) error) (err error) {
	r, err := NewRun(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, r.Close())
	}()
	return fn(r)
}

// ID is the dashboard run id, a local id when no endpoint is set, or
// "disabled".
func (r *Run) ID() string {
	return r.impl.ID()
}

// Active reports whether the run transmits anything.
func (r *Run) Active() bool {
	return r.impl.Active()
}

// Step is the number of trees logged so far.
func (r *Run) Step() int64 {
	return r.impl.Step()
}

// Log normalizes t and sends it to the dashboard and every sink.
func (r *Run) Log(ctx context.Context, t *Tree) error {
	return r.impl.Log(ctx, t)
}

// LogMap is Log for a tree built with FromMap.
func (r *Run) LogMap(ctx context.Context, m map[string]any) error {
	t, err := metrics.FromMap(m)
	if err != nil {
		return err
	}
	return r.impl.Log(ctx, t)
}

// SetAttribute stores a run level value such as a hyperparameter.
func (r *Run) SetAttribute(ctx context.Context, key, value string) error {
	return r.impl.SetAttribute(ctx, key, value)
}

// Latest returns the last value logged under a compound key.
func (r *Run) Latest(key string) (Value, bool) {
	return r.impl.State().Latest(key)
}

// RollingMean returns the mean of the last numeric values of a key.
func (r *Run) RollingMean(key string) (float64, bool) {
	return r.impl.State().RollingMean(key)
}

// Dump returns the run description and latest values as JSON.
func (r *Run) Dump() string {
	return r.impl.Dump()
}

// IsClosed reports whether Close has been called.
func (r *Run) IsClosed() bool {
	return r.impl.IsClosed()
}

// Close records the end of the run and closes every sink. It is safe to
// call more than once.
func (r *Run) Close() error {
	return r.impl.Close()
}
