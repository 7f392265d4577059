package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thisdougb/runlog/internal/config"
	"github.com/thisdougb/runlog/internal/metrics"
	"github.com/thisdougb/runlog/internal/sink"
	"go.uber.org/zap"
)

var (
	// ErrMissingToken is returned by NewRun when an active run has no
	// credential token.
	ErrMissingToken = errors.New("no credential token, set RUNLOG_TOKEN")

	// ErrClosed is returned by Log after Close.
	ErrClosed = errors.New("run is closed")
)

// Run attribute keys.
const (
	AttrStart    = "train/start"
	AttrEnd      = "train/end"
	AttrPackages = "package_versions/go"
	AttrHost     = "host"
)

// Run is one logging session. It normalizes every tree passed to Log and
// hands the result to the dashboard and the configured sinks. Log and
// Close may be called from several goroutines.
type Run struct {
	cfg       Config
	id        string
	started   time.Time
	ctx       context.Context
	sinks     []sink.Sink
	state     *State
	collector *metrics.SystemCollector

	mu     sync.Mutex
	step   int64
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// NewRun opens a run. An active run creates its dashboard run (when an
// endpoint is set) and records the start time, package versions and host
// description. A disabled run only accepts calls.
func NewRun(ctx context.Context, cfg Config) (*Run, error) {
	if cfg.Separator == "" {
		cfg.Separator = metrics.DefaultSeparator
	}

	r := &Run{
		cfg:     cfg,
		started: time.Now(),
		state:   NewState(cfg.RollingSize),
		sinks:   cfg.Sinks,
	}

	if !cfg.Active() {
		r.id = "disabled"
		r.ctx = config.WithRunID(ctx, r.id)
		config.LogInfo(r.ctx, "logging disabled, set RUNLOG_FORCE to override")
		return r, nil
	}

	if cfg.Token == "" {
		closeSinks(cfg.Sinks)
		return nil, ErrMissingToken
	}

	if cfg.Endpoint != "" {
		dashboard, err := sink.NewDashboard(sink.DashboardConfig{
			Endpoint: cfg.Endpoint,
			Token:    cfg.Token,
			Project:  cfg.Project,
			Name:     cfg.Name,
		})
		if err != nil {
			closeSinks(cfg.Sinks)
			return nil, err
		}

		id, err := dashboard.CreateRun(ctx)
		if err != nil {
			closeSinks(cfg.Sinks)
			return nil, err
		}
		r.id = id
		r.sinks = append([]sink.Sink{dashboard}, cfg.Sinks...)
	} else {
		r.id = uuid.New().String()
	}
	r.ctx = config.WithRunID(ctx, r.id)

	err := r.setAttributes(r.ctx, map[string]string{
		AttrStart:    r.started.Format(time.RFC3339Nano),
		AttrPackages: PackageVersions(),
		AttrHost:     HostInfo(),
	})
	if err != nil {
		closeSinks(r.sinks)
		return nil, fmt.Errorf("record run start: %w", err)
	}

	if cfg.SampleRate > 0 {
		r.collector = metrics.NewSystemCollectorWithInterval(r, cfg.SampleRate)
		r.collector.Start()
	}

	config.LogInfo(r.ctx, "run started",
		zap.String("project", cfg.Project),
		zap.String("name", cfg.Name),
		zap.Int("sinks", len(r.sinks)))
	return r, nil
}

// ID is the dashboard run id, or a local id when there is no dashboard.
func (r *Run) ID() string {
	return r.id
}

// Active reports whether the run transmits anything.
func (r *Run) Active() bool {
	return r.cfg.Active()
}

// Step is the number of trees logged so far.
func (r *Run) Step() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.step
}

// Log normalizes t and sends it to every sink. A tree that cannot be
// normalized is not sent anywhere and does not advance the step. Sink
// failures are joined; one failing sink does not stop the others.
func (r *Run) Log(ctx context.Context, t *metrics.Tree) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if !r.Active() {
		return nil
	}

	values, err := metrics.Normalize(t, r.cfg.Separator)
	if err != nil {
		return err
	}

	r.step++
	batch := sink.Batch{RunID: r.id, Step: r.step, Time: time.Now(), Values: values}
	r.state.Record(values, batch.Time)

	ctx = config.WithRunID(ctx, r.id)
	var errs []error
	for _, s := range r.sinks {
		if err := s.Write(ctx, batch); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		config.LogError(ctx, "sink write failed", zap.Int64("step", r.step), zap.Error(err))
		return err
	}

	config.LogDebug(ctx, "logged", zap.Int64("step", r.step), zap.Int("keys", values.Len()))
	return nil
}

// SetAttribute stores a run level value on every sink that keeps them.
func (r *Run) SetAttribute(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if !r.Active() {
		return nil
	}
	return r.setAttributes(config.WithRunID(ctx, r.id), map[string]string{key: value})
}

// Close records the end of training and closes every sink. Later calls
// return the result of the first.
func (r *Run) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.close()
	})
	return r.closeErr
}

func (r *Run) close() error {
	// the collector logs through r, stop it before taking the lock
	if r.collector != nil {
		r.collector.Stop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true

	var errs []error
	if r.Active() {
		end := time.Now()
		if err := r.setAttributes(r.ctx, map[string]string{AttrEnd: end.Format(time.RFC3339Nano)}); err != nil {
			errs = append(errs, fmt.Errorf("record run end: %w", err))
		}
		config.LogInfo(r.ctx, "run finished",
			zap.Int64("steps", r.step),
			zap.Duration("duration", end.Sub(r.started)))
	}

	if err := closeSinks(r.sinks); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Sinks returns the sinks the run writes to, dashboard first.
func (r *Run) Sinks() []sink.Sink {
	return append([]sink.Sink(nil), r.sinks...)
}

// State is the live view of logged values.
func (r *Run) State() *State {
	return r.state
}

// IsClosed reports whether Close has been called.
func (r *Run) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Dump returns a JSON description of the run and the latest value of
// every key.
func (r *Run) Dump() string {
	r.mu.Lock()
	output := map[string]interface{}{
		"RunID":   r.id,
		"Project": r.cfg.Project,
		"Name":    r.cfg.Name,
		"Started": r.started.Unix(),
		"Step":    r.step,
		"Active":  r.Active(),
		"Closed":  r.closed,
		"Metrics": r.state,
	}
	r.mu.Unlock()

	data, err := json.MarshalIndent(output, "", "    ")
	if err != nil {
		config.LogError(r.ctx, "JSON marshalling failed", zap.Error(err))
		return "{}"
	}
	return string(data)
}

// setAttributes assumes the caller holds mu or is still constructing r.
func (r *Run) setAttributes(ctx context.Context, attrs map[string]string) error {
	var errs []error
	for _, s := range r.sinks {
		a, ok := s.(sink.Attributer)
		if !ok {
			continue
		}
		for key, value := range attrs {
			if err := a.SetAttribute(ctx, r.id, key, value); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func closeSinks(sinks []sink.Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
