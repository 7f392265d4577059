package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/thisdougb/runlog/internal/config"
	"github.com/thisdougb/runlog/internal/sink"
	"github.com/thisdougb/runlog/internal/storage"
)

// Config holds everything a run needs. The zero value is not usable: an
// active run needs a Token.
type Config struct {
	Token     string
	Project   string // workspace/project
	Name      string
	Endpoint  string // dashboard base URL, empty keeps the run local
	Separator string

	Disable bool // skip all transmission
	Force   bool // log even when Disable is set

	RollingSize int
	SampleRate  time.Duration // system metrics interval, 0 disables

	// Sinks receive every batch besides the dashboard. The run owns them
	// and closes them on Close.
	Sinks []sink.Sink
}

// Active reports whether the run transmits anything.
func (c Config) Active() bool {
	return !c.Disable || c.Force
}

// ConfigFromEnv reads the RUNLOG_* settings. Sinks are not included, see
// SinksFromEnv.
func ConfigFromEnv() Config {
	return Config{
		Token:       config.StringValue("RUNLOG_TOKEN"),
		Project:     config.StringValue("RUNLOG_PROJECT"),
		Name:        config.StringValue("RUNLOG_NAME"),
		Endpoint:    config.StringValue("RUNLOG_ENDPOINT"),
		Separator:   config.StringValue("RUNLOG_SEPARATOR"),
		Disable:     config.BoolValue("RUNLOG_DISABLE"),
		Force:       config.BoolValue("RUNLOG_FORCE"),
		RollingSize: config.IntValue("RUNLOG_ROLLING_SIZE"),
		SampleRate:  time.Duration(config.IntValue("RUNLOG_SAMPLE_RATE")) * time.Second,
	}
}

// SinksFromEnv opens the local and telemetry sinks switched on in the
// environment. Prometheus collectors are registered with reg.
func SinksFromEnv(ctx context.Context, project string, reg prometheus.Registerer) ([]sink.Sink, error) {
	var sinks []sink.Sink
	fail := func(err error) ([]sink.Sink, error) {
		for _, s := range sinks {
			err = errors.Join(err, s.Close())
		}
		return nil, err
	}

	if config.BoolValue("RUNLOG_PERSISTENCE_ENABLED") {
		manager, err := storage.NewManagerFromConfig()
		if err != nil {
			return fail(fmt.Errorf("open storage: %w", err))
		}
		sinks = append(sinks, sink.NewStorage(manager))
	}

	if config.BoolValue("RUNLOG_PROMETHEUS_ENABLED") {
		p, err := sink.NewPrometheus(reg)
		if err != nil {
			return fail(fmt.Errorf("prometheus sink: %w", err))
		}
		sinks = append(sinks, p)
	}

	if endpoint := config.StringValue("RUNLOG_OTLP_ENDPOINT"); endpoint != "" {
		o, err := sink.NewOTLP(ctx, endpoint, project, config.DurationValue("RUNLOG_FLUSH_INTERVAL"))
		if err != nil {
			return fail(fmt.Errorf("otlp sink: %w", err))
		}
		sinks = append(sinks, o)
	}

	if url := config.StringValue("RUNLOG_AMQP_URL"); url != "" {
		a, err := sink.DialAMQP(url, config.StringValue("RUNLOG_AMQP_EXCHANGE"))
		if err != nil {
			return fail(fmt.Errorf("amqp sink: %w", err))
		}
		sinks = append(sinks, a)
	}

	return sinks, nil
}
