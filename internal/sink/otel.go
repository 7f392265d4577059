package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/thisdougb/runlog/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/thisdougb/runlog"

// OTel records numeric values on an OpenTelemetry gauge. Labels have no
// OpenTelemetry counterpart and are skipped.
type OTel struct {
	provider *sdkmetric.MeterProvider
	values   metric.Float64Gauge
	batches  metric.Int64Counter
}

// NewOTLP exports to an OTLP/HTTP collector at endpoint (host:port) every
// interval.
func NewOTLP(ctx context.Context, endpoint, project string, interval time.Duration) (*OTel, error) {
	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(endpoint),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	if interval <= 0 {
		interval = 10 * time.Second
	}
	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	return NewOTel(reader, project)
}

// NewOTel builds the sink on an explicit reader.
func NewOTel(reader sdkmetric.Reader, project string) (*OTel, error) {
	res := resource.NewSchemaless(
		attribute.String("service.name", "runlog"),
		attribute.String("runlog.project", project),
	)

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	meter := provider.Meter(meterName)

	values, err := meter.Float64Gauge("runlog.metric",
		metric.WithDescription("Latest logged value per compound key"))
	if err != nil {
		return nil, fmt.Errorf("create gauge: %w", err)
	}

	batches, err := meter.Int64Counter("runlog.batches",
		metric.WithDescription("Log calls received per run"))
	if err != nil {
		return nil, fmt.Errorf("create counter: %w", err)
	}

	return &OTel{provider: provider, values: values, batches: batches}, nil
}

func (o *OTel) Write(ctx context.Context, b Batch) error {
	run := attribute.String("run", b.RunID)
	o.batches.Add(ctx, 1, metric.WithAttributes(run))
	if b.Values == nil {
		return nil
	}

	b.Values.Range(func(key string, v metrics.Value) bool {
		if !v.IsText {
			o.values.Record(ctx, v.Number, metric.WithAttributes(run, attribute.String("key", key)))
		}
		return true
	})
	return nil
}

// Close flushes pending exports and shuts the provider down.
func (o *OTel) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}
