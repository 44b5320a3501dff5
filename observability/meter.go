package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/filestore/logger"
)

// InstrumentationName names the filestore tracer and meter.
const InstrumentationName = "github.com/kbukum/filestore"

// Metric names.
const (
	MetricOperationTotal    = "storage.operation.total"
	MetricOperationDuration = "storage.operation.duration"
	MetricSessionsActive    = "storage.multipart.sessions.active"
	MetricSessionsExpired   = "storage.multipart.sessions.expired"
	MetricAsyncInflight     = "storage.async.inflight"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// InitMeter installs a global meter provider exporting over OTLP/HTTP.
// The caller shuts it down on exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	logger.WithComponent("observability").Debug("meter initialized", logger.Fields(
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))
	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// StorageMetrics holds the storage layer's instruments.
type StorageMetrics struct {
	operationTotal    metric.Int64Counter
	operationDuration metric.Float64Histogram
	sessionsActive    metric.Int64UpDownCounter
	sessionsExpired   metric.Int64Counter
	asyncInflight     metric.Int64UpDownCounter
}

// NewStorageMetrics creates the storage instruments on meter.
func NewStorageMetrics(meter metric.Meter) (*StorageMetrics, error) {
	operationTotal, err := meter.Int64Counter(MetricOperationTotal,
		metric.WithDescription("Storage operations by backend, operation and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricOperationTotal, err)
	}

	operationDuration, err := meter.Float64Histogram(MetricOperationDuration,
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s histogram: %w", MetricOperationDuration, err)
	}

	sessionsActive, err := meter.Int64UpDownCounter(MetricSessionsActive,
		metric.WithDescription("Multipart upload sessions currently open"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s gauge: %w", MetricSessionsActive, err)
	}

	sessionsExpired, err := meter.Int64Counter(MetricSessionsExpired,
		metric.WithDescription("Multipart upload sessions removed by the expiry sweep"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s counter: %w", MetricSessionsExpired, err)
	}

	asyncInflight, err := meter.Int64UpDownCounter(MetricAsyncInflight,
		metric.WithDescription("Asynchronous uploads currently running"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating %s gauge: %w", MetricAsyncInflight, err)
	}

	return &StorageMetrics{
		operationTotal:    operationTotal,
		operationDuration: operationDuration,
		sessionsActive:    sessionsActive,
		sessionsExpired:   sessionsExpired,
		asyncInflight:     asyncInflight,
	}, nil
}

// RecordOperation records one finished storage operation.
func (m *StorageMetrics) RecordOperation(ctx context.Context, backend, operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
	m.operationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("operation", operation),
	))
}

// SessionOpened increments the open session gauge.
func (m *StorageMetrics) SessionOpened(ctx context.Context) {
	if m != nil {
		m.sessionsActive.Add(ctx, 1)
	}
}

// SessionClosed decrements the open session gauge.
func (m *StorageMetrics) SessionClosed(ctx context.Context) {
	if m != nil {
		m.sessionsActive.Add(ctx, -1)
	}
}

// SessionsExpired counts sessions removed by a sweep.
func (m *StorageMetrics) SessionsExpired(ctx context.Context, n int) {
	if m != nil && n > 0 {
		m.sessionsExpired.Add(ctx, int64(n))
	}
}

// AsyncStarted increments the in-flight async upload gauge.
func (m *StorageMetrics) AsyncStarted(ctx context.Context) {
	if m != nil {
		m.asyncInflight.Add(ctx, 1)
	}
}

// AsyncFinished decrements the in-flight async upload gauge.
func (m *StorageMetrics) AsyncFinished(ctx context.Context) {
	if m != nil {
		m.asyncInflight.Add(ctx, -1)
	}
}
