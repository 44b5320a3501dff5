package storage_test

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kbukum/filestore/observability"
	"github.com/kbukum/filestore/storage"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Sum[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]metricdata.Sum[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				out[m.Name] = sum
			}
		}
	}
	return out
}

func TestService_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := observability.NewStorageMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewStorageMetrics: %v", err)
	}
	svc, _ := newService(t, storage.Config{}, storage.WithMetrics(metrics))
	ctx := context.Background()

	upload(t, svc, "a.txt", []byte("a"))
	_, _ = svc.Download(ctx, "missing")
	sessionID := initiate(t, svc, "b.bin")

	sums := collectSums(t, reader)

	total := sums[observability.MetricOperationTotal]
	statuses := make(map[string]int64)
	for _, dp := range total.DataPoints {
		op, _ := dp.Attributes.Value(attribute.Key("operation"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		statuses[op.AsString()+"/"+status.AsString()] += dp.Value
	}
	if statuses["Upload/ok"] != 1 {
		t.Errorf("expected one ok Upload, got %v", statuses)
	}
	if statuses["Download/NOT_FOUND"] != 1 {
		t.Errorf("expected one NOT_FOUND Download, got %v", statuses)
	}

	active := sums[observability.MetricSessionsActive]
	if len(active.DataPoints) != 1 || active.DataPoints[0].Value != 1 {
		t.Errorf("expected one active session, got %+v", active.DataPoints)
	}

	if err := svc.AbortMultipartUpload(ctx, sessionID); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	active = collectSums(t, reader)[observability.MetricSessionsActive]
	if active.DataPoints[0].Value != 0 {
		t.Errorf("expected no active sessions after abort, got %d", active.DataPoints[0].Value)
	}

	for key := range statuses {
		if strings.HasPrefix(key, "/") {
			t.Errorf("operation attribute missing: %q", key)
		}
	}
}
