// Package observability wires OpenTelemetry tracing and metrics for the
// storage layer.
//
//	shutdown, err := observability.Setup(ctx, cfg.Observability)
//	defer shutdown(context.Background())
//
//	metrics, err := observability.NewStorageMetrics(observability.Meter(observability.InstrumentationName))
//	ctx, op := observability.StartOperation(ctx, metrics, "s3", "upload")
//	err = doUpload(ctx)
//	op.End(err)
package observability
