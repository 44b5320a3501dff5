package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kbukum/filestore/errors"
)

// StatusOK is the status attribute of a successful operation.
const StatusOK = "ok"

// Operation tracks one storage call: a span plus the operation metrics.
type Operation struct {
	Backend   string
	Name      string
	StartTime time.Time

	ctx     context.Context
	span    trace.Span
	metrics *StorageMetrics
}

// StartOperation opens a "storage.<name>" span. metrics may be nil.
func StartOperation(ctx context.Context, metrics *StorageMetrics, backend, name string, attrs ...attribute.KeyValue) (context.Context, *Operation) {
	ctx, span := StartSpan(ctx, "storage."+name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String(AttrBackend, backend),
		attribute.String(AttrOperation, name),
	)
	span.SetAttributes(attrs...)
	return ctx, &Operation{
		Backend:   backend,
		Name:      name,
		StartTime: time.Now(),
		ctx:       ctx,
		span:      span,
		metrics:   metrics,
	}
}

// SetAttributes adds attributes to the operation span.
func (op *Operation) SetAttributes(attrs ...attribute.KeyValue) {
	op.span.SetAttributes(attrs...)
}

// End closes the span and records the outcome. It returns err unchanged.
func (op *Operation) End(err error) error {
	status := StatusFor(err)
	if err != nil {
		SetSpanError(op.ctx, err)
	}
	op.span.SetAttributes(attribute.String(AttrStatus, status))
	op.span.End()
	op.metrics.RecordOperation(op.ctx, op.Backend, op.Name, status, time.Since(op.StartTime))
	return err
}

// StatusFor maps an error to the status attribute: "ok", the error code, or "error".
func StatusFor(err error) string {
	if err == nil {
		return StatusOK
	}
	if appErr, ok := errors.AsAppError(err); ok {
		return string(appErr.Code)
	}
	return "error"
}
