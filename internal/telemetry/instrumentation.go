package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span attributes stay low-cardinality: operation names, formats and statuses only.
// Series names, chapter numbers, URLs and file names belong in logs.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// InstrumentOperation wraps fn in a span tagged with component and operation.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentHistoryOperation instruments chapter history database operations.
func (t *Telemetry) InstrumentHistoryOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "history_"+operation, "history", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordHistoryOperation(operation, status, time.Since(start))

	return err
}

// InstrumentChapter instruments one chapter's download-and-package cycle.
func (t *Telemetry) InstrumentChapter(ctx context.Context, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "chapter", "pipeline", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordChapter(status, time.Since(start))

	return err
}

// InstrumentPackaging instruments a packaging run.
func (t *Telemetry) InstrumentPackaging(ctx context.Context, format string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "package_"+format, "packaging", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordPackaging(format, status)

	return err
}
