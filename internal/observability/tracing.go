package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/vistoria/fieldsync/observability"

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartSyncSpan starts a span for a sync run phase
func StartSyncSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("sync.%s", phase),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("sync.phase", phase),
		),
	)
}

// StartStoreSpan starts a span for local store operations
func StartStoreSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("store.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.operation", operation),
		),
	)
}

// StartUploadSpan starts a span for a photo upload
func StartUploadSpan(ctx context.Context, remotePath string) (context.Context, trace.Span) {
	return StartSpan(ctx, "upload.photo",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upload.remote_path", remotePath),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SyncMetrics holds sync-related metric instruments
type SyncMetrics struct {
	runCount      metric.Int64Counter
	recordsSynced metric.Int64Counter
	recordsFailed metric.Int64Counter
	uploadRetries metric.Int64Counter
	runDuration   metric.Float64Histogram
}

// NewSyncMetrics creates sync metric instruments
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(instrumentationName)

	runCount, err := meter.Int64Counter(
		"sync.run.count",
		metric.WithDescription("Total number of sync runs"),
		metric.WithUnit("{runs}"),
	)
	if err != nil {
		return nil, err
	}

	recordsSynced, err := meter.Int64Counter(
		"sync.records.synced",
		metric.WithDescription("Total number of records acknowledged by the server"),
		metric.WithUnit("{records}"),
	)
	if err != nil {
		return nil, err
	}

	recordsFailed, err := meter.Int64Counter(
		"sync.records.failed",
		metric.WithDescription("Total number of records that ended a run in error"),
		metric.WithUnit("{records}"),
	)
	if err != nil {
		return nil, err
	}

	uploadRetries, err := meter.Int64Counter(
		"sync.upload.retries",
		metric.WithDescription("Total number of photo upload retry attempts"),
		metric.WithUnit("{attempts}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"sync.run.duration",
		metric.WithDescription("Sync run duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		runCount:      runCount,
		recordsSynced: recordsSynced,
		recordsFailed: recordsFailed,
		uploadRetries: uploadRetries,
		runDuration:   runDuration,
	}, nil
}

// RecordRun records the outcome of one sync run
func (m *SyncMetrics) RecordRun(ctx context.Context, mode string, synced, failed int, durationMs float64) {
	attrs := metric.WithAttributes(attribute.String("sync.mode", mode))
	m.runCount.Add(ctx, 1, attrs)
	m.recordsSynced.Add(ctx, int64(synced), attrs)
	m.recordsFailed.Add(ctx, int64(failed), attrs)
	m.runDuration.Record(ctx, durationMs, attrs)
}

// RecordUploadRetry counts one retried upload attempt
func (m *SyncMetrics) RecordUploadRetry(ctx context.Context) {
	m.uploadRetries.Add(ctx, 1)
}
