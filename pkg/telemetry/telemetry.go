// ABOUTME: Telemetry abstraction over OpenTelemetry used to instrument scanners, stores and the gRPC layer
// ABOUTME: Components record histograms, counters and spans through this interface and never touch the SDK directly

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry records metrics and spans for bucketscan components.
type Telemetry interface {
	// RecordHistogram records a histogram value with optional attributes.
	RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue)

	// RecordCounter records a counter increment with optional attributes.
	RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue)

	// StartSpan creates a new tracing span with the given name and attributes.
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)

	// Shutdown flushes pending data and stops all exporters.
	Shutdown(ctx context.Context) error
}

// ComponentMetrics is implemented by the per-component metrics types.
type ComponentMetrics interface {
	Close() error
}

// NoopTelemetry discards everything.
type NoopTelemetry struct{}

// NewNoop creates a new no-operation telemetry instance.
func NewNoop() Telemetry {
	return &NoopTelemetry{}
}

// RecordHistogram is a no-op.
func (n *NoopTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
}

// RecordCounter is a no-op.
func (n *NoopTelemetry) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
}

// StartSpan returns the original context and the span already carried by it.
func (n *NoopTelemetry) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

// Shutdown is a no-op.
func (n *NoopTelemetry) Shutdown(ctx context.Context) error {
	return nil
}

// RecordDuration records the time elapsed since start, in seconds.
func RecordDuration(ctx context.Context, tel Telemetry, name string, start time.Time, attrs ...attribute.KeyValue) {
	tel.RecordHistogram(ctx, name, time.Since(start).Seconds(), attrs...)
}

// Attribute keys
const (
	AttrOperationType = "operation.type"
	AttrComponent     = "component"
	AttrStatus        = "status"

	AttrColumnFamily = "column_family"
	AttrBucket       = "bucket"
	AttrReversed     = "reversed"
	AttrMethod       = "rpc.method"
)

// Attribute values
const (
	OpTypeLoad  = "load"
	OpTypeNext  = "next"
	OpTypeRead  = "read_range"
	OpTypePut   = "put"
	OpTypeDel   = "delete"
	OpTypeRetry = "retry"

	StatusSuccess = "success"
	StatusError   = "error"
	StatusEmpty   = "empty"

	ComponentScanner = "scanner"
	ComponentGRPC    = "grpc"
)

// StatusFromError maps an error to a status attribute value.
func StatusFromError(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
