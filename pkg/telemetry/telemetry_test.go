// ABOUTME: Tests for the no-op telemetry implementation and shared helpers
// ABOUTME: Verifies no-op calls are safe and helper functions compute values correctly

package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

type recordingTelemetry struct {
	NoopTelemetry
	name  string
	value float64
}

func (r *recordingTelemetry) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	r.name = name
	r.value = value
}

func TestNoopTelemetry(t *testing.T) {
	tel := NewNoop()
	ctx := context.Background()

	tel.RecordHistogram(ctx, "x", 1.0)
	tel.RecordCounter(ctx, "y", 1)

	spanCtx, span := tel.StartSpan(ctx, "z")
	if spanCtx != ctx {
		t.Error("expected the same context back from a no-op span")
	}
	span.End()

	if err := tel.Shutdown(ctx); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestRecordDuration(t *testing.T) {
	rec := &recordingTelemetry{}
	start := time.Now().Add(-50 * time.Millisecond)

	RecordDuration(context.Background(), rec, "bucketscan.op.duration", start)

	if rec.name != "bucketscan.op.duration" {
		t.Errorf("unexpected metric name %q", rec.name)
	}
	if rec.value < 0.05 {
		t.Errorf("expected at least 0.05s, got %f", rec.value)
	}
}

func TestStatusFromError(t *testing.T) {
	if StatusFromError(nil) != StatusSuccess {
		t.Error("nil error should map to success")
	}
	if StatusFromError(errors.New("boom")) != StatusError {
		t.Error("non-nil error should map to error")
	}
}
