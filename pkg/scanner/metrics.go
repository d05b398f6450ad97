// ABOUTME: Scanner telemetry: per-load read sizes, boundary trims and delivered page sizes
// ABOUTME: Backed by the telemetry interface with a no-op implementation when telemetry is absent

package scanner

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/bucketscan/pkg/telemetry"
)

// Metrics records scanner activity. All methods must be safe to call with a
// no-op implementation.
type Metrics interface {
	telemetry.ComponentMetrics

	// RecordLoad records one page fetch: the limit sent to the store, the raw
	// number of columns it returned, and whether the boundary column was trimmed.
	RecordLoad(ctx context.Context, duration time.Duration, requested, returned int, trimmed bool, err error)

	// RecordPage records a page handed to the caller by Next.
	RecordPage(ctx context.Context, size int)
}

type scannerMetrics struct {
	tel   telemetry.Telemetry
	attrs []attribute.KeyValue
}

// NewMetrics creates scanner metrics tagged with the scan's column family and
// direction. A nil tel yields a no-op implementation.
func NewMetrics(tel telemetry.Telemetry, columnFamily string, reversed bool) Metrics {
	if tel == nil {
		return noopMetrics{}
	}
	return &scannerMetrics{
		tel: tel,
		attrs: []attribute.KeyValue{
			attribute.String(telemetry.AttrComponent, telemetry.ComponentScanner),
			attribute.String(telemetry.AttrColumnFamily, columnFamily),
			attribute.Bool(telemetry.AttrReversed, reversed),
		},
	}
}

// NewNoopMetrics returns metrics that record nothing.
func NewNoopMetrics() Metrics {
	return noopMetrics{}
}

func (m *scannerMetrics) with(extra ...attribute.KeyValue) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m.attrs)+len(extra))
	attrs = append(attrs, m.attrs...)
	return append(attrs, extra...)
}

func (m *scannerMetrics) RecordLoad(ctx context.Context, duration time.Duration, requested, returned int, trimmed bool, err error) {
	status := telemetry.StatusFromError(err)
	if err == nil && returned == 0 {
		status = telemetry.StatusEmpty
	}

	m.tel.RecordHistogram(ctx, "bucketscan.scanner.load.duration", duration.Seconds(),
		m.with(attribute.String(telemetry.AttrStatus, status))...)

	m.tel.RecordCounter(ctx, "bucketscan.scanner.loads.total", 1,
		m.with(
			attribute.String(telemetry.AttrOperationType, telemetry.OpTypeLoad),
			attribute.String(telemetry.AttrStatus, status),
		)...)

	if err != nil {
		return
	}

	m.tel.RecordHistogram(ctx, "bucketscan.scanner.load.columns", float64(returned),
		m.with(attribute.Bool("full_page", returned == requested))...)

	if trimmed {
		m.tel.RecordCounter(ctx, "bucketscan.scanner.boundary_trims.total", 1, m.attrs...)
	}
}

func (m *scannerMetrics) RecordPage(ctx context.Context, size int) {
	m.tel.RecordHistogram(ctx, "bucketscan.scanner.page.size", float64(size),
		m.with(attribute.String(telemetry.AttrOperationType, telemetry.OpTypeNext))...)
}

func (m *scannerMetrics) Close() error {
	return nil
}

type noopMetrics struct{}

func (noopMetrics) RecordLoad(context.Context, time.Duration, int, int, bool, error) {}

func (noopMetrics) RecordPage(context.Context, int) {}

func (noopMetrics) Close() error {
	return nil
}
