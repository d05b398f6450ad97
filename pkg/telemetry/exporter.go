// ABOUTME: Exporter factory building metric readers and span exporters from a telemetry Config
// ABOUTME: Supports stdout, Prometheus (pull, on a private registry) and OTLP over gRPC

package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// createMetricReaders returns one reader per metric-capable exporter. When the
// prometheus exporter is configured the returned handler serves its registry.
func createMetricReaders(cfg Config, out io.Writer) ([]sdkmetric.Reader, http.Handler, error) {
	var readers []sdkmetric.Reader
	var handler http.Handler

	for _, name := range cfg.Exporters {
		switch name {
		case ExporterStdout:
			exp, err := stdoutmetric.New(stdoutmetric.WithWriter(out), stdoutmetric.WithPrettyPrint())
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
			}
			readers = append(readers, sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.ExportInterval)))

		case ExporterPrometheus:
			registry := prometheus.NewRegistry()
			exp, err := otelprom.New(otelprom.WithRegisterer(registry))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
			}
			readers = append(readers, exp)
			handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

		default:
			// otlp only carries traces here
		}
	}

	return readers, handler, nil
}

// createTraceExporters returns one span exporter per trace-capable exporter.
func createTraceExporters(cfg Config, out io.Writer) ([]sdktrace.SpanExporter, error) {
	var exporters []sdktrace.SpanExporter

	for _, name := range cfg.Exporters {
		switch name {
		case ExporterStdout:
			exp, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
			}
			exporters = append(exporters, exp)

		case ExporterOTLP:
			exp, err := otlptracegrpc.New(
				context.Background(),
				otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
				otlptracegrpc.WithInsecure(),
			)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
			}
			exporters = append(exporters, exp)

		default:
			// prometheus only carries metrics
		}
	}

	return exporters, nil
}
