// ABOUTME: Telemetry configuration: exporters, sampling, batching, with env overrides and validation
// ABOUTME: Defaults keep telemetry disabled so library users opt in explicitly

package telemetry

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Exporter names
const (
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
)

// Config holds all configuration for telemetry providers and exporters.
type Config struct {
	// ServiceName identifies the service in telemetry data
	ServiceName string `json:"service_name"`

	// ServiceVersion identifies the service version in telemetry data
	ServiceVersion string `json:"service_version"`

	// Enabled controls whether telemetry is active
	Enabled bool `json:"enabled"`

	// Exporters lists the exporters to use (stdout, prometheus, otlp)
	Exporters []string `json:"exporters"`

	// SampleRate controls trace sampling (0.0 to 1.0)
	SampleRate float64 `json:"sample_rate"`

	// PrometheusAddr is the listen address of the /metrics endpoint
	PrometheusAddr string `json:"prometheus_addr"`

	// OTLPEndpoint is the host:port of the OTLP gRPC collector
	OTLPEndpoint string `json:"otlp_endpoint"`

	// ExportInterval controls how often metrics are pushed to push-based exporters
	ExportInterval time.Duration `json:"export_interval"`

	// BatchTimeout controls how long to wait before exporting a span batch
	BatchTimeout time.Duration `json:"batch_timeout"`

	// MaxQueueSize controls the maximum queue size for pending spans
	MaxQueueSize int `json:"max_queue_size"`

	// MaxExportBatchSize controls the maximum span batch size
	MaxExportBatchSize int `json:"max_export_batch_size"`
}

// DefaultConfig returns a disabled configuration with sensible values for every field.
func DefaultConfig() Config {
	return Config{
		ServiceName:        "bucketscan",
		ServiceVersion:     "development",
		Enabled:            false,
		Exporters:          []string{ExporterStdout},
		SampleRate:         1.0,
		PrometheusAddr:     "localhost:9464",
		OTLPEndpoint:       "localhost:4317",
		ExportInterval:     30 * time.Second,
		BatchTimeout:       5 * time.Second,
		MaxQueueSize:       2048,
		MaxExportBatchSize: 512,
	}
}

// LoadFromEnv overrides fields from BUCKETSCAN_TELEMETRY_* environment variables.
// Unparseable values are ignored.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv("BUCKETSCAN_TELEMETRY_SERVICE_NAME"); val != "" {
		c.ServiceName = val
	}

	if val := os.Getenv("BUCKETSCAN_TELEMETRY_SERVICE_VERSION"); val != "" {
		c.ServiceVersion = val
	}

	if val := os.Getenv("BUCKETSCAN_TELEMETRY_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Enabled = enabled
		}
	}

	if val := os.Getenv("BUCKETSCAN_TELEMETRY_EXPORTERS"); val != "" {
		c.Exporters = strings.Split(val, ",")
		for i := range c.Exporters {
			c.Exporters[i] = strings.TrimSpace(c.Exporters[i])
		}
	}

	if val := os.Getenv("BUCKETSCAN_TELEMETRY_SAMPLE_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.SampleRate = rate
		}
	}

	if val := os.Getenv("BUCKETSCAN_TELEMETRY_PROMETHEUS_ADDR"); val != "" {
		c.PrometheusAddr = val
	}

	if val := os.Getenv("BUCKETSCAN_TELEMETRY_OTLP_ENDPOINT"); val != "" {
		c.OTLPEndpoint = val
	}

	if val := os.Getenv("BUCKETSCAN_TELEMETRY_EXPORT_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.ExportInterval = d
		}
	}

	if val := os.Getenv("BUCKETSCAN_TELEMETRY_BATCH_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.BatchTimeout = d
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name cannot be empty")
	}

	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version cannot be empty")
	}

	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0, got %f", c.SampleRate)
	}

	if c.ExportInterval <= 0 {
		return fmt.Errorf("export_interval must be positive, got %s", c.ExportInterval)
	}

	if c.BatchTimeout <= 0 {
		return fmt.Errorf("batch_timeout must be positive, got %s", c.BatchTimeout)
	}

	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be positive, got %d", c.MaxQueueSize)
	}

	if c.MaxExportBatchSize <= 0 || c.MaxExportBatchSize > c.MaxQueueSize {
		return fmt.Errorf("max_export_batch_size must be in (0, max_queue_size], got %d", c.MaxExportBatchSize)
	}

	for _, exporter := range c.Exporters {
		switch exporter {
		case ExporterStdout, ExporterPrometheus, ExporterOTLP:
		default:
			return fmt.Errorf("invalid exporter: %s, valid options are: stdout, prometheus, otlp", exporter)
		}
	}

	if c.HasExporter(ExporterPrometheus) && c.PrometheusAddr == "" {
		return fmt.Errorf("prometheus_addr is required when the prometheus exporter is enabled")
	}

	if c.HasExporter(ExporterOTLP) && c.OTLPEndpoint == "" {
		return fmt.Errorf("otlp_endpoint is required when the otlp exporter is enabled")
	}

	return nil
}

// HasExporter returns true if the specified exporter is configured.
func (c *Config) HasExporter(name string) bool {
	for _, exporter := range c.Exporters {
		if exporter == name {
			return true
		}
	}
	return false
}
