package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/KevoDB/bucketscan/pkg/common/log"
	"github.com/KevoDB/bucketscan/pkg/grpc/storagepb"
	"github.com/KevoDB/bucketscan/pkg/telemetry"
)

const (
	DefaultConfigFileName = "bucketscan.json"
	CurrentConfigVersion  = 1
)

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("configuration file not found")
)

// Store engines
const (
	EngineMemory = "memory"
	EngineBolt   = "bolt"
	EngineRemote = "remote"
)

type Config struct {
	Version int `json:"version"`

	// Scan defaults
	PageSize    int  `json:"page_size"`
	Reversed    bool `json:"reversed"`
	BucketCount int  `json:"bucket_count"`

	// Store configuration
	Engine      string        `json:"engine"`
	DataDir     string        `json:"data_dir"`
	LockTimeout time.Duration `json:"lock_timeout"`
	NoSync      bool          `json:"no_sync"`

	// Remote store and server configuration
	Endpoint       string        `json:"endpoint"`
	ListenAddr     string        `json:"listen_addr"`
	Compression    string        `json:"compression"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxMessageSize int           `json:"max_message_size"`
	TLSEnabled     bool          `json:"tls_enabled"`
	CertFile       string        `json:"cert_file"`
	KeyFile        string        `json:"key_file"`
	CAFile         string        `json:"ca_file"`

	// Retry policy for remote calls
	MaxRetries     int           `json:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
	BackoffFactor  float64       `json:"backoff_factor"`
	Jitter         float64       `json:"jitter"`

	LogLevel string `json:"log_level"`

	Telemetry telemetry.Config `json:"telemetry"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(dataDir string) *Config {
	return &Config{
		Version: CurrentConfigVersion,

		// Scan defaults
		PageSize:    100,
		BucketCount: 16,

		// Store defaults
		Engine:      EngineMemory,
		DataDir:     dataDir,
		LockTimeout: time.Second,

		// Remote defaults
		Endpoint:       "localhost:50061",
		ListenAddr:     "localhost:50061",
		Compression:    "none",
		RequestTimeout: 10 * time.Second,
		MaxMessageSize: 16 * 1024 * 1024, // 16MB

		// Retry defaults
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
		Jitter:         0.2,

		LogLevel: "info",

		Telemetry: telemetry.DefaultConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.validate()
}

func (c *Config) validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("%w: page size must be positive", ErrInvalidConfig)
	}

	if c.BucketCount <= 0 {
		return fmt.Errorf("%w: bucket count must be positive", ErrInvalidConfig)
	}

	switch c.Engine {
	case EngineMemory:
	case EngineBolt:
		if c.DataDir == "" {
			return fmt.Errorf("%w: data directory not specified", ErrInvalidConfig)
		}
	case EngineRemote:
		if c.Endpoint == "" {
			return fmt.Errorf("%w: remote endpoint not specified", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalidConfig, c.Engine)
	}

	if _, err := storagepb.ParseCodec(c.Compression); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	}

	if c.MaxRetries > 0 && c.BackoffFactor < 1.0 {
		return fmt.Errorf("%w: backoff factor must be at least 1.0", ErrInvalidConfig)
	}

	if c.TLSEnabled && (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("%w: certificate and key files must be set together", ErrInvalidConfig)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: telemetry: %v", ErrInvalidConfig, err)
	}

	return nil
}

// LoadConfig reads a JSON configuration file. Fields missing from the file
// keep their defaults, and BUCKETSCAN_* environment variables override both.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig("")
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.LoadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig writes the configuration to path atomically
func (c *Config) SaveConfig(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// LoadFromEnv overrides fields from BUCKETSCAN_* environment variables.
// Unparseable values are ignored.
func (c *Config) LoadFromEnv() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if val := os.Getenv("BUCKETSCAN_ENGINE"); val != "" {
		c.Engine = val
	}

	if val := os.Getenv("BUCKETSCAN_DATA_DIR"); val != "" {
		c.DataDir = val
	}

	if val := os.Getenv("BUCKETSCAN_ENDPOINT"); val != "" {
		c.Endpoint = val
	}

	if val := os.Getenv("BUCKETSCAN_LISTEN_ADDR"); val != "" {
		c.ListenAddr = val
	}

	if val := os.Getenv("BUCKETSCAN_COMPRESSION"); val != "" {
		c.Compression = val
	}

	if val := os.Getenv("BUCKETSCAN_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}

	if val := os.Getenv("BUCKETSCAN_PAGE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.PageSize = n
		}
	}

	if val := os.Getenv("BUCKETSCAN_BUCKET_COUNT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.BucketCount = n
		}
	}

	if val := os.Getenv("BUCKETSCAN_REQUEST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.RequestTimeout = d
		}
	}

	if val := os.Getenv("BUCKETSCAN_MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.MaxRetries = n
		}
	}

	c.Telemetry.LoadFromEnv()
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
