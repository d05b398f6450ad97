package transport

import (
	"time"

	"google.golang.org/grpc/keepalive"

	"github.com/KevoDB/bucketscan/pkg/common/log"
	"github.com/KevoDB/bucketscan/pkg/grpc/storagepb"
	"github.com/KevoDB/bucketscan/pkg/telemetry"
)

// Options contains configuration shared by the storage client and server
type Options struct {
	// Timeout bounds each call made by the client; zero means no timeout
	Timeout        time.Duration
	RetryPolicy    RetryPolicy
	Compression    storagepb.Codec
	MaxMessageSize int
	TLSEnabled     bool
	CertFile       string
	KeyFile        string
	CAFile         string
	SkipVerify     bool

	Logger    log.Logger
	Telemetry telemetry.Telemetry
}

// DefaultOptions returns options for a plaintext connection with retries
func DefaultOptions() Options {
	return Options{
		Timeout:        10 * time.Second,
		RetryPolicy:    DefaultRetryPolicy(),
		Compression:    storagepb.CodecNone,
		MaxMessageSize: 16 * 1024 * 1024,
	}
}

func (o Options) logger() log.Logger {
	if o.Logger == nil {
		return log.NewNopLogger()
	}
	return o.Logger
}

func (o Options) telemetry() telemetry.Telemetry {
	if o.Telemetry == nil {
		return telemetry.NewNoop()
	}
	return o.Telemetry
}

var (
	serverKeepalive = keepalive.ServerParameters{
		MaxConnectionIdle:     60 * time.Second,
		MaxConnectionAge:      5 * time.Minute,
		MaxConnectionAgeGrace: 5 * time.Second,
		Time:                  15 * time.Second,
		Timeout:               5 * time.Second,
	}

	serverEnforcement = keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	clientKeepalive = keepalive.ClientParameters{
		Time:                15 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}
)
