package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/KevoDB/bucketscan/pkg/common/log"
	"github.com/KevoDB/bucketscan/pkg/grpc/storagepb"
	"github.com/KevoDB/bucketscan/pkg/store"
	"github.com/KevoDB/bucketscan/pkg/telemetry"
)

// Status contains information about the current connection state
type Status struct {
	Connected     bool
	LastConnected time.Time
	LastError     error
}

// GRPCClient is a store.Store backed by a remote storage service
type GRPCClient struct {
	endpoint    string
	options     Options
	dialOptions []grpc.DialOption
	conn        *grpc.ClientConn
	client      *storagepb.StorageClient
	compression *CompressionManager
	logger      log.Logger
	tel         telemetry.Telemetry
	mu          sync.RWMutex
	status      Status
}

var _ store.Store = (*GRPCClient)(nil)

// NewGRPCClient creates a client for endpoint. Extra dial options are applied
// after the ones derived from options.
func NewGRPCClient(endpoint string, options Options, dialOptions ...grpc.DialOption) *GRPCClient {
	return &GRPCClient{
		endpoint:    endpoint,
		options:     options,
		dialOptions: dialOptions,
		logger:      options.logger().WithField("endpoint", endpoint),
		tel:         options.telemetry(),
	}
}

// Connect sets up the connection. The underlying transport connects lazily,
// so Connect fails only for bad configuration.
func (c *GRPCClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dialOptions := []grpc.DialOption{
		grpc.WithKeepaliveParams(clientKeepalive),
	}

	if c.options.TLSEnabled {
		tlsConfig, err := LoadClientTLSConfig(c.options.CertFile, c.options.KeyFile, c.options.CAFile, c.options.SkipVerify)
		if err != nil {
			return err
		}
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	} else {
		dialOptions = append(dialOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if c.options.MaxMessageSize > 0 {
		dialOptions = append(dialOptions, grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(c.options.MaxMessageSize),
			grpc.MaxCallSendMsgSize(c.options.MaxMessageSize),
		))
	}
	dialOptions = append(dialOptions, c.dialOptions...)

	compression, err := NewCompressionManager()
	if err != nil {
		return err
	}

	conn, err := grpc.NewClient(c.endpoint, dialOptions...)
	if err != nil {
		compression.Close()
		c.setStatusLocked(false, err)
		return fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}

	c.conn = conn
	c.client = storagepb.NewStorageClient(conn)
	c.compression = compression
	c.setStatusLocked(true, nil)

	return nil
}

// Close closes the connection
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.compression.Close()
	c.conn = nil
	c.client = nil
	c.compression = nil
	c.setStatusLocked(false, nil)
	return err
}

// IsConnected returns whether the client is connected
func (c *GRPCClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Connected
}

// Status returns the current status of the connection
func (c *GRPCClient) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *GRPCClient) setStatusLocked(connected bool, err error) {
	c.status.Connected = connected
	c.status.LastError = err
	if connected {
		c.status.LastConnected = time.Now()
	}
}

func (c *GRPCClient) recordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.LastError = err
}

func (c *GRPCClient) handles() (*storagepb.StorageClient, *CompressionManager, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.client == nil {
		return nil, nil, ErrNotConnected
	}
	return c.client, c.compression, nil
}

// ReadRange performs a range read on the server
func (c *GRPCClient) ReadRange(ctx context.Context, req store.RangeRequest) ([]store.Column, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	client, compression, err := c.handles()
	if err != nil {
		return nil, err
	}

	var cols []store.Column
	err = c.call(ctx, telemetry.OpTypeRead, func(ctx context.Context) error {
		resp, err := client.ReadRange(ctx, &storagepb.ReadRangeRequest{
			RangeRequest: req,
			AcceptCodec:  c.options.Compression,
		})
		if err != nil {
			return err
		}

		body, err := compression.Decompress(resp.Body, resp.Codec)
		if err != nil {
			return err
		}
		cols, err = storagepb.UnmarshalColumns(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cols, nil
}

// Put writes one column on the server
func (c *GRPCClient) Put(ctx context.Context, m store.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	client, _, err := c.handles()
	if err != nil {
		return err
	}

	return c.call(ctx, telemetry.OpTypePut, func(ctx context.Context) error {
		return client.Put(ctx, &storagepb.MutationRequest{Mutation: m})
	})
}

// Delete removes one column on the server
func (c *GRPCClient) Delete(ctx context.Context, m store.Mutation) error {
	if err := m.Validate(); err != nil {
		return err
	}

	client, _, err := c.handles()
	if err != nil {
		return err
	}

	return c.call(ctx, telemetry.OpTypeDel, func(ctx context.Context) error {
		return client.Delete(ctx, &storagepb.MutationRequest{Mutation: m})
	})
}

// call runs one RPC under the retry policy, applying the per-attempt timeout
func (c *GRPCClient) call(ctx context.Context, op string, fn RetryableFunc) error {
	start := time.Now()
	ctx, span := c.tel.StartSpan(ctx, "bucketscan.grpc.client."+op)
	defer span.End()

	attempt := func(ctx context.Context) error {
		if c.options.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.options.Timeout)
			defer cancel()
		}
		return fn(ctx)
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("%s failed, retrying in %s: %v", op, wait, err)
		c.tel.RecordCounter(ctx, "bucketscan.grpc.client.retries.total", 1,
			attribute.String(telemetry.AttrMethod, op),
			attribute.String(telemetry.AttrOperationType, telemetry.OpTypeRetry),
		)
	}

	err := WithRetry(ctx, c.options.RetryPolicy, attempt, notify)

	telemetry.RecordDuration(ctx, c.tel, "bucketscan.grpc.client.duration", start,
		attribute.String(telemetry.AttrComponent, telemetry.ComponentGRPC),
		attribute.String(telemetry.AttrMethod, op),
		attribute.String(telemetry.AttrStatus, telemetry.StatusFromError(err)),
	)

	if err != nil {
		span.RecordError(err)
		c.recordError(err)
		return storagepb.FromStatus(err)
	}
	return nil
}
