package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/bucketscan/pkg/common/log"
	"github.com/KevoDB/bucketscan/pkg/grpc/storagepb"
	"github.com/KevoDB/bucketscan/pkg/store"
	"github.com/KevoDB/bucketscan/pkg/telemetry"
)

// DefaultMaxLimit caps the number of columns a single range read may ask for
const DefaultMaxLimit = 10000

// Compressor compresses response bodies. The returned codec is the one that
// was actually applied.
type Compressor interface {
	Compress(data []byte, codec storagepb.Codec) ([]byte, storagepb.Codec, error)
}

// StorageServiceServer exposes a store.Store over the storage service
type StorageServiceServer struct {
	store      store.Store
	compressor Compressor
	maxLimit   int
	logger     log.Logger
	tel        telemetry.Telemetry
}

// Option configures a StorageServiceServer
type Option func(*StorageServiceServer)

// WithCompressor enables response compression for clients that accept it
func WithCompressor(c Compressor) Option {
	return func(s *StorageServiceServer) {
		s.compressor = c
	}
}

// WithMaxLimit overrides DefaultMaxLimit
func WithMaxLimit(limit int) Option {
	return func(s *StorageServiceServer) {
		s.maxLimit = limit
	}
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(s *StorageServiceServer) {
		s.logger = logger
	}
}

// WithTelemetry sets the telemetry sink
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(s *StorageServiceServer) {
		s.tel = tel
	}
}

// NewStorageServiceServer creates a service serving st
func NewStorageServiceServer(st store.Store, opts ...Option) *StorageServiceServer {
	s := &StorageServiceServer{
		store:    st,
		maxLimit: DefaultMaxLimit,
		logger:   log.NewNopLogger(),
		tel:      telemetry.NewNoop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithField("component", telemetry.ComponentGRPC)
	return s
}

var _ storagepb.StorageServer = (*StorageServiceServer)(nil)

// ReadRange performs one range read against the underlying store
func (s *StorageServiceServer) ReadRange(ctx context.Context, req *storagepb.ReadRangeRequest) (*storagepb.ReadRangeResponse, error) {
	start := time.Now()
	ctx, span := s.tel.StartSpan(ctx, "bucketscan.grpc.read_range",
		attribute.String(telemetry.AttrColumnFamily, req.ColumnFamily),
		attribute.Bool(telemetry.AttrReversed, req.Reversed),
	)
	defer span.End()

	resp, err := s.readRange(ctx, req)
	s.record(ctx, telemetry.OpTypeRead, start, err)
	if err != nil {
		span.RecordError(err)
		s.logger.Debug("read range on %s failed: %v", req.ColumnFamily, err)
		return nil, storagepb.ToStatus(err)
	}
	return resp, nil
}

func (s *StorageServiceServer) readRange(ctx context.Context, req *storagepb.ReadRangeRequest) (*storagepb.ReadRangeResponse, error) {
	if s.maxLimit > 0 && req.Limit > s.maxLimit {
		return nil, fmt.Errorf("%w: limit %d exceeds maximum %d", store.ErrInvalidRequest, req.Limit, s.maxLimit)
	}

	cols, err := s.store.ReadRange(ctx, req.RangeRequest)
	if err != nil {
		return nil, err
	}

	body := storagepb.MarshalColumns(cols)
	codec := storagepb.CodecNone
	if s.compressor != nil && req.AcceptCodec != storagepb.CodecNone {
		body, codec, err = s.compressor.Compress(body, req.AcceptCodec)
		if err != nil {
			return nil, fmt.Errorf("failed to compress response: %w", err)
		}
	}

	return &storagepb.ReadRangeResponse{Codec: codec, Body: body}, nil
}

// Put writes one column
func (s *StorageServiceServer) Put(ctx context.Context, req *storagepb.MutationRequest) error {
	start := time.Now()
	err := s.store.Put(ctx, req.Mutation)
	s.record(ctx, telemetry.OpTypePut, start, err)
	if err != nil {
		s.logger.Debug("put on %s failed: %v", req.ColumnFamily, err)
	}
	return storagepb.ToStatus(err)
}

// Delete removes one column
func (s *StorageServiceServer) Delete(ctx context.Context, req *storagepb.MutationRequest) error {
	start := time.Now()
	err := s.store.Delete(ctx, req.Mutation)
	s.record(ctx, telemetry.OpTypeDel, start, err)
	if err != nil {
		s.logger.Debug("delete on %s failed: %v", req.ColumnFamily, err)
	}
	return storagepb.ToStatus(err)
}

func (s *StorageServiceServer) record(ctx context.Context, op string, start time.Time, err error) {
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrComponent, telemetry.ComponentGRPC),
		attribute.String(telemetry.AttrMethod, op),
		attribute.String(telemetry.AttrStatus, telemetry.StatusFromError(err)),
	}
	telemetry.RecordDuration(ctx, s.tel, "bucketscan.grpc.server.duration", start, attrs...)
	s.tel.RecordCounter(ctx, "bucketscan.grpc.server.requests.total", 1, attrs...)
}
