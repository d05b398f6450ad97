package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/KevoDB/bucketscan/pkg/common/log"
	"github.com/KevoDB/bucketscan/pkg/grpc/service"
	"github.com/KevoDB/bucketscan/pkg/grpc/storagepb"
	"github.com/KevoDB/bucketscan/pkg/store"
)

// GRPCServer serves a store.Store over the storage service
type GRPCServer struct {
	address     string
	options     Options
	store       store.Store
	server      *grpc.Server
	listener    net.Listener
	compression *CompressionManager
	logger      log.Logger
	mu          sync.Mutex
	started     bool
}

// NewGRPCServer creates a server for st. Nothing listens until Start or Serve.
func NewGRPCServer(address string, st store.Store, options Options) (*GRPCServer, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &GRPCServer{
		address: address,
		options: options,
		store:   st,
		logger:  options.logger().WithField("component", "grpc_server"),
	}, nil
}

// Start listens on the configured address and serves in the background
func (s *GRPCServer) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}

	if err := s.prepare(listener); err != nil {
		listener.Close()
		return err
	}

	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.logger.Error("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Serve listens on the configured address and blocks until the server stops
func (s *GRPCServer) Serve() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	return s.ServeListener(listener)
}

// ServeListener serves on an existing listener and blocks until the server stops
func (s *GRPCServer) ServeListener(listener net.Listener) error {
	if err := s.prepare(listener); err != nil {
		listener.Close()
		return err
	}
	return s.server.Serve(listener)
}

func (s *GRPCServer) prepare(listener net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrServerStarted
	}

	var serverOpts []grpc.ServerOption

	if s.options.TLSEnabled {
		tlsConfig, err := LoadServerTLSConfig(s.options.CertFile, s.options.KeyFile, s.options.CAFile)
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	if s.options.MaxMessageSize > 0 {
		serverOpts = append(serverOpts,
			grpc.MaxRecvMsgSize(s.options.MaxMessageSize),
			grpc.MaxSendMsgSize(s.options.MaxMessageSize),
		)
	}

	serverOpts = append(serverOpts,
		grpc.KeepaliveParams(serverKeepalive),
		grpc.KeepaliveEnforcementPolicy(serverEnforcement),
	)

	compression, err := NewCompressionManager()
	if err != nil {
		return err
	}

	s.server = grpc.NewServer(serverOpts...)
	storagepb.RegisterStorageServer(s.server, service.NewStorageServiceServer(s.store,
		service.WithCompressor(compression),
		service.WithLogger(s.options.logger()),
		service.WithTelemetry(s.options.telemetry()),
	))

	s.listener = listener
	s.compression = compression
	s.started = true

	s.logger.Info("serving %s on %s", storagepb.ServiceName, listener.Addr())
	return nil
}

// Addr returns the address the server listens on, or nil before it starts
func (s *GRPCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the server gracefully, forcing it down if ctx ends first.
// The store is not closed.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.server.Stop()
	}

	s.compression.Close()
	s.started = false
	return nil
}
