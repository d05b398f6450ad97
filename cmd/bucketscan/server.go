package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KevoDB/bucketscan/pkg/common/log"
	"github.com/KevoDB/bucketscan/pkg/config"
	"github.com/KevoDB/bucketscan/pkg/grpc/transport"
	"github.com/KevoDB/bucketscan/pkg/store"
	"github.com/KevoDB/bucketscan/pkg/telemetry"
)

// runServer exposes st over gRPC until SIGINT or SIGTERM arrives
func runServer(st store.Store, cfg *config.Config, logger log.Logger, tel telemetry.Telemetry) error {
	server, err := transport.NewGRPCServer(cfg.ListenAddr, st, transportOptions(cfg, logger, tel))
	if err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return err
	}
	fmt.Printf("bucketscan serving %s store on %s\n", cfg.Engine, server.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	fmt.Println("Shutdown complete")
	return nil
}
