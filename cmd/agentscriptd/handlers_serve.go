package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentscript/internal/broker"
	"github.com/haasonsaas/agentscript/internal/observability"
)

// runServe loads the config, starts a broker and its fronting HTTP API,
// and blocks until SIGINT/SIGTERM or the server itself fails.
func runServe(cmd *cobra.Command, configPath string, debug bool) error {
	logLevel := "info"
	if debug {
		logLevel = "debug"
	}
	logger := observability.MustNewLogger(observability.LogConfig{Level: logLevel, AddSource: debug})

	cfg, err := loadConfigOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info(ctx, "starting agentscriptd",
		"version", version,
		"commit", commit,
		"config", configPath,
		"default_level", cfg.Security.DefaultLevel,
	)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: "agentscriptd",
		Environment: cfg.Security.DefaultLevel,
	})
	defer func() { _ = shutdownTracer(context.Background()) }()

	recorder := observability.NewEventRecorder(observability.NewMemoryEventStore(10_000), logger)

	b := broker.New(cfg.Server.MaxSessions, tracer, recorder)
	defer b.Dispose()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	handler := newAPIServer(cfg, b, logger)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	logger.Info(ctx, "agentscriptd listening", "addr", addr)

	select {
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received, stopping")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info(ctx, "agentscriptd stopped gracefully")
	return nil
}
