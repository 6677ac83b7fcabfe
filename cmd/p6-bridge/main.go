// Package main provides the entry point for the p6-bridge server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/p6tools/p6-bridge/internal/server"
	"github.com/p6tools/p6-bridge/pkg/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	transport   string
	address     string
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.transport, "transport", "http", "Transport type: http, stdio")
	flag.StringVar(&opts.address, "address", "", "Listen address for HTTP transport")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func loadConfig(opts serverOptions) (*config.Config, error) {
	if opts.configPath != "" {
		return config.Load(opts.configPath)
	}
	return config.FromEnv(), nil
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("p6-bridge version %s\n", server.Version)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.address != "" {
		cfg.Address = opts.address
	}

	ctx := setupSignalHandler()

	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer func() {
		if cerr := srv.Close(); cerr != nil {
			slog.Error("closing server", "error", cerr)
		}
	}()

	return startServer(ctx, srv, cfg.Address, opts)
}

func startServer(ctx context.Context, srv *server.Server, address string, opts serverOptions) error {
	switch opts.transport {
	case "http":
		return serveHTTP(ctx, address, srv.Handler())
	case "stdio":
		return srv.MCP().Run(ctx, &mcp.StdioTransport{})
	default:
		return fmt.Errorf("unknown transport: %s", opts.transport)
	}
}

func serveHTTP(ctx context.Context, address string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:    address,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "address", address)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
