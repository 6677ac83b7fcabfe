package main

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestStartServer_UnknownTransport(t *testing.T) {
	err := startServer(context.Background(), nil, "", serverOptions{transport: "websocket"})
	if err == nil {
		t.Fatal("expected error for unknown transport")
	}
	if !strings.Contains(err.Error(), "unknown transport") {
		t.Errorf("error = %q, want 'unknown transport'", err.Error())
	}
}

func TestLoadConfig_EnvDefaults(t *testing.T) {
	cfg, err := loadConfig(serverOptions{})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Address == "" {
		t.Error("expected default address")
	}
	if cfg.BaseURL == "" {
		t.Error("expected default base URL")
	}
}

func TestServeHTTP_GracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- serveHTTP(ctx, "127.0.0.1:0", handler)
	}()

	// Give the listener a moment to come up before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("serveHTTP returned error after shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serveHTTP did not return after context cancellation")
	}
}
