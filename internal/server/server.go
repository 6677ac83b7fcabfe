// Package server assembles the bridge from configuration: session store,
// relay engine, REST surface, MCP tool surface, and health endpoints.
package server

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	_ "github.com/lib/pq" // postgres driver
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/p6tools/p6-bridge/pkg/api"
	"github.com/p6tools/p6-bridge/pkg/audit"
	"github.com/p6tools/p6-bridge/pkg/auth"
	"github.com/p6tools/p6-bridge/pkg/config"
	"github.com/p6tools/p6-bridge/pkg/database/migrate"
	"github.com/p6tools/p6-bridge/pkg/health"
	"github.com/p6tools/p6-bridge/pkg/p6"
	"github.com/p6tools/p6-bridge/pkg/relay"
	"github.com/p6tools/p6-bridge/pkg/session"
	pgstore "github.com/p6tools/p6-bridge/pkg/session/postgres"
)

// Version is set at build time.
var Version = "0.3.2"

// Server is the assembled bridge.
type Server struct {
	cfg       *config.Config
	store     session.Store
	resolver  *session.Resolver
	engine    *relay.Engine
	auth      *p6.Authenticator
	checker   *health.Checker
	mcpServer *mcp.Server
	handler   http.Handler
}

// New assembles a Server from configuration.
func New(cfg *config.Config) (*Server, error) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	client := p6.NewClient(p6.Config{
		BaseURL:            cfg.BaseURL,
		Accept:             cfg.Accept,
		Version:            cfg.Version,
		Timeout:            cfg.RequestTimeout,
		InsecureSkipVerify: !cfg.VerifyTLS,
	})
	authenticator := p6.NewAuthenticator(client)
	resolver := session.NewResolver(store, session.ResolverConfig{
		AutoEnabled: cfg.AutoSession.Enabled,
		Strict:      cfg.AutoSession.Strict,
	})
	engine := relay.NewEngine(client, authenticator, store, resolver,
		audit.NewSlogLogger(nil), relay.Config{
			AllowedHost: cfg.AllowedHost,
		})

	s := &Server{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		engine:   engine,
		auth:     authenticator,
		checker:  health.NewChecker(),
	}
	s.mcpServer = s.newMCPServer()
	s.handler = s.newHTTPHandler()

	logStartupWarnings(cfg)
	s.checker.SetReady()
	return s, nil
}

// newStore selects the session store backend: Postgres when a database
// URL is configured, otherwise the file-snapshot store.
func newStore(cfg *config.Config) (session.Store, error) {
	if cfg.DatabaseURL == "" {
		return session.NewFileStore(cfg.SessionFile), nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := migrate.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	slog.Info("using postgres session store")
	return pgstore.New(db), nil
}

// newHTTPHandler builds the full inbound surface. Health and discovery
// documents stay outside the API-key gate so clients can find the
// service; everything else goes through it.
func (s *Server) newHTTPHandler() http.Handler {
	gate := auth.NewKeyGate(auth.KeyGateConfig{
		Header:  s.cfg.APIKey.Header,
		Key:     s.cfg.APIKey.Key,
		KeyHash: s.cfg.APIKey.Hash,
	})

	restHandler := api.NewHandler(api.HandlerConfig{
		Engine: s.engine,
		Store:  s.store,
		Auth:   s.auth,
		Gate:   gate.Middleware,
	})

	mux := http.NewServeMux()
	mux.Handle("/", restHandler)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", health.Handler(health.HandlerConfig{
		Base:              s.cfg.BaseURL,
		Version:           Version,
		AutoSession:       s.cfg.AutoSession.Enabled,
		AutoSessionStrict: s.cfg.AutoSession.Strict,
		Store:             s.store,
	}))
	mux.HandleFunc("GET /healthz", s.checker.LivenessHandler())
	mux.HandleFunc("GET /readyz", s.checker.ReadinessHandler())
	mux.HandleFunc("GET /.well-known/mcp.json", s.handleManifest)
	mux.HandleFunc("GET /tool_schema.json", s.handleToolSchema)

	streamable := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return s.mcpServer }, nil)
	mux.Handle("/mcp", gate.Middleware(streamable))

	return api.CORSMiddleware(s.cfg.CORSOrigins)(mux)
}

// Handler returns the assembled HTTP surface.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCP returns the MCP server for stdio serving.
func (s *Server) MCP() *mcp.Server {
	return s.mcpServer
}

// Checker returns the readiness checker.
func (s *Server) Checker() *health.Checker {
	return s.checker
}

// Close releases held resources, including the store's database handle
// when the Postgres backend is active.
func (s *Server) Close() error {
	s.checker.SetDraining()
	return s.store.Close()
}

// logStartupWarnings surfaces configuration that matters operationally.
func logStartupWarnings(cfg *config.Config) {
	if cfg.APIKey.Key != "" || cfg.APIKey.Hash != "" {
		slog.Info("API key protection enabled", "header", cfg.APIKey.Header)
	}
	if !cfg.VerifyTLS && strings.HasPrefix(strings.ToLower(cfg.BaseURL), "https://") {
		slog.Warn("TLS verification is disabled for upstream requests; enable verify_tls in production")
	}
	slog.Info("upstream configured",
		"base", cfg.BaseURL,
		"allowed_host", cfg.AllowedHost,
		"auto_session", cfg.AutoSession.Enabled,
	)
}
