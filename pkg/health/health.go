// Package health provides readiness tracking and the bridge's health
// document, which includes the live session listing.
package health

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/p6tools/p6-bridge/pkg/session"
)

// Readiness states.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// Checker tracks service readiness. Safe for concurrent use.
type Checker struct {
	state atomic.Int32
}

// NewChecker creates a Checker in the starting state.
func NewChecker() *Checker {
	return &Checker{}
}

// SetReady marks the service ready.
func (c *Checker) SetReady() { c.state.Store(stateReady) }

// SetDraining marks the service as shutting down.
func (c *Checker) SetDraining() { c.state.Store(stateDraining) }

// IsReady reports whether the service is ready.
func (c *Checker) IsReady() bool { return c.state.Load() == stateReady }

// State returns the state as a string.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// LivenessHandler always answers 200; wire it to /healthz.
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadinessHandler answers 200 when ready, 503 otherwise; wire it to
// /readyz.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := http.StatusOK
		if !c.IsReady() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"status": c.State()})
	}
}

// SessionInfo is one entry of the health document's session listing.
type SessionInfo struct {
	SessionID        string `json:"session_id"`
	CreatedAt        string `json:"created_at"`
	AutoLoginEnabled bool   `json:"auto_login_enabled"`
	Database         string `json:"database,omitempty"`
}

// Document is the service health payload.
type Document struct {
	OK                    bool           `json:"ok"`
	Status                string         `json:"status"`
	Time                  int64          `json:"time"`
	Timestamp             string         `json:"timestamp"`
	Base                  string         `json:"base"`
	AutoSessionEnabled    bool           `json:"auto_session_enabled"`
	AutoSessionStrictMode bool           `json:"auto_session_strict_mode"`
	MCPReady              bool           `json:"mcp_ready"`
	Version               string         `json:"version"`
	Sessions              []SessionInfo  `json:"sessions"`
	Endpoints             map[string]any `json:"endpoints"`
}

// HandlerConfig configures the health document handler.
type HandlerConfig struct {
	Base              string
	Version           string
	AutoSession       bool
	AutoSessionStrict bool
	Store             session.Store
}

// Handler serves the health document including every known session's id,
// creation time and auto-login flag.
func Handler(cfg HandlerConfig) http.HandlerFunc {
	endpoints := map[string]any{
		"mcp_manifest":    "/.well-known/mcp.json",
		"tool_schema":     "/tool_schema.json",
		"login":           "/login",
		"call":            "/call",
		"obs_find":        "/obs/find",
		"projects_by_obs": "/projects/by_obs",
	}

	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := cfg.Store.List(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError,
				map[string]string{"detail": "session store unavailable"})
			return
		}

		infos := make([]SessionInfo, 0, len(sessions))
		for _, s := range sessions {
			infos = append(infos, SessionInfo{
				SessionID:        s.ID,
				CreatedAt:        s.FormatCreatedAt(),
				AutoLoginEnabled: s.AutoLogin(),
				Database:         s.DatabaseName,
			})
		}

		now := time.Now()
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		writeJSON(w, http.StatusOK, Document{
			OK:                    true,
			Status:                "healthy",
			Time:                  now.Unix(),
			Timestamp:             now.UTC().Format("2006-01-02 15:04:05") + " UTC",
			Base:                  cfg.Base,
			AutoSessionEnabled:    cfg.AutoSession,
			AutoSessionStrictMode: cfg.AutoSessionStrict,
			MCPReady:              true,
			Version:               cfg.Version,
			Sessions:              infos,
			Endpoints:             endpoints,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
