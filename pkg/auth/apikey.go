// Package auth provides the inbound API-key gate applied to the bridge's
// own surface. This is unrelated to upstream authentication, which the
// relay engine handles per session.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// DefaultKeyHeader is the header checked when none is configured.
const DefaultKeyHeader = "x-api-key"

// KeyGateConfig configures the gate. When both Key and KeyHash are empty
// the gate is disabled and passes everything through.
type KeyGateConfig struct {
	// Header is the request header carrying the key.
	Header string

	// Key is the expected key value, compared in constant time.
	Key string

	// KeyHash is a bcrypt hash of the expected key, used instead of Key
	// when set. Lets deployments keep the plaintext out of their config.
	KeyHash string
}

// KeyGate authenticates inbound requests by shared API key.
type KeyGate struct {
	header string
	key    string
	hash   []byte
}

// NewKeyGate creates a gate from config.
func NewKeyGate(cfg KeyGateConfig) *KeyGate {
	header := cfg.Header
	if header == "" {
		header = DefaultKeyHeader
	}
	return &KeyGate{
		header: header,
		key:    cfg.Key,
		hash:   []byte(cfg.KeyHash),
	}
}

// Enabled reports whether the gate checks anything.
func (g *KeyGate) Enabled() bool {
	return g.key != "" || len(g.hash) > 0
}

// Header returns the configured key header name.
func (g *KeyGate) Header() string {
	return g.header
}

// Middleware rejects requests without a valid key. Disabled gates pass
// everything through unchanged.
func (g *KeyGate) Middleware(next http.Handler) http.Handler {
	if !g.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(g.header)
		if provided == "" || !g.match(provided) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"detail": "Invalid or missing API key",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// match verifies the provided key against the configured secret.
func (g *KeyGate) match(provided string) bool {
	if len(g.hash) > 0 {
		return bcrypt.CompareHashAndPassword(g.hash, []byte(provided)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(g.key), []byte(provided)) == 1
}
