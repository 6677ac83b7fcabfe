package session

import (
	"context"
	"errors"
	"log/slog"
)

// Resolution failures. Both surface to callers as an unauthenticated
// outcome; the messages are part of the wire contract.
var (
	// ErrSessionRequired is returned when the caller omitted the session
	// id and auto-selection is disabled.
	ErrSessionRequired = errors.New("session_id required (AUTO_SESSION_ENABLED is disabled)")

	// ErrNoActiveSession is returned when auto-selection found no session
	// to substitute and strict mode is on.
	ErrNoActiveSession = errors.New("No active session found. Please login first via /login")

	// ErrNoSessions is the lenient variant of ErrNoActiveSession.
	ErrNoSessions = errors.New("No sessions available")
)

// Resolver decides which session a call should use when the caller may
// omit the session id: explicit id first, then the most recently created
// session if auto-selection is enabled, otherwise failure. Every entry
// point that accepts an optional session id shares this one policy.
//
// An explicit id is returned unchecked; existence is verified by the
// subsequent Store lookup, keeping the resolver a pure policy function.
type Resolver struct {
	store   Store
	enabled bool
	strict  bool
}

// ResolverConfig configures the auto-selection policy.
type ResolverConfig struct {
	// AutoEnabled allows callers to omit the session id.
	AutoEnabled bool

	// Strict selects the strict "login first" error when no session
	// exists to substitute.
	Strict bool
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store Store, cfg ResolverConfig) *Resolver {
	return &Resolver{
		store:   store,
		enabled: cfg.AutoEnabled,
		strict:  cfg.Strict,
	}
}

// Resolve returns the session id a call should use.
func (r *Resolver) Resolve(ctx context.Context, explicitID string) (string, error) {
	if explicitID != "" {
		slog.Debug("using provided session_id", "session_id", explicitID)
		return explicitID, nil
	}

	if !r.enabled {
		return "", ErrSessionRequired
	}

	latest, err := r.store.Latest(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if r.strict {
				return "", ErrNoActiveSession
			}
			return "", ErrNoSessions
		}
		return "", err
	}

	slog.Debug("auto-injecting latest session", "session_id", latest.ID)
	return latest.ID, nil
}

// AutoEnabled reports whether callers may omit the session id.
func (r *Resolver) AutoEnabled() bool {
	return r.enabled
}
