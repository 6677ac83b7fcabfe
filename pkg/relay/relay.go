// Package relay implements the request-relay engine: it resolves the
// session to use, builds the upstream request, enforces the host
// allowlist, and recovers exactly once from an authentication rejection
// when the session carries remembered credentials.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/p6tools/p6-bridge/pkg/audit"
	"github.com/p6tools/p6-bridge/pkg/p6"
	"github.com/p6tools/p6-bridge/pkg/session"
)

// protectedHeaders are regenerated from the refreshed session on the
// automatic retry pass. Caller overrides for them are honored on the
// first attempt but dropped on retry so stale credentials are never
// replayed. Keys are in canonical form.
var protectedHeaders = map[string]bool{
	"Cookie":    true,
	"Authtoken": true,
	"Accept":    true,
	"Version":   true,
}

// Request describes one relayed call.
type Request struct {
	// SessionID is the caller-supplied session id; empty triggers
	// auto-selection.
	SessionID string

	// Method is the upstream HTTP method.
	Method string

	// Path is the upstream path below the configured base; a missing
	// leading slash is added.
	Path string

	// Query holds query parameters, standard URL-encoded on the wire.
	Query map[string]string

	// Headers are caller-supplied extras, merged after the defaults.
	Headers map[string]string

	// Body is the structured-or-opaque payload.
	Body Body

	// Operation names the entry point for audit purposes; empty means
	// the generic relay operation.
	Operation string
}

// Config configures the engine.
type Config struct {
	// AllowedHost is the single upstream host the engine may contact.
	AllowedHost string
}

// Engine orchestrates relayed calls.
type Engine struct {
	client      *p6.Client
	auth        *p6.Authenticator
	store       session.Store
	resolver    *session.Resolver
	allowedHost string
	audit       audit.Logger
}

// NewEngine creates a relay engine.
func NewEngine(client *p6.Client, auth *p6.Authenticator, store session.Store, resolver *session.Resolver, auditLog audit.Logger, cfg Config) *Engine {
	return &Engine{
		client:      client,
		auth:        auth,
		store:       store,
		resolver:    resolver,
		allowedHost: cfg.AllowedHost,
		audit:       auditLog,
	}
}

// Relay forwards one call to the upstream. Whatever the upstream answers
// is returned verbatim; the only intercepted case is a 401 on a session
// with remembered credentials, which triggers exactly one
// re-authentication and one retry. A second 401 is returned as-is.
func (e *Engine) Relay(ctx context.Context, req Request) (*p6.Response, error) {
	requestID := uuid.NewString()
	start := time.Now()

	resp, sessionID, retried, err := e.relay(ctx, req)

	if e.audit != nil {
		op := req.Operation
		if op == "" {
			op = "relay"
		}
		event := audit.NewEvent(op).
			WithRequestID(requestID).
			WithSession(sessionID).
			WithRequest(req.Method, req.Path).
			WithParameters(auditParameters(req))
		status := 0
		errMsg := ""
		if resp != nil {
			status = resp.Status
		}
		if err != nil {
			errMsg = err.Error()
		}
		e.audit.Log(ctx, event.WithResult(status, retried, errMsg, time.Since(start).Milliseconds()))
	}

	return resp, err
}

// relay runs the state machine: resolve, fetch, build, first attempt,
// then at most one re-authentication and retry.
func (e *Engine) relay(ctx context.Context, req Request) (resp *p6.Response, sessionID string, retried bool, err error) {
	sessionID, err = e.resolver.Resolve(ctx, req.SessionID)
	if err != nil {
		return nil, "", false, authErr(err.Error())
	}

	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, sessionID, false, authErr("Invalid or expired session_id. Please login again.")
		}
		return nil, sessionID, false, err
	}

	target, err := e.buildTargetURL(req.Path, req.Query)
	if err != nil {
		return nil, sessionID, false, err
	}

	body, contentType := encodeBody(req.Body)
	header := e.firstAttemptHeaders(sess, req.Headers, contentType)

	resp, err = e.client.Do(ctx, req.Method, target, header, body)
	if err != nil {
		return nil, sessionID, false, mapTransportErr(err)
	}

	if resp.Status != http.StatusUnauthorized {
		return resp, sessionID, false, nil
	}

	if sess.Creds == nil {
		return resp, sessionID, false, nil
	}

	retryResp, retried, err := e.reauthenticateAndRetry(ctx, sessionID, sess, req, target, body, contentType)
	if err != nil {
		return nil, sessionID, retried, err
	}
	if !retried {
		// Re-login failed: hand back the original rejection untouched.
		return resp, sessionID, false, nil
	}
	return retryResp, sessionID, true, nil
}

// reauthenticateAndRetry performs the single recovery cycle. It reports
// retried=false when re-login failed, in which case the caller returns
// the original 401. A transport failure on the retry itself is returned
// as an error: the credentials are fresh at that point, so the outcome
// is an outage, not an authentication problem.
func (e *Engine) reauthenticateAndRetry(ctx context.Context, sessionID string, sess *session.Session, req Request, target string, body []byte, contentType string) (*p6.Response, bool, error) {
	cookies, token, err := e.auth.Login(ctx, sess.Creds.Username, sess.Creds.Password, sess.Creds.DatabaseName)
	if err != nil {
		slog.Warn("auto re-login failed",
			"session_id", sessionID,
			"error", err,
		)
		return nil, false, nil
	}

	if err := e.store.UpdateAuth(ctx, sessionID, cookies, token); err != nil {
		// The session may have been deleted mid-flight; still complete
		// this call with the fresh credentials.
		slog.Warn("session update after re-login failed",
			"session_id", sessionID,
			"error", err,
		)
	}
	sess.Cookies = cookies
	sess.AuthToken = token

	header := e.retryHeaders(sess, req.Headers, contentType)
	resp, err := e.client.Do(ctx, req.Method, target, header, body)
	if err != nil {
		slog.Warn("retry after re-login failed",
			"session_id", sessionID,
			"error", err,
		)
		return nil, true, mapTransportErr(err)
	}
	// Whatever the second attempt answered is final, 401 included.
	return resp, true, nil
}

// buildTargetURL joins the configured base with the caller path and
// query, then enforces the host allowlist before anything goes on the
// wire. No query means no "?" at all.
func (e *Engine) buildTargetURL(path string, query map[string]string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := e.client.BaseURL() + path

	if len(query) > 0 {
		vals := url.Values{}
		for k, v := range query {
			vals.Set(k, v)
		}
		target += "?" + vals.Encode()
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", policyErr(400, "invalid target path")
	}
	if u.Host != e.allowedHost {
		return "", policyErr(400, "Host not allowed: "+u.Host)
	}
	return target, nil
}

// defaultHeaders builds the headers every attempt starts from: accept
// type, session cookie, optional version, optional token.
func (e *Engine) defaultHeaders(sess *session.Session) http.Header {
	h := http.Header{}
	h.Set("Accept", e.client.Accept())
	h.Set("Cookie", sess.Cookies)
	if v := e.client.Version(); v != "" {
		h.Set("Version", v)
	}
	if sess.AuthToken != "" {
		h.Set("AuthToken", sess.AuthToken)
	}
	return h
}

// firstAttemptHeaders merges caller extras last; on the first attempt the
// caller may override anything.
func (e *Engine) firstAttemptHeaders(sess *session.Session, extra map[string]string, contentType string) http.Header {
	h := e.defaultHeaders(sess)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	for k, v := range extra {
		h.Set(k, v)
	}
	return h
}

// retryHeaders rebuilds headers for the retry pass: the security-relevant
// four come fresh from the session, caller overrides for them are dropped.
func (e *Engine) retryHeaders(sess *session.Session, extra map[string]string, contentType string) http.Header {
	h := e.defaultHeaders(sess)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	for k, v := range extra {
		if protectedHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		h.Set(k, v)
	}
	return h
}

// encodeBody flattens the payload union to wire bytes and content type.
func encodeBody(b Body) ([]byte, string) {
	switch {
	case b.JSON != nil:
		return b.JSON, "application/json"
	case b.Raw != nil:
		return b.Raw, ""
	default:
		return nil, ""
	}
}

// auditParameters flattens the caller's query and header inputs for the
// audit trail. Redaction happens when they are attached to the event.
func auditParameters(req Request) map[string]any {
	if len(req.Query) == 0 && len(req.Headers) == 0 {
		return nil
	}
	params := make(map[string]any, len(req.Query)+len(req.Headers))
	for k, v := range req.Query {
		params[k] = v
	}
	for k, v := range req.Headers {
		params[k] = v
	}
	return params
}

// mapTransportErr wraps client errors into the relay taxonomy.
func mapTransportErr(err error) error {
	var unreachable *p6.UnreachableError
	if errors.As(err, &unreachable) {
		return unreachableErr(unreachable.Error())
	}
	return err
}
