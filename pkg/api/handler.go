// Package api implements the bridge's inbound REST surface.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/p6tools/p6-bridge/pkg/p6"
	"github.com/p6tools/p6-bridge/pkg/relay"
	"github.com/p6tools/p6-bridge/pkg/session"
)

// allowedMethods are the upstream methods a /call may use.
var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Handler serves the REST endpoints.
type Handler struct {
	mux    *http.ServeMux
	engine *relay.Engine
	store  session.Store
	auth   *p6.Authenticator
	gate   func(http.Handler) http.Handler
}

// HandlerConfig wires the handler's collaborators.
type HandlerConfig struct {
	Engine *relay.Engine
	Store  session.Store
	Auth   *p6.Authenticator

	// Gate is the API-key middleware applied to every route registered
	// here. Nil means no gate.
	Gate func(http.Handler) http.Handler
}

// NewHandler creates the REST handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		mux:    http.NewServeMux(),
		engine: cfg.Engine,
		store:  cfg.Store,
		auth:   cfg.Auth,
		gate:   cfg.Gate,
	}
	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.gate != nil {
		h.gate(h.mux).ServeHTTP(w, r)
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("POST /login", h.handleLogin)
	h.mux.HandleFunc("POST /call", h.handleCall)
	h.mux.HandleFunc("GET /session/active", h.handleSessionActive)
	h.mux.HandleFunc("DELETE /session/{id}", h.handleSessionDelete)
	h.mux.HandleFunc("DELETE /sessions/clear", h.handleSessionsClear)
	h.mux.HandleFunc("GET /obs/byName", h.handleOBSByName)
	h.mux.HandleFunc("GET /obs/find", h.handleOBSFind)
	h.mux.HandleFunc("GET /projects/list", h.handleProjectsList)
	h.mux.HandleFunc("GET /projects/by_obs", h.handleProjectsByOBS)
}

// LoginRequest is the /login body.
type LoginRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	DatabaseName string `json:"databaseName"`

	// Remember opts into storing the credentials for auto re-login.
	Remember bool `json:"remember"`
}

// LoginResponse is the /login reply.
type LoginResponse struct {
	SessionID string `json:"session_id"`
	Cookies   string `json:"cookies"`
	AuthToken string `json:"authToken,omitempty"`
	Remember  bool   `json:"remember"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" || req.DatabaseName == "" {
		writeError(w, http.StatusBadRequest, "username, password and databaseName are required")
		return
	}

	cookies, token, err := h.auth.Login(r.Context(), req.Username, req.Password, req.DatabaseName)
	if err != nil {
		var authErr *p6.AuthError
		if errors.As(err, &authErr) {
			writeError(w, authErr.Status, "Login failed: "+authErr.Detail)
			return
		}
		var unreachable *p6.UnreachableError
		if errors.As(err, &unreachable) {
			writeError(w, http.StatusBadGateway, unreachable.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	sess := &session.Session{
		Cookies:      cookies,
		AuthToken:    token,
		DatabaseName: req.DatabaseName,
	}
	if req.Remember {
		sess.Creds = &session.Credentials{
			Username:     req.Username,
			Password:     req.Password,
			DatabaseName: req.DatabaseName,
		}
	}

	id, err := h.store.Create(r.Context(), sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store session")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		SessionID: id,
		Cookies:   cookies,
		AuthToken: token,
		Remember:  req.Remember,
	})
}

// CallRequest is the /call body.
type CallRequest struct {
	SessionID string            `json:"session_id"`
	Method    string            `json:"method"`
	Path      string            `json:"path"`
	Query     map[string]any    `json:"query"`
	Headers   map[string]string `json:"headers"`
	Body      json.RawMessage   `json:"body"`
}

// ProxyResponse is the reply shape shared by /call and the convenience
// endpoints: the upstream result, decoded to JSON when the upstream said
// it was JSON.
type ProxyResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var req CallRequest
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	method := strings.ToUpper(req.Method)
	if !allowedMethods[method] {
		writeError(w, http.StatusBadRequest, "method must be one of GET, POST, PUT, PATCH, DELETE")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	resp, err := h.engine.Relay(r.Context(), relay.Request{
		SessionID: req.SessionID,
		Method:    method,
		Path:      req.Path,
		Query:     stringifyQuery(req.Query),
		Headers:   req.Headers,
		Body:      relay.ClassifyBody(req.Body),
		Operation: "call",
	})
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeProxyResponse(w, resp)
}

// ActiveSessionResponse is the /session/active reply.
type ActiveSessionResponse struct {
	SessionID        string `json:"session_id"`
	CreatedAt        string `json:"created_at"`
	AutoLoginEnabled bool   `json:"auto_login_enabled"`
	Database         string `json:"database,omitempty"`
}

func (h *Handler) handleSessionActive(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Latest(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No active sessions")
			return
		}
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, ActiveSessionResponse{
		SessionID:        sess.ID,
		CreatedAt:        sess.FormatCreatedAt(),
		AutoLoginEnabled: sess.AutoLogin(),
		Database:         sess.DatabaseName,
	})
}

func (h *Handler) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed, err := h.store.Delete(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	// The store treats absent ids as a no-op; the API still reports 404
	// so callers can tell.
	if !removed {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Session " + id + " deleted",
	})
}

func (h *Handler) handleSessionsClear(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.DeleteAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "session store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "All sessions cleared",
	})
}

// stringifyQuery flattens decoded JSON query values to their wire form.
func stringifyQuery(query map[string]any) map[string]string {
	if query == nil {
		return nil
	}
	out := make(map[string]string, len(query))
	for k, v := range query {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			if val {
				out[k] = "true"
			} else {
				out[k] = "false"
			}
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

// writeProxyResponse renders an upstream result: JSON bodies decoded,
// everything else as text, headers flattened.
func writeProxyResponse(w http.ResponseWriter, resp *p6.Response) {
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	writeJSON(w, http.StatusOK, ProxyResponse{
		Status:  resp.Status,
		Headers: headers,
		Body:    decodeBody(resp),
	})
}

// decodeBody applies the JSON-or-text rule: content type decides, and a
// JSON body that fails to parse degrades to text.
func decodeBody(resp *p6.Response) any {
	if resp.IsJSON() {
		var v any
		if err := json.Unmarshal(resp.Body, &v); err == nil {
			return v
		}
	}
	return string(resp.Body)
}

// writeRelayError maps engine failures onto HTTP responses.
func writeRelayError(w http.ResponseWriter, err error) {
	var relayErr *relay.Error
	if errors.As(err, &relayErr) {
		writeError(w, relayErr.Status, relayErr.Detail)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
