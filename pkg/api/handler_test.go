package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p6tools/p6-bridge/pkg/p6"
	"github.com/p6tools/p6-bridge/pkg/relay"
	"github.com/p6tools/p6-bridge/pkg/session"
)

// apiTestEnv is a full REST stack over a fake upstream.
type apiTestEnv struct {
	handler  *Handler
	store    *session.FileStore
	upstream *httptest.Server
}

// newAPIEnv builds the stack. The upstream serves /login with fresh
// credentials and delegates everything else to apiHandler.
func newAPIEnv(t *testing.T, apiHandler http.HandlerFunc) *apiTestEnv {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("password") == "wrong" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("bad credentials"))
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc"})
		w.Header().Set("AuthToken", "tok")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if apiHandler == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		apiHandler(w, r)
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	client := p6.NewClient(p6.Config{
		BaseURL: upstream.URL,
		Accept:  "application/json",
		Timeout: 5 * time.Second,
	})
	auth := p6.NewAuthenticator(client)
	store := session.NewFileStore(filepath.Join(t.TempDir(), "sessions.json"))
	resolver := session.NewResolver(store, session.ResolverConfig{AutoEnabled: true, Strict: true})

	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	engine := relay.NewEngine(client, auth, store, resolver, nil,
		relay.Config{AllowedHost: u.Host})

	handler := NewHandler(HandlerConfig{Engine: engine, Store: store, Auth: auth})
	return &apiTestEnv{handler: handler, store: store, upstream: upstream}
}

func (env *apiTestEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandleLogin_Success(t *testing.T) {
	env := newAPIEnv(t, nil)

	w := env.do(t, http.MethodPost, "/login",
		`{"username":"admin","password":"pw","databaseName":"prod","remember":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeJSON(t, w)
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, "JSESSIONID=abc", body["cookies"])
	assert.Equal(t, "tok", body["authToken"])
	assert.Equal(t, true, body["remember"])

	sess, err := env.store.Get(context.Background(), body["session_id"].(string))
	require.NoError(t, err)
	require.NotNil(t, sess.Creds)
	assert.Equal(t, "admin", sess.Creds.Username)
}

func TestHandleLogin_NoRememberStoresNoCreds(t *testing.T) {
	env := newAPIEnv(t, nil)

	w := env.do(t, http.MethodPost, "/login",
		`{"username":"admin","password":"pw","databaseName":"prod"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	sess, err := env.store.Get(context.Background(), body["session_id"].(string))
	require.NoError(t, err)
	assert.Nil(t, sess.Creds)
}

func TestHandleLogin_MissingFields(t *testing.T) {
	env := newAPIEnv(t, nil)

	w := env.do(t, http.MethodPost, "/login", `{"username":"admin"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/login", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleLogin_UpstreamRejection(t *testing.T) {
	env := newAPIEnv(t, nil)

	w := env.do(t, http.MethodPost, "/login",
		`{"username":"admin","password":"wrong","databaseName":"prod"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body := decodeJSON(t, w)
	assert.Equal(t, "Login failed: bad credentials", body["detail"])
}

func TestHandleCall_ProxiesUpstream(t *testing.T) {
	env := newAPIEnv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/project", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"Id":"P1"}]`))
	})
	_, err := env.store.Create(context.Background(), &session.Session{Cookies: "c"})
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/call", `{"method":"get","path":"/project"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeJSON(t, w)
	assert.Equal(t, float64(200), body["status"])
	items, ok := body["body"].([]any)
	require.True(t, ok, "JSON upstream body is decoded, not stringified")
	assert.Len(t, items, 1)
}

func TestHandleCall_NonJSONBodyAsText(t *testing.T) {
	env := newAPIEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("plain result"))
	})
	_, err := env.store.Create(context.Background(), &session.Session{Cookies: "c"})
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/call", `{"method":"GET","path":"/export"}`)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	assert.Equal(t, "plain result", body["body"])
}

func TestHandleCall_MethodValidation(t *testing.T) {
	env := newAPIEnv(t, nil)

	w := env.do(t, http.MethodPost, "/call", `{"method":"TRACE","path":"/x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/call", `{"method":"GET"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "path is required")
}

func TestHandleCall_NoSession(t *testing.T) {
	env := newAPIEnv(t, nil)

	w := env.do(t, http.MethodPost, "/call", `{"method":"GET","path":"/project"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body := decodeJSON(t, w)
	assert.Equal(t, "No active session found. Please login first via /login", body["detail"])
}

func TestHandleCall_QueryStringification(t *testing.T) {
	var gotQuery url.Values
	env := newAPIEnv(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
	})
	_, err := env.store.Create(context.Background(), &session.Session{Cookies: "c"})
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/call",
		`{"method":"GET","path":"/project","query":{"MaxObjects":50,"Flag":true,"Name":"x"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "50", gotQuery.Get("MaxObjects"), "numbers keep their literal form")
	assert.Equal(t, "true", gotQuery.Get("Flag"))
	assert.Equal(t, "x", gotQuery.Get("Name"))
}

func TestHandleSessionActive(t *testing.T) {
	env := newAPIEnv(t, nil)

	w := env.do(t, http.MethodGet, "/session/active", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "No active sessions", decodeJSON(t, w)["detail"])

	id, err := env.store.Create(context.Background(), &session.Session{
		Cookies:      "c",
		CreatedAt:    time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		DatabaseName: "prod",
		Creds:        &session.Credentials{Username: "u", Password: "p"},
	})
	require.NoError(t, err)

	w = env.do(t, http.MethodGet, "/session/active", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeJSON(t, w)
	assert.Equal(t, id, body["session_id"])
	assert.Equal(t, "2026-03-01 09:30:00 UTC", body["created_at"])
	assert.Equal(t, true, body["auto_login_enabled"])
	assert.Equal(t, "prod", body["database"])
}

func TestHandleSessionActive_NeverLeaksCredentials(t *testing.T) {
	env := newAPIEnv(t, nil)

	_, err := env.store.Create(context.Background(), &session.Session{
		Cookies: "c",
		Creds:   &session.Credentials{Username: "admin", Password: "hunter2"},
	})
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/session/active", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "hunter2")
	assert.NotContains(t, w.Body.String(), "admin")
}

func TestHandleSessionDelete(t *testing.T) {
	env := newAPIEnv(t, nil)

	id, err := env.store.Create(context.Background(), &session.Session{Cookies: "c"})
	require.NoError(t, err)

	w := env.do(t, http.MethodDelete, "/session/"+id, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Session "+id+" deleted", decodeJSON(t, w)["message"])

	w = env.do(t, http.MethodDelete, "/session/"+id, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Session not found", decodeJSON(t, w)["detail"])
}

func TestHandleSessionsClear(t *testing.T) {
	env := newAPIEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.store.Create(ctx, &session.Session{Cookies: "c"})
		require.NoError(t, err)
	}

	w := env.do(t, http.MethodDelete, "/sessions/clear", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "All sessions cleared", decodeJSON(t, w)["message"])

	list, err := env.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStringifyQuery(t *testing.T) {
	got := stringifyQuery(map[string]any{
		"s": "text",
		"n": json.Number("42"),
		"b": true,
		"f": false,
		"z": nil,
	})
	assert.Equal(t, map[string]string{
		"s": "text",
		"n": "42",
		"b": "true",
		"f": "false",
		"z": "",
	}, got)

	assert.Nil(t, stringifyQuery(nil))
}
