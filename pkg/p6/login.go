package p6

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// tokenHeaders are the response headers a login token may arrive in,
// checked in order.
var tokenHeaders = []string{"AuthToken", "X-Auth-Token"}

// tokenFields are the JSON body fields scanned for a token when no
// header carries one, checked in order.
var tokenFields = []string{"AuthToken", "authToken", "token"}

// Authenticator performs the upstream login handshake.
type Authenticator struct {
	client *Client
}

// NewAuthenticator creates an Authenticator over the given client.
func NewAuthenticator(client *Client) *Authenticator {
	return &Authenticator{client: client}
}

// Login authenticates against the upstream and returns the session
// cookie material plus the optional auth token. Credentials travel as
// request headers, the database name as a query parameter; that is the
// upstream's convention, not ours.
//
// A client or server error status is returned as *AuthError; transport
// failures as *UnreachableError.
func (a *Authenticator) Login(ctx context.Context, username, password, databaseName string) (cookies, authToken string, err error) {
	target := a.client.BaseURL() + "/login?DatabaseName=" + url.QueryEscape(databaseName)

	header := http.Header{}
	header.Set("username", username)
	header.Set("password", password)
	header.Set("Accept", a.client.Accept())
	if v := a.client.Version(); v != "" {
		header.Set("Version", v)
	}

	resp, err := a.client.Do(ctx, http.MethodPost, target, header, nil)
	if err != nil {
		return "", "", err
	}

	if resp.Status >= 400 {
		return "", "", &AuthError{
			Status: resp.Status,
			Detail: truncateDetail(string(resp.Body)),
		}
	}

	cookies = extractCookies(resp.Header)
	authToken = extractToken(resp)

	slog.Info("upstream login succeeded",
		"database", databaseName,
		"has_token", authToken != "",
	)
	return cookies, authToken, nil
}

// extractCookies flattens the response Set-Cookie headers into the
// "name=value; name2=value2" encoding the upstream expects back.
func extractCookies(h http.Header) string {
	resp := http.Response{Header: h}
	var pairs []string
	for _, c := range resp.Cookies() {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}

// extractToken pulls the auth token from a known header, falling back to
// scanning a JSON response body for the known field names.
func extractToken(resp *Response) string {
	for _, name := range tokenHeaders {
		if v := resp.Header.Get(name); v != "" {
			return v
		}
	}

	if !resp.IsJSON() {
		return ""
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return ""
	}
	for _, field := range tokenFields {
		if v, ok := body[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
