// Package p6 talks to the Primavera P6 REST API: a client that performs
// single outbound requests and returns their results verbatim, and an
// authenticator that performs the login handshake. Retry logic lives in
// the relay engine, not here.
package p6

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Config configures the upstream client.
type Config struct {
	// BaseURL is the upstream API root, e.g.
	// "https://host.example.com/p6ws/restapi".
	BaseURL string

	// Accept is the content type requested from the upstream.
	Accept string

	// Version is the optional protocol version header value the upstream
	// may require (e.g. "23.12.0"). Empty means the header is omitted.
	Version string

	// Timeout bounds each outbound request.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool
}

// Client performs single authenticated requests against the upstream.
type Client struct {
	httpClient *http.Client
	baseURL    string
	accept     string
	version    string
}

// Response is a verbatim upstream result: status, headers, and body
// exactly as received.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewClient creates an upstream client.
func NewClient(cfg Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- operator opt-in via P6_VERIFY_SSL
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		accept:  cfg.Accept,
		version: cfg.Version,
	}
}

// BaseURL returns the configured upstream root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Accept returns the configured accept content type.
func (c *Client) Accept() string { return c.accept }

// Version returns the configured protocol version header value.
func (c *Client) Version() string { return c.version }

// Host returns the network host of the configured base URL.
func (c *Client) Host() string {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

// Do performs one request and returns the upstream response verbatim.
// Transport failures are returned as *UnreachableError.
func (c *Client) Do(ctx context.Context, method, target string, header http.Header, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if header != nil {
		req.Header = header.Clone()
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UnreachableError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnreachableError{Err: err}
	}

	slog.Debug("upstream request",
		"method", method,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   b,
	}, nil
}

// ContentType returns the response content type header.
func (r *Response) ContentType() string {
	return r.Header.Get("Content-Type")
}

// IsJSON reports whether the response body is JSON per its content type.
func (r *Response) IsJSON() bool {
	return strings.HasPrefix(strings.ToLower(r.ContentType()), "application/json")
}
