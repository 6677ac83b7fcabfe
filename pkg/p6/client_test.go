package p6

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_DoReturnsVerbatim(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/restapi/project", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(`{"imaginary":true}`))
	}))
	defer upstream.Close()

	client := NewClient(Config{BaseURL: upstream.URL + "/restapi", Timeout: 5 * time.Second})

	resp, err := client.Do(context.Background(), http.MethodGet, upstream.URL+"/restapi/project", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.Status)
	assert.Equal(t, `{"imaginary":true}`, string(resp.Body))
	assert.True(t, resp.IsJSON())
}

func TestClient_DoSendsHeadersAndBody(t *testing.T) {
	var gotHeader http.Header
	var gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	client := NewClient(Config{BaseURL: upstream.URL, Timeout: 5 * time.Second})

	header := http.Header{}
	header.Set("Cookie", "JSESSIONID=abc")
	header.Set("Content-Type", "application/json")

	_, err := client.Do(context.Background(), http.MethodPost, upstream.URL+"/x", header, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, "JSESSIONID=abc", gotHeader.Get("Cookie"))
	assert.Equal(t, `{"a":1}`, gotBody)
}

func TestClient_DoTransportFailure(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})

	_, err := client.Do(context.Background(), http.MethodGet, "http://127.0.0.1:1/x", nil, nil)
	require.Error(t, err)

	var unreachable *UnreachableError
	assert.ErrorAs(t, err, &unreachable)
}

func TestClient_BaseURLTrimsTrailingSlash(t *testing.T) {
	client := NewClient(Config{BaseURL: "https://host.example.com/restapi/"})
	assert.Equal(t, "https://host.example.com/restapi", client.BaseURL())
}

func TestClient_Host(t *testing.T) {
	client := NewClient(Config{BaseURL: "https://ca1.p6.oraclecloud.com/metrolinx/p6ws/restapi"})
	assert.Equal(t, "ca1.p6.oraclecloud.com", client.Host())
}

func TestResponse_IsJSON(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"Application/JSON", true},
		{"text/html", false},
		{"", false},
	}
	for _, tt := range tests {
		h := http.Header{}
		if tt.contentType != "" {
			h.Set("Content-Type", tt.contentType)
		}
		resp := &Response{Header: h}
		assert.Equal(t, tt.want, resp.IsJSON(), "content type %q", tt.contentType)
	}
}
