package httpconn

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/nodeflow/internal/app/nodes"
)

func TestClient_JSONRoundTrip(t *testing.T) {
	var gotBody map[string]any
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 7, "ok": true}`))
	}))
	defer srv.Close()

	c := New(5 * time.Second)
	resp, err := c.Do(context.Background(), nodes.HTTPRequest{
		Method:  http.MethodPost,
		URL:     srv.URL,
		Headers: map[string]string{"X-Trace": "abc"},
		Body:    map[string]any{"name": "Ann"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, map[string]any{"id": float64(7), "ok": true}, resp.Data)

	assert.Equal(t, map[string]any{"name": "Ann"}, gotBody)
	assert.Equal(t, "abc", gotHeaders.Get("X-Trace"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "nodeflow", gotHeaders.Get("User-Agent"))
}

func TestClient_EmptyBodyIsNotSent(t *testing.T) {
	var length int64 = -2
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		length = int64(len(b))
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	resp, err := New(0).Do(context.Background(), nodes.HTTPRequest{
		Method: http.MethodGet,
		URL:    srv.URL,
		Body:   map[string]any{},
	})
	require.NoError(t, err)
	assert.Zero(t, length)
	assert.Equal(t, "plain text", resp.Data)
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer srv.Close()

	_, err := New(0).Do(context.Background(), nodes.HTTPRequest{Method: http.MethodGet, URL: srv.URL})
	var statusErr *nodes.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
	assert.Equal(t, map[string]any{"error": "down"}, statusErr.Data)
}

func TestClient_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(0).Do(ctx, nodes.HTTPRequest{Method: http.MethodGet, URL: srv.URL})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_InvalidRequest(t *testing.T) {
	_, err := New(0).Do(context.Background(), nodes.HTTPRequest{Method: "BAD METHOD", URL: "http://x"})
	assert.Error(t, err)

	_, err = New(0).Do(context.Background(), nodes.HTTPRequest{Method: http.MethodPost, URL: "http://x", Body: make(chan int)})
	assert.ErrorContains(t, err, "marshal body")
}

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{"object", `{"a":1}`, map[string]any{"a": float64(1)}},
		{"array", `[1,"x"]`, []any{float64(1), "x"}},
		{"text", `hello`, "hello"},
		{"empty", "  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decodeBody([]byte(tt.raw)))
		})
	}
}
