// Package httpconn performs http_request node calls over net/http.
package httpconn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/app/nodes"
)

// DefaultMaxBodyBytes caps how much of a response is read.
const DefaultMaxBodyBytes = 10 << 20

// Client implements nodes.HTTPConnector
// PRINCIPLES:
// - SRP: Transport only; retries and port selection stay in the node
type Client struct {
	http         *http.Client
	logger       *zap.Logger
	userAgent    string
	maxBodyBytes int64
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *zap.Logger) Option { return func(cl *Client) { cl.logger = l } }

// WithUserAgent sets the User-Agent sent when the node config has none.
func WithUserAgent(ua string) Option { return func(cl *Client) { cl.userAgent = ua } }

// WithMaxBodyBytes caps the response size read into the step output.
func WithMaxBodyBytes(n int64) Option { return func(cl *Client) { cl.maxBodyBytes = n } }

// New creates a connector. timeout bounds every request on top of the
// per-node timeout; zero leaves it to the node.
func New(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		http:         &http.Client{Timeout: timeout},
		logger:       zap.NewNop(),
		userAgent:    "nodeflow",
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// Do sends req. A 2xx answer is returned as a response; any other status is a
// *nodes.HTTPStatusError carrying the decoded body.
func (c *Client) Do(ctx context.Context, req nodes.HTTPRequest) (*nodes.HTTPResponse, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get("User-Agent") == "" && c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	data := decodeBody(raw)

	c.logger.Debug("http request",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &nodes.HTTPStatusError{Status: resp.StatusCode, Data: data}
	}
	return &nodes.HTTPResponse{Status: resp.StatusCode, Data: data}, nil
}

// encodeBody returns nil for an absent or empty body. Strings are sent as-is,
// everything else as JSON.
func encodeBody(v any) (io.Reader, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case string:
		if b == "" {
			return nil, nil
		}
		return bytes.NewReader([]byte(b)), nil
	case map[string]any:
		if len(b) == 0 {
			return nil, nil
		}
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal body: %w", err)
	}
	return bytes.NewReader(buf), nil
}

// decodeBody parses JSON and falls back to the raw text.
func decodeBody(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
