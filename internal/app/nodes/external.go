package nodes

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/core/expr"
	"github.com/flowgraph/nodeflow/internal/core/graph"
	"github.com/flowgraph/nodeflow/internal/infrastructure/metrics"
)

// httpRequestKind delegates a request to the HTTP connector, with an optional
// sequential retry policy.
type httpRequestKind struct {
	connector HTTPConnector
	clock     Clock
	logger    *zap.Logger
}

type retryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	MaxAttempts int     `mapstructure:"max_attempts"`
	Delay       float64 `mapstructure:"delay"`
	StatusCodes []int   `mapstructure:"status_codes"`
}

// retryable reports whether err is worth another attempt. Transport errors
// and timeouts always are; a status error only when its code is listed.
func (c retryConfig) retryable(err error) bool {
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		return true
	}
	return slices.Contains(c.StatusCodes, statusErr.Status)
}

type httpRequestConfig struct {
	Method  string         `mapstructure:"method"`
	URL     string         `mapstructure:"url"`
	Headers map[string]any `mapstructure:"headers"`
	Body    any            `mapstructure:"body"`
	Timeout float64        `mapstructure:"timeout"`
	Retry   retryConfig    `mapstructure:"retry"`
}

func (httpRequestKind) Descriptor() Descriptor {
	return Descriptor{
		Type:     graph.NodeTypeHTTPRequest,
		Label:    "HTTP Request",
		Category: CategoryExternal,
		Outputs:  []graph.Port{graph.PortSuccess, graph.PortError},
		DefaultConfig: map[string]any{
			"method":  "GET",
			"url":     "",
			"headers": map[string]any{},
			"body":    map[string]any{},
			"timeout": 30,
			"retry": map[string]any{
				"enabled":      false,
				"max_attempts": 3,
				"delay":        5,
				"status_codes": []any{408, 429, 500, 502, 503, 504},
			},
		},
		Active: true,
	}
}

func (k httpRequestKind) Step(ctx context.Context, in Input) (Result, error) {
	if k.connector == nil {
		return Result{}, Fatalf("http_request: %w", ErrConnectorMissing)
	}
	var cfg httpRequestConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		return Result{}, Fatal(err)
	}
	req, err := buildHTTPRequest(cfg, in)
	if err != nil {
		return Result{}, Fatal(err)
	}

	attempts := 1
	if cfg.Retry.Enabled && cfg.Retry.MaxAttempts > 1 {
		attempts = cfg.Retry.MaxAttempts
	}

	var lastErr error
	made := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := Suspend(ctx, k.clock, seconds(cfg.Retry.Delay)); err != nil {
				return Result{}, Fatal(err)
			}
		}

		made = attempt
		resp, err := k.attempt(ctx, req)
		if err == nil {
			return Result{
				Port: graph.PortSuccess,
				Output: map[string]any{
					"status":   resp.Status,
					"data":     resp.Data,
					"attempts": attempt,
				},
			}, nil
		}
		if ctx.Err() != nil {
			return Result{}, Fatal(ErrCancelled)
		}
		lastErr = err
		k.logger.Warn("http request attempt failed",
			zap.String("node_id", in.Node.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if !cfg.Retry.retryable(err) {
			break
		}
	}

	// a status outside status_codes ends the loop early and is not fatal
	if cfg.Retry.Enabled && cfg.Retry.retryable(lastErr) {
		return Result{}, &FatalError{
			Reason: fmt.Sprintf("http request failed after %d attempts: %v", attempts, lastErr),
			Err:    fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr),
		}
	}

	out := map[string]any{"error": lastErr.Error(), "attempts": made}
	var statusErr *HTTPStatusError
	if errors.As(lastErr, &statusErr) {
		out["status"] = statusErr.Status
		out["data"] = statusErr.Data
	}
	return Result{Port: graph.PortError, Output: out}, nil
}

// attempt runs one connector call bounded by the node timeout. Hitting the
// deadline is an ordinary connector failure.
func (k httpRequestKind) attempt(ctx context.Context, req HTTPRequest) (*HTTPResponse, error) {
	metrics.ConnectorAttempt("http")
	actx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()
	resp, err := k.connector.Do(actx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("http connector returned no response")
	}
	return resp, nil
}

func buildHTTPRequest(cfg httpRequestConfig, in Input) (HTTPRequest, error) {
	url := strings.TrimSpace(expr.Resolve(cfg.URL, in.Vars))
	if url == "" {
		return HTTPRequest{}, ErrMissingURL
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = "GET"
	}
	headers := make(map[string]string, len(cfg.Headers))
	for name, v := range cfg.Headers {
		headers[name] = expr.Format(expr.ResolveValue(v, in.Vars))
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30
	}
	return HTTPRequest{
		Method:  method,
		URL:     url,
		Headers: headers,
		Body:    expr.ResolveValue(cfg.Body, in.Vars),
		Timeout: seconds(timeout),
	}, nil
}

// rabbitMQPublishKind is reserved: it only becomes active when a publisher
// is configured.
type rabbitMQPublishKind struct {
	publisher QueuePublisher
}

type rabbitMQPublishConfig struct {
	Queue    string `mapstructure:"queue"`
	Exchange string `mapstructure:"exchange"`
	Message  any    `mapstructure:"message"`
}

func (k rabbitMQPublishKind) Descriptor() Descriptor {
	return Descriptor{
		Type:     graph.NodeTypeRabbitMQPublish,
		Label:    "RabbitMQ",
		Category: CategoryExternal,
		Outputs:  []graph.Port{graph.PortSuccess, graph.PortError},
		DefaultConfig: map[string]any{
			"queue":    "",
			"exchange": "",
			"message":  map[string]any{},
		},
		Active: k.publisher != nil,
	}
}

func (k rabbitMQPublishKind) Step(ctx context.Context, in Input) (Result, error) {
	if k.publisher == nil {
		return Result{}, Fatalf("rabbitmq_publish: %w", ErrConnectorMissing)
	}
	var cfg rabbitMQPublishConfig
	if err := decodeConfig(in.Config, &cfg); err != nil {
		return Result{}, Fatal(err)
	}
	msg := QueueMessage{
		Queue:    strings.TrimSpace(expr.Resolve(cfg.Queue, in.Vars)),
		Exchange: strings.TrimSpace(expr.Resolve(cfg.Exchange, in.Vars)),
		Message:  expr.ResolveValue(cfg.Message, in.Vars),
	}
	if msg.Queue == "" && msg.Exchange == "" {
		return Result{}, Fatal(ErrMissingDestination)
	}

	metrics.ConnectorAttempt("rabbitmq")
	out := map[string]any{"queue": msg.Queue, "exchange": msg.Exchange}
	if err := k.publisher.PublishMessage(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return Result{}, Fatal(ErrCancelled)
		}
		out["error"] = err.Error()
		return Result{Port: graph.PortError, Output: out}, nil
	}
	return Result{Port: graph.PortSuccess, Output: out}, nil
}
