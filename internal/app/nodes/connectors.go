package nodes

import (
	"context"
	"fmt"
	"time"
)

// HTTPRequest is what http_request nodes hand to the connector.
type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
	Timeout time.Duration     `json:"timeout"`
}

// HTTPResponse is a successful connector answer.
type HTTPResponse struct {
	Status int `json:"status"`
	Data   any `json:"data"`
}

// HTTPStatusError is a failure that still carries the response, e.g. a non-2xx status.
type HTTPStatusError struct {
	Status int
	Data   any
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected response status %d", e.Status)
}

// HTTPConnector performs the actual request. The node never does network I/O itself.
type HTTPConnector interface {
	Do(ctx context.Context, req HTTPRequest) (*HTTPResponse, error)
}

// QueueMessage is what rabbitmq_publish nodes hand to the publisher.
type QueueMessage struct {
	Queue    string `json:"queue"`
	Exchange string `json:"exchange"`
	Message  any    `json:"message"`
}

// QueuePublisher delivers a message fire-and-forget.
type QueuePublisher interface {
	PublishMessage(ctx context.Context, msg QueueMessage) error
}
