package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/app/nodes"
	"github.com/flowgraph/nodeflow/internal/infrastructure/metrics"
)

// Publisher sends JSON messages. It implements nodes.QueuePublisher.
type Publisher struct {
	channels ChannelProvider
	logger   *zap.Logger

	mu       sync.Mutex
	declared map[string]struct{}
}

// NewPublisher creates a publisher over channels
func NewPublisher(channels ChannelProvider, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{channels: channels, logger: logger, declared: make(map[string]struct{})}
}

// DeclareQueue declares a durable queue once per publisher.
func (p *Publisher) DeclareQueue(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.declared[name]; ok {
		return nil
	}
	ch, err := p.channels.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	p.declared[name] = struct{}{}
	p.logger.Info("queue declared", zap.String("queue", name))
	return nil
}

// Publish marshals v to JSON and publishes it persistently. An empty
// exchange routes straight to the queue named by key, which is declared first.
func (p *Publisher) Publish(ctx context.Context, exchange, key string, v any) error {
	if exchange == "" {
		if key == "" {
			return fmt.Errorf("publish: queue or exchange is required")
		}
		if err := p.DeclareQueue(key); err != nil {
			return err
		}
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	ch, err := p.channels.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		p.logger.Error("failed to publish message",
			zap.String("exchange", exchange),
			zap.String("routing_key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish message: %w", err)
	}
	p.logger.Debug("message published",
		zap.String("exchange", exchange),
		zap.String("routing_key", key),
		zap.Int("size", len(body)),
	)
	return nil
}

// PublishMessage implements nodes.QueuePublisher.
func (p *Publisher) PublishMessage(ctx context.Context, msg nodes.QueueMessage) error {
	metrics.ConnectorAttempt("rabbitmq")
	return p.Publish(ctx, msg.Exchange, msg.Queue, msg.Message)
}
