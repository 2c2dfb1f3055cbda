package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/flowgraph/nodeflow/internal/app/dto"
	"github.com/flowgraph/nodeflow/internal/core/execution"
	"github.com/flowgraph/nodeflow/internal/core/graph"
)

// DefaultTriggerQueue carries queued TriggerRequest messages.
const DefaultTriggerQueue = "nodeflow.triggers"

// Triggerer accepts trigger requests; *services.ExecutionService is one.
type Triggerer interface {
	Trigger(ctx context.Context, req *dto.TriggerRequest) (*execution.Execution, error)
}

// TriggerConsumer turns queue messages into executions. Messages are handled
// one at a time (prefetch 1) and acknowledged once the execution is accepted.
type TriggerConsumer struct {
	channels ChannelProvider
	trigger  Triggerer
	queue    string
	retry    time.Duration
	logger   *zap.Logger
}

// NewTriggerConsumer creates a consumer for queue (DefaultTriggerQueue when empty).
func NewTriggerConsumer(channels ChannelProvider, trigger Triggerer, queue string, logger *zap.Logger) *TriggerConsumer {
	if queue == "" {
		queue = DefaultTriggerQueue
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriggerConsumer{
		channels: channels,
		trigger:  trigger,
		queue:    queue,
		retry:    5 * time.Second,
		logger:   logger,
	}
}

// Run consumes until ctx is done. When the delivery stream closes, for
// example after a reconnect, it subscribes again.
func (c *TriggerConsumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Warn("subscribe failed", zap.String("queue", c.queue), zap.Error(err))
		} else {
			c.logger.Info("consuming triggers", zap.String("queue", c.queue))
			if err := c.drain(ctx, deliveries); err != nil {
				return err
			}
			c.logger.Warn("delivery stream closed", zap.String("queue", c.queue))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.retry):
		}
	}
}

func (c *TriggerConsumer) subscribe() (<-chan amqp.Delivery, error) {
	ch, err := c.channels.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}
	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return deliveries, nil
}

// drain returns nil when the stream closes and when ctx ends.
func (c *TriggerConsumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery. Malformed bodies and requests that can
// never succeed are dropped; other failures are requeued.
func (c *TriggerConsumer) Handle(ctx context.Context, d amqp.Delivery) {
	var req dto.TriggerRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		c.logger.Error("malformed trigger message", zap.Error(err))
		c.nack(d, false)
		return
	}

	exec, err := c.trigger.Trigger(ctx, &req)
	if err != nil {
		requeue := !permanent(err)
		c.logger.Error("trigger rejected",
			zap.String("schema_id", req.SchemaID),
			zap.Bool("requeue", requeue),
			zap.Error(err),
		)
		c.nack(d, requeue)
		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to ack trigger", zap.String("execution_id", exec.ID), zap.Error(err))
		return
	}
	c.logger.Info("trigger accepted",
		zap.String("execution_id", exec.ID),
		zap.String("schema_id", exec.SchemaID),
	)
}

func (c *TriggerConsumer) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		c.logger.Error("failed to nack trigger", zap.Error(err))
	}
}

// permanent reports errors that a redelivery cannot fix.
func permanent(err error) bool {
	return errors.Is(err, dto.ErrInvalidRequest) ||
		errors.Is(err, graph.ErrStructural) ||
		errors.Is(err, graph.ErrGraphNotFound)
}
