// Package rabbitmq connects nodeflow to a RabbitMQ broker: publishing for
// rabbitmq_publish nodes and consuming queued trigger requests.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrConnectionClosed is returned once Close has been called.
var ErrConnectionClosed = errors.New("rabbitmq connection closed")

// DefaultReconnectAttempts bounds one reconnect cycle.
const DefaultReconnectAttempts = 10

// Channel is the subset of *amqp.Channel nodeflow uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ChannelProvider hands out a live channel.
type ChannelProvider interface {
	Channel() (Channel, error)
}

// Connection owns a broker connection and one channel, and re-dials when
// the broker drops it.
type Connection struct {
	url    string
	delay  time.Duration
	logger *zap.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
	done    chan struct{}
}

// Dial connects to url. delay is the base wait between reconnect attempts;
// attempt n waits n*delay.
func Dial(url string, delay time.Duration, logger *zap.Logger) (*Connection, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if delay <= 0 {
		delay = time.Second
	}
	c := &Connection{url: url, delay: delay, logger: logger, done: make(chan struct{})}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.watch()
	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()
	c.logger.Info("connected to RabbitMQ")
	return nil
}

// watch re-dials after an unexpected close until Close is called.
func (c *Connection) watch() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		reason, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
		if !ok || c.isClosed() {
			return
		}
		c.logger.Warn("RabbitMQ connection lost, reconnecting", zap.Error(reason))

		if !c.reconnect() {
			return
		}
	}
}

func (c *Connection) reconnect() bool {
	for attempt := 1; attempt <= DefaultReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return false
		case <-time.After(time.Duration(attempt) * c.delay):
		}
		err := c.connect()
		if err == nil {
			c.logger.Info("reconnected to RabbitMQ", zap.Int("attempt", attempt))
			return true
		}
		c.logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	c.logger.Error("giving up on RabbitMQ", zap.Int("attempts", DefaultReconnectAttempts))
	return false
}

// Channel returns the current channel, reopening it when the broker closed
// it on its own.
func (c *Connection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnectionClosed
	}
	if c.channel == nil || c.channel.IsClosed() {
		if c.conn == nil || c.conn.IsClosed() {
			return nil, fmt.Errorf("channel is not available: connection down")
		}
		ch, err := c.conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("failed to create channel: %w", err)
		}
		c.channel = ch
	}
	return c.channel, nil
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close shuts the channel and connection down and stops reconnecting.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("failed to close channel", zap.Error(err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	c.logger.Info("RabbitMQ connection closed")
	return nil
}
