package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	connectionName = "bulkmail"
	dialTimeout    = 10 * time.Second
	connectTimeout = 15 * time.Second
	heartbeat      = 10 * time.Second
	retryBase      = time.Second
	retryCap       = 30 * time.Second
)

var errClientClosed = errors.New("rabbitmq client is closed")

// RabbitMQ owns one broker connection shared by the event publisher and the
// event follower. It redials on demand and declares each queue's topology
// once per connection.
type RabbitMQ struct {
	url  string
	dial func(url string) (*amqp.Connection, error)

	mu       sync.Mutex
	conn     *amqp.Connection
	declared map[string]bool
	closed   bool
}

// NewRabbitMQ connects to url, retrying with backoff for up to 15 seconds or
// until ctx ends.
func NewRabbitMQ(ctx context.Context, url string) (*RabbitMQ, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{
		url:      url,
		dial:     dialBroker,
		declared: make(map[string]bool),
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func dialBroker(url string) (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName)

	return amqp.DialConfig(url, amqp.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
		Dial:       amqp.DefaultDial(dialTimeout),
	})
}

// Close drops the connection. Channels opened from it are closed by the broker.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	conn := r.conn
	r.conn = nil
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// connection returns a live connection, redialing while ctx allows.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errClientClosed
	}
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	wait := retryBase
	for {
		conn, err := r.dial(r.url)
		if err == nil {
			r.conn = conn
			r.declared = make(map[string]bool)
			return conn, nil
		}

		if !sleepContext(ctx, wait) {
			return nil, fmt.Errorf("rabbitmq connect: %w (last error: %v)", ctx.Err(), err)
		}
		wait = nextBackoff(wait)
	}
}

// openChannel returns a channel on which queue and its dead-letter queue
// exist. With confirm set the channel is in publisher-confirm mode.
func (r *RabbitMQ) openChannel(ctx context.Context, queue string, confirm bool) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		// The connection is half dead; force a redial and try once more.
		_ = conn.Close()
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
	}

	if err := r.ensureTopology(ch, queue); err != nil {
		_ = ch.Close()
		return nil, err
	}

	if confirm {
		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
	}

	return ch, nil
}

func (r *RabbitMQ) ensureTopology(ch *amqp.Channel, queue string) error {
	r.mu.Lock()
	done := r.declared[queue]
	r.mu.Unlock()
	if done {
		return nil
	}

	if err := declareTopology(ch, queue); err != nil {
		return err
	}

	r.mu.Lock()
	r.declared[queue] = true
	r.mu.Unlock()
	return nil
}

// declareTopology creates the dead-letter exchange, <queue>.dlq bound to it,
// and the durable events queue that dead-letters rejected messages there.
func declareTopology(ch *amqp.Channel, queue string) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", dlxExchangeName, err)
	}

	dlq := DLQName(queue)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, queue, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", dlq, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": queue,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", queue, err)
	}

	return nil
}

func nextBackoff(wait time.Duration) time.Duration {
	wait *= 2
	if wait > retryCap {
		return retryCap
	}
	return wait
}

// sleepContext waits for d and reports false if ctx ended first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
