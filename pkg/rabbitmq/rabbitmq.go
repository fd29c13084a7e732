package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("rabbitmq: client closed")

// Message is a single persistent message to publish.
type Message struct {
	ID          string
	ContentType string
	Headers     map[string]string
	Body        []byte
}

// Client publishes to durable queues through the default exchange. The
// channel runs in confirm mode so Publish returns only after the broker has
// taken responsibility for the message. A closed channel or connection is
// re-established on the next publish.
//
// mu serializes channel use. conn and closed are also readable without it so
// Ping never waits behind a publish.
type Client struct {
	url    string
	logger *slog.Logger

	mu       sync.Mutex
	ch       *amqp.Channel
	declared map[string]struct{}

	conn   atomic.Pointer[amqp.Connection]
	closed atomic.Bool
}

// Dial connects to the broker at url and opens a confirm-mode channel.
func Dial(url string, logger *slog.Logger) (*Client, error) {
	c := &Client{url: url, logger: logger}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	logger.Info("connected to rabbitmq")
	return c, nil
}

func (c *Client) connectLocked() error {
	conn := c.conn.Load()
	if conn == nil || conn.IsClosed() {
		var err error
		if conn, err = amqp.Dial(c.url); err != nil {
			return fmt.Errorf("dial rabbitmq: %w", err)
		}
		c.conn.Store(conn)
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}

	c.ch = ch
	c.declared = make(map[string]struct{})
	return nil
}

// channel returns a live channel, reconnecting when needed.
func (c *Client) channel() (*amqp.Channel, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.ch == nil || c.ch.IsClosed() {
		c.logger.Warn("rabbitmq channel closed, reconnecting")
		if err := c.connectLocked(); err != nil {
			return nil, err
		}
	}
	return c.ch, nil
}

// DeclareQueue declares a durable, non-exclusive queue. Declaring an existing
// queue with the same arguments is a no-op on the broker.
func (c *Client) DeclareQueue(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.channel()
	if err != nil {
		return err
	}
	return c.declareLocked(ch, name)
}

func (c *Client) declareLocked(ch *amqp.Channel, name string) error {
	if _, ok := c.declared[name]; ok {
		return nil
	}
	_, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	c.declared[name] = struct{}{}
	return nil
}

// Publish declares queue if needed and sends msg to it as a persistent
// message, waiting for the broker confirmation. The channel is released
// before the wait so other publishes and Close are not held up by a slow
// broker.
func (c *Client) Publish(ctx context.Context, queue string, msg Message) error {
	confirm, err := c.send(ctx, queue, msg)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm from %s: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("publish to %s: broker nacked message %s", queue, msg.ID)
	}

	c.logger.DebugContext(ctx, "message published",
		slog.String("queue", queue),
		slog.String("message_id", msg.ID),
	)
	return nil
}

func (c *Client) send(ctx context.Context, queue string, msg Message) (*amqp.DeferredConfirmation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.channel()
	if err != nil {
		return nil, err
	}
	if err := c.declareLocked(ch, queue); err != nil {
		return nil, err
	}

	contentType := msg.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	var headers amqp.Table
	if len(msg.Headers) > 0 {
		headers = make(amqp.Table, len(msg.Headers))
		for k, v := range msg.Headers {
			headers[k] = v
		}
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:    msg.ID,
			ContentType:  contentType,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
			Body:         msg.Body,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("publish to %s: %w", queue, err)
	}
	return confirm, nil
}

// Ping reports an error when the connection is down. It does not take the
// channel lock.
func (c *Client) Ping(_ context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if conn := c.conn.Load(); conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection closed")
	}
	return nil
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if c.ch != nil && !c.ch.IsClosed() {
		errs = append(errs, c.ch.Close())
	}
	if conn := c.conn.Load(); conn != nil && !conn.IsClosed() {
		errs = append(errs, conn.Close())
	}
	return errors.Join(errs...)
}
