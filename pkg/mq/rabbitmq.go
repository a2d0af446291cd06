package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"fitnessbuddy/pkg/config"
	"fitnessbuddy/pkg/job"
)

var ErrNotConfirmed = errors.New("broker did not confirm publish")

// Client owns one broker connection per process. Publishes share a single
// channel guarded by mu; consumers get dedicated channels.
type Client struct {
	cfg config.RabbitMQConfig
	log zerolog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func New(cfg config.RabbitMQConfig, log zerolog.Logger) (*Client, error) {
	c := &Client{cfg: cfg, log: log.With().Str("component", "mq").Logger()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.channelLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connLocked() (*amqp.Connection, error) {
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	c.conn = conn
	c.ch = nil
	return conn, nil
}

// channelLocked returns the shared publish channel, reopening the connection
// or channel if the broker closed them. Must be called with mu held.
func (c *Client) channelLocked() (*amqp.Channel, error) {
	conn, err := c.connLocked()
	if err != nil {
		return nil, err
	}
	if c.ch != nil && !c.ch.IsClosed() {
		return c.ch, nil
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	c.ch = ch
	return ch, nil
}

// SetupTopology declares the stats queue and the fanout exchanges. Idempotent.
func (c *Client) SetupTopology() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.channelLocked()
	if err != nil {
		return err
	}

	if err := ch.ExchangeDeclare(c.cfg.NotificationsExchange, "fanout", false, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", c.cfg.NotificationsExchange, err)
	}
	if err := ch.ExchangeDeclare(c.cfg.LogsExchange, "fanout", false, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", c.cfg.LogsExchange, err)
	}

	var args amqp.Table
	if c.cfg.DeadLetterEnabled {
		if err := ch.ExchangeDeclare(c.cfg.DeadLetterExchange, "fanout", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", c.cfg.DeadLetterExchange, err)
		}
		if _, err := ch.QueueDeclare(c.cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", c.cfg.DeadLetterQueue, err)
		}
		if err := ch.QueueBind(c.cfg.DeadLetterQueue, "", c.cfg.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", c.cfg.DeadLetterQueue, err)
		}
		args = amqp.Table{"x-dead-letter-exchange": c.cfg.DeadLetterExchange}
	}

	if _, err := ch.QueueDeclare(c.cfg.StatsQueue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare %s: %w", c.cfg.StatsQueue, err)
	}
	return nil
}

// PublishJob puts a serialized StatsJob on the stats queue and waits for the
// broker to confirm it.
func (c *Client) PublishJob(ctx context.Context, messageID string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.channelLocked()
	if err != nil {
		return err
	}
	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		"",               // default exchange
		c.cfg.StatsQueue, // routing key = queue name
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

// PublishNotification broadcasts a computed result.
func (c *Client) PublishNotification(ctx context.Context, r job.Result) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.publishFanout(ctx, c.cfg.NotificationsExchange, body)
}

// PublishLog sends a fire-and-forget entry to the logs exchange.
func (c *Client) PublishLog(ctx context.Context, content string) error {
	body, err := json.Marshal(job.NewLogEntry(time.Now(), content))
	if err != nil {
		return err
	}
	return c.publishFanout(ctx, c.cfg.LogsExchange, body)
}

func (c *Client) publishFanout(ctx context.Context, exchange string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, err := c.channelLocked()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
}

// ConsumeJobs opens a dedicated channel with prefetch 1 and manual acks, so
// each consumer holds at most one unacknowledged job.
func (c *Client) ConsumeJobs(consumerTag string) (<-chan amqp.Delivery, func() error, error) {
	c.mu.Lock()
	conn, err := c.connLocked()
	c.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("failed to set qos: %w", err)
	}
	deliveries, err := ch.Consume(
		c.cfg.StatsQueue,
		consumerTag,
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("failed to consume %s: %w", c.cfg.StatsQueue, err)
	}
	return deliveries, ch.Close, nil
}

// SubscribeNotifications binds a private capacity-one queue to the
// notifications exchange and hands every result to sink until ctx ends. With
// prefetch one and manual acks, at most one notification sits with the
// client; the broker drops the older queued one when a new one arrives before
// it is read.
func (c *Client) SubscribeNotifications(ctx context.Context, sink func(job.Result)) error {
	c.mu.Lock()
	conn, err := c.connLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open subscriber channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.cfg.NotificationsExchange, "fanout", false, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", c.cfg.NotificationsExchange, err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, amqp.Table{
		"x-max-length": int32(1),
		"x-overflow":   "drop-head",
	})
	if err != nil {
		return fmt.Errorf("declare subscriber queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", c.cfg.NotificationsExchange, false, nil); err != nil {
		return fmt.Errorf("bind subscriber queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume subscriber queue: %w", err)
	}

	c.log.Info().Str("queue", q.Name).Msg("subscribed to notifications")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("notification delivery channel closed")
			}
			var r job.Result
			if err := json.Unmarshal(d.Body, &r); err != nil {
				c.log.Warn().Err(err).Msg("discarding undecodable notification")
			} else {
				sink(r)
			}
			if err := d.Ack(false); err != nil {
				return fmt.Errorf("ack notification: %w", err)
			}
		}
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}
