package channel

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benmeehan/ride-relay/internal/constants"
	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// amqpChannel is the subset of *amqp.Channel the room channel needs.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// AMQPOptions holds the RabbitMQ connection settings.
type AMQPOptions struct {
	URL      string
	Exchange string
	Timeout  time.Duration
}

// AMQPChannel carries rooms over a RabbitMQ topic exchange with routing key
// <room>.location_update. Every subscription reads through its own exclusive,
// auto-deleted queue, so the broker drops it as soon as the endpoint leaves.
type AMQPChannel struct {
	conn     io.Closer
	ch       amqpChannel
	exchange string
	timeout  time.Duration
	logger   zerolog.Logger

	pubMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*amqpSubscription
}

type amqpSubscription struct {
	subscription
	tag  string
	done chan struct{}
}

// NewAMQPChannel dials RabbitMQ and declares the room exchange.
func NewAMQPChannel(opts AMQPOptions, logger zerolog.Logger) (*AMQPChannel, error) {
	conn, err := amqp.DialConfig(opts.URL, amqp.Config{
		Dial: amqp.DefaultDial(opts.Timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial rabbitmq: %v", ErrChannelUnreachable, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open channel: %v", ErrChannelUnreachable, err)
	}

	c, err := newAMQPChannel(conn, ch, opts, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func newAMQPChannel(conn io.Closer, ch amqpChannel, opts AMQPOptions, logger zerolog.Logger) (*AMQPChannel, error) {
	if err := ch.ExchangeDeclare(opts.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("%w: declare exchange %s: %v", ErrChannelUnreachable, opts.Exchange, err)
	}

	return &AMQPChannel{
		conn:     conn,
		ch:       ch,
		exchange: opts.Exchange,
		timeout:  opts.Timeout,
		logger:   logger,
		subs:     make(map[string]*amqpSubscription),
	}, nil
}

// RoutingKey returns the routing key a room is carried on.
func (c *AMQPChannel) RoutingKey(roomID string) string {
	return roomID + "." + constants.EventLocationUpdate
}

// Publish broadcasts msg to the room. Updates are transient.
func (c *AMQPChannel) Publish(roomID string, msg models.LocationUpdate) error {
	payload, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode location update: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	key := c.RoutingKey(roomID)
	err = c.ch.PublishWithContext(ctx, c.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrChannelUnreachable, key, err)
	}
	return nil
}

// Subscribe binds a fresh exclusive queue to the room, replacing any earlier handler.
func (c *AMQPChannel) Subscribe(roomID string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.subs[roomID]; ok {
		c.drop(roomID, old)
	}

	key := c.RoutingKey(roomID)
	queue, err := c.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("%w: declare queue for %s: %v", ErrChannelUnreachable, key, err)
	}
	if err := c.ch.QueueBind(queue.Name, key, c.exchange, false, nil); err != nil {
		return fmt.Errorf("%w: bind %s: %v", ErrChannelUnreachable, key, err)
	}

	tag := "relay-" + uuid.NewString()
	deliveries, err := c.ch.Consume(queue.Name, tag, true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("%w: consume %s: %v", ErrChannelUnreachable, key, err)
	}

	sub := &amqpSubscription{tag: tag, done: make(chan struct{})}
	sub.handler = handler
	sub.active.Store(true)
	c.subs[roomID] = sub

	go c.consume(key, sub, deliveries)
	return nil
}

func (c *AMQPChannel) consume(key string, sub *amqpSubscription, deliveries <-chan amqp.Delivery) {
	defer close(sub.done)

	for d := range deliveries {
		msg, err := Decode(d.Body)
		if err != nil {
			c.logger.Debug().Err(err).Str("routing_key", key).Msg("Dropping undecodable location update")
			continue
		}
		sub.deliver(msg)
	}

	if sub.active.Load() {
		c.logger.Warn().Str("routing_key", key).Msg("Room delivery stream closed by broker")
	}
}

// drop cancels the consumer. Callers hold mu.
func (c *AMQPChannel) drop(roomID string, sub *amqpSubscription) error {
	sub.active.Store(false)
	delete(c.subs, roomID)

	if err := c.ch.Cancel(sub.tag, false); err != nil {
		return fmt.Errorf("%w: unsubscribe %s: %v", ErrChannelUnreachable, c.RoutingKey(roomID), err)
	}
	<-sub.done
	return nil
}

// Unsubscribe drops the room. Safe to call for rooms never subscribed.
func (c *AMQPChannel) Unsubscribe(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[roomID]
	if !ok {
		return nil
	}
	return c.drop(roomID, sub)
}

// Close drops every room and closes the connection.
func (c *AMQPChannel) Close() error {
	c.mu.Lock()
	for room, sub := range c.subs {
		if err := c.drop(room, sub); err != nil {
			c.logger.Warn().Err(err).Str("room", room).Msg("Failed to drop room subscription")
		}
	}
	c.mu.Unlock()

	if err := c.ch.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close amqp channel")
	}
	return c.conn.Close()
}
