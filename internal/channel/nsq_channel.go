package channel

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/ride-relay/internal/constants"
	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"github.com/rs/zerolog"
)

type nsqProducer interface {
	Publish(topic string, body []byte) error
	Ping() error
	Stop()
}

type nsqConsumer interface {
	AddHandler(handler nsq.Handler)
	ConnectToNSQD(addr string) error
	Stop()
}

// NSQOptions holds the nsqd connection settings.
type NSQOptions struct {
	NSQDAddr string
	Timeout  time.Duration
}

// NSQChannel maps rooms onto nsqd topics named <room>.location_update. Each
// endpoint reads through its own ephemeral channel, so every endpoint sees
// every update and nsqd forgets the channel once the endpoint leaves.
type NSQChannel struct {
	producer    nsqProducer
	newConsumer func(topic, channel string) (nsqConsumer, error)
	nsqdAddr    string
	channelName string
	logger      zerolog.Logger

	mu   sync.Mutex
	subs map[string]*nsqSubscription
}

type nsqSubscription struct {
	subscription
	consumer nsqConsumer
}

// nsqLogger routes go-nsq's internal logging through zerolog.
type nsqLogger struct {
	logger zerolog.Logger
}

func (l nsqLogger) Output(_ int, s string) error {
	l.logger.Debug().Str("component", "nsq").Msg(strings.TrimSpace(s))
	return nil
}

// NewNSQChannel connects a producer to nsqd and verifies it with a ping.
func NewNSQChannel(opts NSQOptions, logger zerolog.Logger) (*NSQChannel, error) {
	cfg := nsq.NewConfig()
	if opts.Timeout > 0 {
		cfg.DialTimeout = opts.Timeout
		cfg.WriteTimeout = opts.Timeout
	}

	producer, err := nsq.NewProducer(opts.NSQDAddr, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create nsq producer: %w", err)
	}
	producer.SetLogger(nsqLogger{logger}, nsq.LogLevelWarning)

	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("%w: nsqd %s: %v", ErrChannelUnreachable, opts.NSQDAddr, err)
	}

	return &NSQChannel{
		producer: producer,
		newConsumer: func(topic, channel string) (nsqConsumer, error) {
			consumer, err := nsq.NewConsumer(topic, channel, cfg)
			if err != nil {
				return nil, err
			}
			consumer.SetLogger(nsqLogger{logger}, nsq.LogLevelWarning)
			return consumer, nil
		},
		nsqdAddr:    opts.NSQDAddr,
		channelName: "relay-" + uuid.NewString() + "#ephemeral",
		logger:      logger,
		subs:        make(map[string]*nsqSubscription),
	}, nil
}

// Topic returns the nsqd topic a room is carried on.
func (c *NSQChannel) Topic(roomID string) string {
	return roomID + "." + constants.EventLocationUpdate
}

func (c *NSQChannel) topic(roomID string) (string, error) {
	topic := c.Topic(roomID)
	if !nsq.IsValidTopicName(topic) {
		return "", fmt.Errorf("invalid nsq topic %q", topic)
	}
	return topic, nil
}

// Publish broadcasts msg to the room.
func (c *NSQChannel) Publish(roomID string, msg models.LocationUpdate) error {
	topic, err := c.topic(roomID)
	if err != nil {
		return err
	}
	payload, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode location update: %w", err)
	}

	if err := c.producer.Publish(topic, payload); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrChannelUnreachable, topic, err)
	}
	return nil
}

// Subscribe attaches handler to the room, replacing any earlier handler.
func (c *NSQChannel) Subscribe(roomID string, handler Handler) error {
	topic, err := c.topic(roomID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.subs[roomID]; ok {
		c.drop(roomID, old)
	}

	consumer, err := c.newConsumer(topic, c.channelName)
	if err != nil {
		return fmt.Errorf("failed to create nsq consumer for %s: %w", topic, err)
	}

	sub := &nsqSubscription{consumer: consumer}
	sub.handler = handler
	sub.active.Store(true)

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		msg, err := Decode(m.Body)
		if err != nil {
			c.logger.Debug().Err(err).Str("topic", topic).Msg("Dropping undecodable location update")
			return nil
		}
		sub.deliver(msg)
		return nil
	}))

	if err := consumer.ConnectToNSQD(c.nsqdAddr); err != nil {
		consumer.Stop()
		return fmt.Errorf("%w: subscribe %s: %v", ErrChannelUnreachable, topic, err)
	}

	c.subs[roomID] = sub
	return nil
}

// drop silences the handler and stops the consumer. Callers hold mu.
func (c *NSQChannel) drop(roomID string, sub *nsqSubscription) {
	sub.active.Store(false)
	delete(c.subs, roomID)
	sub.consumer.Stop()
}

// Unsubscribe drops the room. Safe to call for rooms never subscribed.
func (c *NSQChannel) Unsubscribe(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sub, ok := c.subs[roomID]; ok {
		c.drop(roomID, sub)
	}
	return nil
}

// Close drops every room and stops the producer.
func (c *NSQChannel) Close() error {
	c.mu.Lock()
	for room, sub := range c.subs {
		c.drop(room, sub)
	}
	c.mu.Unlock()

	c.producer.Stop()
	return nil
}
