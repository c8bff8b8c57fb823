package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/ride-relay/internal/constants"
	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const kafkaReadBackoff = time.Second

// kafkaWriter is the subset of kafka.Writer used for publishing.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaReader is the subset of kafka.Reader used by a room subscription.
type kafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaOptions holds the Kafka connection settings.
type KafkaOptions struct {
	Brokers []string
	Timeout time.Duration
}

// KafkaChannel maps rooms onto Kafka topics named <room>.location_update.
// Room topics have a single partition; every subscriber reads it from the
// tail without a consumer group, so each one sees every update.
type KafkaChannel struct {
	writer    kafkaWriter
	newReader func(topic string) kafkaReader
	timeout   time.Duration
	logger    zerolog.Logger

	mu   sync.Mutex
	subs map[string]*kafkaSubscription
}

type kafkaSubscription struct {
	subscription
	reader kafkaReader
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKafkaChannel creates a channel on the given brokers. Connections are made lazily.
func NewKafkaChannel(opts KafkaOptions, logger zerolog.Logger) (*KafkaChannel, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
		WriteTimeout:           opts.Timeout,
		BatchTimeout:           10 * time.Millisecond,
	}

	return &KafkaChannel{
		writer: writer,
		newReader: func(topic string) kafkaReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:     opts.Brokers,
				Topic:       topic,
				Partition:   0,
				StartOffset: kafka.LastOffset,
				MaxWait:     500 * time.Millisecond,
			})
		},
		timeout: opts.Timeout,
		logger:  logger,
		subs:    make(map[string]*kafkaSubscription),
	}, nil
}

// Topic returns the Kafka topic a room is carried on.
func (c *KafkaChannel) Topic(roomID string) string {
	return roomID + "." + constants.EventLocationUpdate
}

// Publish writes msg keyed by participant, so one participant's updates stay in order.
func (c *KafkaChannel) Publish(roomID string, msg models.LocationUpdate) error {
	payload, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode location update: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	topic := c.Topic(roomID)
	err = c.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(msg.ParticipantID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrChannelUnreachable, topic, err)
	}
	return nil
}

// Subscribe starts reading the room topic, replacing any earlier handler.
func (c *KafkaChannel) Subscribe(roomID string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.subs[roomID]; ok {
		c.drop(roomID, old)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &kafkaSubscription{
		reader: c.newReader(c.Topic(roomID)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sub.handler = handler
	sub.active.Store(true)
	c.subs[roomID] = sub

	go c.consume(ctx, roomID, sub)
	return nil
}

func (c *KafkaChannel) consume(ctx context.Context, roomID string, sub *kafkaSubscription) {
	defer close(sub.done)

	for {
		m, err := sub.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Str("topic", c.Topic(roomID)).Msg("Failed to read location update")
			select {
			case <-time.After(kafkaReadBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}

		msg, err := Decode(m.Value)
		if err != nil {
			c.logger.Debug().Err(err).Str("topic", m.Topic).Msg("Dropping undecodable location update")
			continue
		}
		sub.deliver(msg)
	}
}

// drop stops the subscription and waits for its reader loop. Callers hold mu.
func (c *KafkaChannel) drop(roomID string, sub *kafkaSubscription) error {
	sub.active.Store(false)
	delete(c.subs, roomID)
	sub.cancel()
	<-sub.done

	if err := sub.reader.Close(); err != nil {
		return fmt.Errorf("%w: unsubscribe %s: %v", ErrChannelUnreachable, c.Topic(roomID), err)
	}
	return nil
}

// Unsubscribe drops the room. Safe to call for rooms never subscribed.
func (c *KafkaChannel) Unsubscribe(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[roomID]
	if !ok {
		return nil
	}
	return c.drop(roomID, sub)
}

// Close drops every room and flushes the writer.
func (c *KafkaChannel) Close() error {
	c.mu.Lock()
	for room, sub := range c.subs {
		if err := c.drop(room, sub); err != nil {
			c.logger.Warn().Err(err).Str("room", room).Msg("Failed to drop room subscription")
		}
	}
	c.mu.Unlock()

	return c.writer.Close()
}
