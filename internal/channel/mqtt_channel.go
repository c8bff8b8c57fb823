package channel

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benmeehan/ride-relay/internal/constants"
	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/benmeehan/ride-relay/pkg/mqtt"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTChannel maps rooms onto MQTT topics of the form <prefix>/<room>/location_update.
type MQTTChannel struct {
	client  mqtt.MQTTClient
	prefix  string
	qos     byte
	timeout time.Duration
	logger  zerolog.Logger

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	handler Handler
	active  atomic.Bool
}

// deliver hands msg to the handler unless the subscription was dropped.
func (s *subscription) deliver(msg models.LocationUpdate) {
	if s.active.Load() {
		s.handler(msg)
	}
}

// NewMQTTChannel creates a channel on top of a connected MQTT client.
func NewMQTTChannel(client mqtt.MQTTClient, prefix string, qos byte, timeout time.Duration, logger zerolog.Logger) *MQTTChannel {
	return &MQTTChannel{
		client:  client,
		prefix:  prefix,
		qos:     qos,
		timeout: timeout,
		logger:  logger,
		subs:    make(map[string]*subscription),
	}
}

// Topic returns the MQTT topic a room is carried on.
func (c *MQTTChannel) Topic(roomID string) string {
	if c.prefix == "" {
		return roomID + "/" + constants.EventLocationUpdate
	}
	return c.prefix + "/" + roomID + "/" + constants.EventLocationUpdate
}

func (c *MQTTChannel) wait(token pahomqtt.Token, op, topic string) error {
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("%w: %s %s timed out after %s", ErrChannelUnreachable, op, topic, c.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrChannelUnreachable, op, topic, err)
	}
	return nil
}

// Publish broadcasts msg to the room without retaining it.
func (c *MQTTChannel) Publish(roomID string, msg models.LocationUpdate) error {
	payload, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode location update: %w", err)
	}

	topic := c.Topic(roomID)
	return c.wait(c.client.Publish(topic, c.qos, false, payload), "publish", topic)
}

// Subscribe registers handler for the room, replacing any earlier handler.
func (c *MQTTChannel) Subscribe(roomID string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribeLocked(roomID, handler)
}

// Resubscribe renews every held room with the broker. A clean-session
// reconnect drops broker-side subscriptions, so it runs after each reconnect.
func (c *MQTTChannel) Resubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	held := make(map[string]*subscription, len(c.subs))
	for room, sub := range c.subs {
		held[room] = sub
	}

	var errs []error
	for room, sub := range held {
		if err := c.subscribeLocked(room, sub.handler); err != nil {
			// Keep the room so the next reconnect tries again.
			sub.active.Store(true)
			c.subs[room] = sub
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *MQTTChannel) subscribeLocked(roomID string, handler Handler) error {
	if old, ok := c.subs[roomID]; ok {
		old.active.Store(false)
		delete(c.subs, roomID)
	}

	sub := &subscription{handler: handler}
	sub.active.Store(true)

	topic := c.Topic(roomID)
	token := c.client.Subscribe(topic, c.qos, func(_ pahomqtt.Client, m pahomqtt.Message) {
		if !sub.active.Load() {
			return
		}
		msg, err := Decode(m.Payload())
		if err != nil {
			c.logger.Debug().Err(err).Str("topic", m.Topic()).Msg("Dropping undecodable location update")
			return
		}
		sub.deliver(msg)
	})
	if err := c.wait(token, "subscribe", topic); err != nil {
		sub.active.Store(false)
		return err
	}

	c.subs[roomID] = sub
	return nil
}

// Unsubscribe drops the room. The local handler goes quiet immediately, even
// when the broker cannot be told.
func (c *MQTTChannel) Unsubscribe(roomID string) error {
	c.mu.Lock()
	sub, ok := c.subs[roomID]
	if ok {
		sub.active.Store(false)
		delete(c.subs, roomID)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}

	topic := c.Topic(roomID)
	return c.wait(c.client.Unsubscribe(topic), "unsubscribe", topic)
}

// Close unsubscribes from every room. The underlying client stays connected.
func (c *MQTTChannel) Close() error {
	c.mu.Lock()
	rooms := make([]string, 0, len(c.subs))
	for room := range c.subs {
		rooms = append(rooms, room)
	}
	c.mu.Unlock()

	var firstErr error
	for _, room := range rooms {
		if err := c.Unsubscribe(room); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
