package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/ride-relay/internal/constants"
	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// RedisChannel maps rooms onto Redis pub/sub channels named <room>:location_update.
type RedisChannel struct {
	client  *redis.Client
	timeout time.Duration
	logger  zerolog.Logger

	mu   sync.Mutex
	subs map[string]*redisSubscription
}

type redisSubscription struct {
	subscription
	pubsub *redis.PubSub
	done   chan struct{}
}

// RedisOptions holds the Redis connection settings.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// NewRedisChannel connects to Redis and verifies the connection with a PING.
func NewRedisChannel(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*RedisChannel, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis %s: %v", ErrChannelUnreachable, opts.Addr, err)
	}

	return &RedisChannel{
		client:  client,
		timeout: opts.Timeout,
		logger:  logger,
		subs:    make(map[string]*redisSubscription),
	}, nil
}

// ChannelName returns the Redis channel a room is carried on.
func (c *RedisChannel) ChannelName(roomID string) string {
	return roomID + ":" + constants.EventLocationUpdate
}

// Publish broadcasts msg to the room.
func (c *RedisChannel) Publish(roomID string, msg models.LocationUpdate) error {
	payload, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode location update: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	name := c.ChannelName(roomID)
	if err := c.client.Publish(ctx, name, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %v", ErrChannelUnreachable, name, err)
	}
	return nil
}

// Subscribe registers handler for the room, replacing any earlier handler.
func (c *RedisChannel) Subscribe(roomID string, handler Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.subs[roomID]; ok {
		c.drop(roomID, old)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	name := c.ChannelName(roomID)
	pubsub := c.client.Subscribe(ctx, name)
	// Wait for the subscription confirmation so a failure surfaces here.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("%w: subscribe %s: %v", ErrChannelUnreachable, name, err)
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}
	sub.handler = handler
	sub.active.Store(true)
	c.subs[roomID] = sub

	go c.consume(sub, pubsub.Channel())
	return nil
}

// consume runs until the pubsub is closed, which closes its message channel.
func (c *RedisChannel) consume(sub *redisSubscription, messages <-chan *redis.Message) {
	defer close(sub.done)
	for m := range messages {
		if !sub.active.Load() {
			return
		}
		msg, err := Decode([]byte(m.Payload))
		if err != nil {
			c.logger.Debug().Err(err).Str("channel", m.Channel).Msg("Dropping undecodable location update")
			continue
		}
		sub.deliver(msg)
	}
}

func (c *RedisChannel) drop(roomID string, sub *redisSubscription) error {
	sub.active.Store(false)
	delete(c.subs, roomID)
	err := sub.pubsub.Close()
	<-sub.done
	if err != nil {
		return fmt.Errorf("%w: unsubscribe %s: %v", ErrChannelUnreachable, c.ChannelName(roomID), err)
	}
	return nil
}

// Unsubscribe drops the room. Safe to call for rooms never subscribed.
func (c *RedisChannel) Unsubscribe(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[roomID]
	if !ok {
		return nil
	}
	return c.drop(roomID, sub)
}

// Close drops every room and closes the Redis client.
func (c *RedisChannel) Close() error {
	c.mu.Lock()
	for room, sub := range c.subs {
		if err := c.drop(room, sub); err != nil {
			c.logger.Warn().Err(err).Str("room", room).Msg("Failed to drop room subscription")
		}
	}
	c.mu.Unlock()

	return c.client.Close()
}
