package channel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/benmeehan/ride-relay/internal/models"
)

// MemoryBroker is an in-process room fan-out. Every participant gets its own
// MemoryChannel from Channel, and publishes reach all of them, the sender included.
type MemoryBroker struct {
	mu    sync.RWMutex
	rooms map[string]map[*MemoryChannel]*subscription
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{rooms: make(map[string]map[*MemoryChannel]*subscription)}
}

// Channel returns a new endpoint attached to the broker.
func (b *MemoryBroker) Channel() *MemoryChannel {
	c := &MemoryChannel{broker: b}
	c.reachable.Store(true)
	return c
}

// NewMemoryChannel returns an endpoint on a private broker. Useful for a single participant.
func NewMemoryChannel() *MemoryChannel {
	return NewMemoryBroker().Channel()
}

// MemoryChannel is one participant's endpoint on a MemoryBroker. Delivery is
// synchronous and runs on the publisher's goroutine.
type MemoryChannel struct {
	broker    *MemoryBroker
	reachable atomic.Bool
}

// SetReachable simulates losing and regaining connectivity. While unreachable
// the endpoint can neither send nor receive.
func (c *MemoryChannel) SetReachable(reachable bool) {
	c.reachable.Store(reachable)
}

func (c *MemoryChannel) check(op, roomID string) error {
	if !c.reachable.Load() {
		return fmt.Errorf("%w: %s %s", ErrChannelUnreachable, op, roomID)
	}
	return nil
}

// Publish encodes msg and delivers it to every endpoint subscribed to the room.
func (c *MemoryChannel) Publish(roomID string, msg models.LocationUpdate) error {
	if err := c.check("publish", roomID); err != nil {
		return err
	}

	// Round trip through the codec so peers see exactly what a remote transport would carry.
	payload, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("failed to encode location update: %w", err)
	}
	decoded, err := Decode(payload)
	if err != nil {
		return err
	}

	c.broker.mu.RLock()
	targets := make([]*subscription, 0, len(c.broker.rooms[roomID]))
	receivers := make([]*MemoryChannel, 0, len(c.broker.rooms[roomID]))
	for ep, sub := range c.broker.rooms[roomID] {
		receivers = append(receivers, ep)
		targets = append(targets, sub)
	}
	c.broker.mu.RUnlock()

	for i, sub := range targets {
		if receivers[i].reachable.Load() {
			sub.deliver(decoded)
		}
	}
	return nil
}

// Subscribe registers handler for the room, replacing any earlier handler of this endpoint.
func (c *MemoryChannel) Subscribe(roomID string, handler Handler) error {
	if err := c.check("subscribe", roomID); err != nil {
		return err
	}

	sub := &subscription{handler: handler}
	sub.active.Store(true)

	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	room, ok := c.broker.rooms[roomID]
	if !ok {
		room = make(map[*MemoryChannel]*subscription)
		c.broker.rooms[roomID] = room
	}
	if old, ok := room[c]; ok {
		old.active.Store(false)
	}
	room[c] = sub
	return nil
}

// Unsubscribe drops this endpoint's handler for the room.
func (c *MemoryChannel) Unsubscribe(roomID string) error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	room := c.broker.rooms[roomID]
	if sub, ok := room[c]; ok {
		sub.active.Store(false)
		delete(room, c)
	}
	if len(room) == 0 {
		delete(c.broker.rooms, roomID)
	}
	return nil
}

// Close drops every room this endpoint is subscribed to.
func (c *MemoryChannel) Close() error {
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	for roomID, room := range c.broker.rooms {
		if sub, ok := room[c]; ok {
			sub.active.Store(false)
			delete(room, c)
		}
		if len(room) == 0 {
			delete(c.broker.rooms, roomID)
		}
	}
	return nil
}
