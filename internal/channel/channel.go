// Package channel carries LocationUpdate broadcasts between the participants of a trip.
//
// Rooms are keyed by trip id. Broadcasts are neither authenticated nor signed:
// anyone able to subscribe to a room can also publish into it.
package channel

import (
	"errors"

	"github.com/benmeehan/ride-relay/internal/constants"
	"github.com/benmeehan/ride-relay/internal/models"
)

// ErrChannelUnreachable wraps every transport failure. It is never fatal to sampling.
var ErrChannelUnreachable = errors.New("channel unreachable")

// Handler receives decoded updates for a room.
type Handler func(msg models.LocationUpdate)

// Channel is a best-effort room-scoped broadcast primitive.
type Channel interface {
	Publish(roomID string, msg models.LocationUpdate) error
	Subscribe(roomID string, handler Handler) error
	// Unsubscribe is idempotent. No handler call starts after it returns.
	Unsubscribe(roomID string) error
	Close() error
}

// RoomID returns the broadcast room for a trip.
func RoomID(tripID string) string {
	return constants.RoomPrefix + tripID
}
