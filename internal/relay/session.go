package relay

import (
	"errors"
	"fmt"
	"slices"

	"github.com/benmeehan/ride-relay/internal/channel"
	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/benmeehan/ride-relay/internal/utils"
)

// Role tags a participant within a trip.
type Role string

const (
	RoleDriver    Role = "driver"
	RolePassenger Role = "passenger"
)

var ErrInvalidSession = errors.New("invalid trip session")

// TripSession is the roster of one in-progress trip.
type TripSession struct {
	TripID       string   `json:"tripId"`
	DriverID     string   `json:"driverId"`
	PassengerIDs []string `json:"passengerIds"`
}

// SessionFromTrip builds the session for a trip record.
func SessionFromTrip(trip models.Trip) TripSession {
	return TripSession{
		TripID:       trip.ID,
		DriverID:     trip.DriverID,
		PassengerIDs: append([]string(nil), trip.PassengerIDs...),
	}
}

// Validate checks that the roster is usable: ids are present and nobody appears twice.
func (s TripSession) Validate() error {
	if s.TripID == "" {
		return fmt.Errorf("%w: missing trip id", ErrInvalidSession)
	}
	if s.DriverID == "" {
		return fmt.Errorf("%w: trip %s has no driver", ErrInvalidSession, s.TripID)
	}
	for _, id := range s.PassengerIDs {
		if id == "" {
			return fmt.Errorf("%w: trip %s has an empty passenger id", ErrInvalidSession, s.TripID)
		}
		if id == s.DriverID {
			return fmt.Errorf("%w: %s is both driver and passenger", ErrInvalidSession, id)
		}
	}
	if dup, ok := utils.FirstDuplicate(s.PassengerIDs); ok {
		return fmt.Errorf("%w: trip %s lists passenger %s twice", ErrInvalidSession, s.TripID, dup)
	}
	return nil
}

// RoleOf returns the role of a participant, or false if they are not on the roster.
func (s TripSession) RoleOf(participantID string) (Role, bool) {
	if participantID == "" {
		return "", false
	}
	if participantID == s.DriverID {
		return RoleDriver, true
	}
	if slices.Contains(s.PassengerIDs, participantID) {
		return RolePassenger, true
	}
	return "", false
}

// Participants lists the driver first, then passengers in roster order.
func (s TripSession) Participants() []string {
	ids := make([]string, 0, len(s.PassengerIDs)+1)
	ids = append(ids, s.DriverID)
	return append(ids, s.PassengerIDs...)
}

// RoomID is the broadcast room of the trip.
func (s TripSession) RoomID() string {
	return channel.RoomID(s.TripID)
}
