// Package roster reads trip rosters from the record store. It never writes.
package roster

import (
	"context"
	"errors"
	"fmt"

	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/benmeehan/ride-relay/internal/relay"
)

var (
	ErrTripNotFound      = errors.New("trip not found")
	ErrTripNotInProgress = errors.New("trip is not in progress")
)

// Store looks up trips and their rosters.
type Store interface {
	// LoadSession returns the roster of an in-progress trip.
	LoadSession(ctx context.Context, tripID string) (relay.TripSession, error)
	TripStatus(ctx context.Context, tripID string) (models.TripStatus, error)
	Close()
}

func sessionFor(trip models.Trip) (relay.TripSession, error) {
	if trip.Status != models.TripInProgress {
		return relay.TripSession{}, fmt.Errorf("%w: trip %s is %s", ErrTripNotInProgress, trip.ID, trip.Status)
	}
	session := relay.SessionFromTrip(trip)
	if err := session.Validate(); err != nil {
		return relay.TripSession{}, err
	}
	return session, nil
}
