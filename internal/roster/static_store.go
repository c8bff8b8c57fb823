package roster

import (
	"context"
	"fmt"
	"sync"

	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/benmeehan/ride-relay/internal/relay"
)

// StaticStore serves trips declared in configuration.
type StaticStore struct {
	mu    sync.RWMutex
	trips map[string]models.Trip
}

// NewStaticStore indexes trips by id. A later duplicate replaces an earlier one.
func NewStaticStore(trips []models.Trip) *StaticStore {
	s := &StaticStore{trips: make(map[string]models.Trip, len(trips))}
	for _, t := range trips {
		if t.Status == "" {
			t.Status = models.TripInProgress
		}
		s.trips[t.ID] = t
	}
	return s
}

func (s *StaticStore) trip(tripID string) (models.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trips[tripID]
	if !ok {
		return models.Trip{}, fmt.Errorf("%w: %s", ErrTripNotFound, tripID)
	}
	return t, nil
}

// LoadSession returns the roster of an in-progress trip.
func (s *StaticStore) LoadSession(_ context.Context, tripID string) (relay.TripSession, error) {
	t, err := s.trip(tripID)
	if err != nil {
		return relay.TripSession{}, err
	}
	return sessionFor(t)
}

// TripStatus returns the current status of a trip.
func (s *StaticStore) TripStatus(_ context.Context, tripID string) (models.TripStatus, error) {
	t, err := s.trip(tripID)
	if err != nil {
		return "", err
	}
	return t.Status, nil
}

// SetStatus changes the status of a trip, e.g. to mark it completed.
func (s *StaticStore) SetStatus(tripID string, status models.TripStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trips[tripID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTripNotFound, tripID)
	}
	t.Status = status
	s.trips[tripID] = t
	return nil
}

func (s *StaticStore) Close() {}
