package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benmeehan/ride-relay/internal/relay"
	"github.com/benmeehan/ride-relay/internal/roster"
	"github.com/rs/zerolog"
)

const rosterQueryTimeout = 10 * time.Second

// RelayService tracks one trip for the lifetime of the process. It enters
// tracking on start and leaves it when stopped or when the trip ends.
type RelayService struct {
	tripID         string
	completionPoll time.Duration

	store   roster.Store
	tracker *relay.Tracker
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// NewRelayService creates a RelayService for tripID.
func NewRelayService(tripID string, completionPoll time.Duration, store roster.Store,
	tracker *relay.Tracker, logger zerolog.Logger) *RelayService {
	return &RelayService{
		tripID:         tripID,
		completionPoll: completionPoll,
		store:          store,
		tracker:        tracker,
		logger:         logger.With().Str("service", "relay").Str("trip_id", tripID).Logger(),
		done:           make(chan struct{}),
	}
}

// Start loads the trip roster and enters tracking.
func (r *RelayService) Start() error {
	if r.ctx != nil {
		r.logger.Warn().Msg("RelayService is already running")
		return errors.New("relay service is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())

	loadCtx, loadCancel := context.WithTimeout(ctx, rosterQueryTimeout)
	session, err := r.store.LoadSession(loadCtx, r.tripID)
	loadCancel()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to load trip %s: %w", r.tripID, err)
	}

	if err := r.tracker.Enter(session); err != nil {
		cancel()
		return fmt.Errorf("failed to start tracking trip %s: %w", r.tripID, err)
	}

	r.ctx, r.cancel = ctx, cancel
	r.done = make(chan struct{})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.watchTrip()
	}()

	r.logger.Info().
		Str("driver_id", session.DriverID).
		Int("passengers", len(session.PassengerIDs)).
		Msg("RelayService started successfully")
	return nil
}

// Stop leaves tracking and stops watching the trip.
func (r *RelayService) Stop() error {
	if r.ctx == nil {
		r.logger.Warn().Msg("RelayService is not running")
		return errors.New("relay service is not running")
	}

	r.cancel()
	r.wg.Wait()
	r.tracker.Exit()

	r.ctx = nil
	r.cancel = nil

	r.logger.Info().Msg("RelayService stopped successfully")
	return nil
}

// Done is closed once the trip has ended and tracking was left.
func (r *RelayService) Done() <-chan struct{} {
	return r.done
}

// watchTrip polls the trip status and leaves tracking once it is completed or cancelled.
func (r *RelayService) watchTrip() {
	ticker := time.NewTicker(r.completionPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(r.ctx, rosterQueryTimeout)
			status, err := r.store.TripStatus(ctx, r.tripID)
			cancel()
			if err != nil {
				if r.ctx.Err() == nil {
					r.logger.Warn().Err(err).Msg("Failed to check trip status")
				}
				continue
			}
			if !status.Ended() {
				continue
			}

			r.logger.Info().Str("status", string(status)).Msg("Trip ended, leaving tracking")
			r.tracker.Exit()
			close(r.done)
			return

		case <-r.ctx.Done():
			r.logger.Debug().Msg("Trip watcher stopping")
			return
		}
	}
}
