package relay

import (
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownPeer = errors.New("publisher is not part of the trip")
	// ErrStaleSample and ErrOwnUpdate are expected filtering outcomes, not failures.
	ErrStaleSample = errors.New("sample is not newer than the held one")
	ErrOwnUpdate   = errors.New("update carries the local participant id")
)

// Reconciler merges inbound broadcasts into the PeerStore of one session.
type Reconciler struct {
	session  TripSession
	localID  string
	store    *PeerStore
	logger   zerolog.Logger
	now      func() time.Time
	onChange func(PeerState)
}

// NewReconciler creates a reconciler for the device of localID. Inbound updates
// under localID are never merged: only the local sampler writes that position.
// onChange is called after every accepted merge and may be nil.
func NewReconciler(session TripSession, localID string, store *PeerStore, onChange func(PeerState), logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		session:  session,
		localID:  localID,
		store:    store,
		logger:   logger,
		now:      time.Now,
		onChange: onChange,
	}
}

// Apply validates msg, resolves the publisher's role and merges the sample.
// The role carried in the message is ignored; the roster decides.
func (r *Reconciler) Apply(msg models.LocationUpdate) (PeerState, error) {
	if r.localID != "" && msg.ParticipantID == r.localID {
		return PeerState{}, fmt.Errorf("%w: %s", ErrOwnUpdate, msg.ParticipantID)
	}
	if err := msg.Location.Validate(); err != nil {
		return PeerState{}, fmt.Errorf("update from %s: %w", msg.ParticipantID, err)
	}

	role, ok := r.session.RoleOf(msg.ParticipantID)
	if !ok {
		return PeerState{}, fmt.Errorf("%w: %q in trip %s", ErrUnknownPeer, msg.ParticipantID, r.session.TripID)
	}

	state, accepted := r.store.Merge(msg.ParticipantID, role, msg.Location, r.now())
	if !accepted {
		return state, fmt.Errorf("%w: %s at %d", ErrStaleSample, msg.ParticipantID, msg.Location.Timestamp)
	}

	if r.onChange != nil {
		r.onChange(state)
	}
	return state, nil
}

// Handle is Apply for channel delivery: rejected updates are logged and dropped.
func (r *Reconciler) Handle(msg models.LocationUpdate) {
	if _, err := r.Apply(msg); err != nil {
		ev := r.logger.Debug()
		if !errors.Is(err, ErrStaleSample) && !errors.Is(err, ErrUnknownPeer) && !errors.Is(err, ErrOwnUpdate) {
			ev = r.logger.Warn()
		}
		ev.Err(err).Str("participant_id", msg.ParticipantID).Msg("Dropping location update")
	}
}
