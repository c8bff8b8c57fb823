package relay

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benmeehan/ride-relay/internal/channel"
	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/benmeehan/ride-relay/pkg/location"
	"github.com/rs/zerolog"
)

// State of the tracking lifecycle.
type State int

const (
	StateInactive State = iota
	StateTracking
)

func (s State) String() string {
	if s == StateTracking {
		return "tracking"
	}
	return "inactive"
}

// MarshalText renders the state by name in JSON frames.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "tracking":
		*s = StateTracking
	case "inactive":
		*s = StateInactive
	default:
		return fmt.Errorf("unknown tracking state %q", text)
	}
	return nil
}

var (
	ErrAlreadyTracking = errors.New("already tracking a trip")
	ErrNotTracking     = errors.New("not tracking a trip")
	ErrNotParticipant  = errors.New("local participant is not part of the trip")
)

// Config tunes a Tracker.
type Config struct {
	Options         location.Options
	PollInterval    time.Duration
	PublishQueue    int
	AssumedSpeedKmh float64
	StaleAfter      time.Duration // 0 disables staleness
}

// PeerView is a peer as the map shows it.
type PeerView struct {
	PeerState
	Estimate Estimate `json:"estimate"`
	Stale    bool     `json:"stale"`
}

// View is a plain-data snapshot of the tracking state.
type View struct {
	State         State              `json:"state"`
	TripID        string             `json:"tripId,omitempty"`
	ParticipantID string             `json:"participantId"`
	Role          Role               `json:"role,omitempty"`
	Self          *location.Location `json:"self,omitempty"`
	Peers         []PeerView         `json:"peers"`
	Sensor        SensorStatus       `json:"sensor"`
	SensorError   string             `json:"sensorError,omitempty"`
	Channel       ChannelStatus      `json:"channel"`
	GeneratedAt   time.Time          `json:"generatedAt"`
}

// Tracker runs the tracking lifecycle for the local participant: it samples,
// publishes and reconciles for one trip at a time.
type Tracker struct {
	provider      location.Provider
	wakeLock      location.WakeLock
	channel       channel.Channel
	participantID string
	cfg           Config
	estimator     Estimator
	logger        zerolog.Logger
	now           func() time.Time

	// lifeMu serializes Enter, Exit and RetrySensor. Callbacks never take it.
	lifeMu sync.Mutex

	mu  sync.RWMutex
	run *trackingRun

	observersMu sync.RWMutex
	observers   []func(View)
}

// trackingRun is everything owned by one Enter. Callbacks of a run check
// active first, so a torn-down run never mutates state.
type trackingRun struct {
	session    TripSession
	role       Role
	store      *PeerStore
	reconciler *Reconciler
	publisher  *Publisher
	active     atomic.Bool
	subscribed atomic.Bool

	mu        sync.Mutex
	sampler   *Sampler
	sensor    SensorStatus
	sensorErr error
	self      *location.Location // written only by the local sampler
}

func (r *trackingRun) deliver(msg models.LocationUpdate) {
	if !r.active.Load() {
		return
	}
	r.reconciler.Handle(msg)
}

func (r *trackingRun) setSensor(s SensorStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sensor, r.sensorErr = s, err
}

// mergeSelf keeps loc when it is strictly newer than the held local sample.
func (r *trackingRun) mergeSelf(loc location.Location) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.self != nil && loc.Timestamp <= r.self.Timestamp {
		return false
	}
	r.self = &loc
	return true
}

func (r *trackingRun) currentSelf() *location.Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self
}

func (r *trackingRun) currentSampler() *Sampler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sampler
}

// NewTracker creates an inactive tracker for participantID.
func NewTracker(provider location.Provider, wakeLock location.WakeLock, ch channel.Channel,
	participantID string, cfg Config, logger zerolog.Logger) *Tracker {
	return &Tracker{
		provider:      provider,
		wakeLock:      wakeLock,
		channel:       ch,
		participantID: participantID,
		cfg:           cfg,
		estimator:     NewEstimator(cfg.AssumedSpeedKmh),
		logger:        logger,
		now:           time.Now,
	}
}

// AddObserver registers fn to receive a View after every visible change.
// fn may be called from several goroutines and must not call Enter or Exit.
func (t *Tracker) AddObserver(fn func(View)) {
	t.observersMu.Lock()
	defer t.observersMu.Unlock()
	t.observers = append(t.observers, fn)
}

func (t *Tracker) notify() {
	t.observersMu.RLock()
	observers := t.observers
	t.observersMu.RUnlock()

	if len(observers) == 0 {
		return
	}
	v := t.View()
	for _, fn := range observers {
		fn(v)
	}
}

func (t *Tracker) current() *trackingRun {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.run
}

// State reports whether a trip is being tracked.
func (t *Tracker) State() State {
	if t.current() == nil {
		return StateInactive
	}
	return StateTracking
}

// Enter starts tracking session. The room subscription and the sampler are
// both started; failing to subscribe only marks the channel unreachable.
func (t *Tracker) Enter(session TripSession) error {
	if err := session.Validate(); err != nil {
		return err
	}
	role, ok := session.RoleOf(t.participantID)
	if !ok {
		return fmt.Errorf("%w: %s in trip %s", ErrNotParticipant, t.participantID, session.TripID)
	}

	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	if t.current() != nil {
		return ErrAlreadyTracking
	}

	run := &trackingRun{session: session, role: role, store: NewPeerStore()}
	run.active.Store(true)
	for _, id := range session.Participants() {
		if id == t.participantID {
			continue
		}
		r, _ := session.RoleOf(id)
		run.store.Seed(id, r)
	}
	run.reconciler = NewReconciler(session, t.participantID, run.store, func(PeerState) {
		if run.active.Load() {
			t.notify()
		}
	}, t.logger)
	run.publisher = NewPublisher(t.channel, session.RoomID(), t.participantID, role, t.cfg.PublishQueue,
		func(status ChannelStatus) {
			if !run.active.Load() {
				return
			}
			if status == ChannelConnected && !run.subscribed.Load() {
				go t.resubscribe(run)
			}
			t.notify()
		}, t.logger)

	t.mu.Lock()
	t.run = run
	t.mu.Unlock()

	logger := t.logger.With().Str("trip_id", session.TripID).Str("role", string(role)).Logger()

	if err := t.channel.Subscribe(session.RoomID(), run.deliver); err != nil {
		logger.Warn().Err(err).Str("room", session.RoomID()).Msg("Failed to subscribe to trip room")
		run.publisher.setStatus(ChannelUnreachable)
	} else {
		run.subscribed.Store(true)
		run.publisher.setStatus(ChannelConnected)
	}

	t.startSampler(run)

	logger.Info().Str("room", session.RoomID()).Msg("Tracking started")
	t.notify()
	return nil
}

// resubscribe retries a room subscription that failed on Enter, once publishing works again.
func (t *Tracker) resubscribe(run *trackingRun) {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	if !run.active.Load() || run.subscribed.Load() {
		return
	}
	room := run.session.RoomID()
	if err := t.channel.Subscribe(room, run.deliver); err != nil {
		t.logger.Warn().Err(err).Str("room", room).Msg("Failed to subscribe to trip room")
		return
	}
	run.subscribed.Store(true)
	t.logger.Info().Str("room", room).Msg("Subscribed to trip room after channel recovered")
}

func (t *Tracker) startSampler(run *trackingRun) {
	sampler := NewSampler(t.provider, t.cfg.Options, t.cfg.PollInterval, t.wakeLock, t.logger)

	run.mu.Lock()
	run.sampler = sampler
	run.sensor, run.sensorErr = SensorSearching, nil
	run.mu.Unlock()

	err := sampler.Start(
		func(loc location.Location) {
			if !run.active.Load() {
				return
			}
			if !run.mergeSelf(loc) {
				t.logger.Debug().Int64("timestamp", loc.Timestamp).Msg("Local sample is not newer than the held one, skipping")
				return
			}
			run.publisher.Publish(loc)
			t.notify()
		},
		func(status SensorStatus, err error) {
			if !run.active.Load() {
				return
			}
			run.setSensor(status, err)
			t.notify()
		},
	)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to start sampler")
		run.setSensor(SensorError, err)
	}
}

// Exit stops tracking. It is safe to call when inactive and from several goroutines at once.
func (t *Tracker) Exit() {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	t.mu.Lock()
	run := t.run
	t.run = nil
	t.mu.Unlock()

	if run == nil {
		return
	}
	run.active.Store(false)

	if sampler := run.currentSampler(); sampler != nil {
		sampler.Stop()
	}
	if err := t.channel.Unsubscribe(run.session.RoomID()); err != nil {
		t.logger.Warn().Err(err).Str("room", run.session.RoomID()).Msg("Failed to unsubscribe from trip room")
	}
	run.publisher.Close()

	t.logger.Info().Str("trip_id", run.session.TripID).Msg("Tracking stopped")
	t.notify()
}

// RetrySensor restarts sampling after a sensor error. It is a no-op while the sampler is running.
func (t *Tracker) RetrySensor() error {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	run := t.current()
	if run == nil {
		return ErrNotTracking
	}

	old := run.currentSampler()
	if old != nil && old.Active() {
		return nil
	}
	if old != nil {
		old.Stop()
	}

	t.logger.Info().Str("trip_id", run.session.TripID).Msg("Retrying position sensor")
	t.startSampler(run)
	t.notify()
	return nil
}

// View returns a snapshot of the current state.
func (t *Tracker) View() View {
	now := t.now()
	v := View{
		State:         StateInactive,
		ParticipantID: t.participantID,
		Peers:         []PeerView{},
		GeneratedAt:   now,
	}

	run := t.current()
	if run == nil {
		return v
	}

	v.State = StateTracking
	v.TripID = run.session.TripID
	v.Role = run.role
	v.Channel = run.publisher.Status()

	run.mu.Lock()
	v.Sensor = run.sensor
	if run.sensorErr != nil {
		v.SensorError = run.sensorErr.Error()
	}
	run.mu.Unlock()

	v.Self = run.currentSelf()

	for _, peer := range run.store.Snapshot() {
		v.Peers = append(v.Peers, PeerView{
			PeerState: peer,
			Estimate:  t.estimator.Estimate(v.Self, peer.Location),
			Stale:     t.stale(peer, now),
		})
	}
	return v
}

func (t *Tracker) stale(peer PeerState, now time.Time) bool {
	return t.cfg.StaleAfter > 0 && peer.Known() && now.Sub(peer.UpdatedAt) > t.cfg.StaleAfter
}
