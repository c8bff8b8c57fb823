package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benmeehan/ride-relay/pkg/location"
	"github.com/rs/zerolog"
)

// SensorStatus is what the tracking view shows for the local position source.
type SensorStatus int

const (
	SensorSearching SensorStatus = iota
	SensorActive
	SensorError
)

func (s SensorStatus) String() string {
	switch s {
	case SensorSearching:
		return "searching"
	case SensorActive:
		return "active"
	case SensorError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON frames.
func (s SensorStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SensorStatus) UnmarshalText(text []byte) error {
	for _, v := range []SensorStatus{SensorSearching, SensorActive, SensorError} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown sensor status %q", text)
}

var ErrSamplerStarted = errors.New("sampler has already been started")

// Sampler turns a location.Provider into a stream of validated samples.
// A Sampler runs once: after Stop, a new Sampler is needed to sample again.
type Sampler struct {
	provider     location.Provider
	opts         location.Options
	pollInterval time.Duration
	wakeLock     location.WakeLock
	logger       zerolog.Logger
	now          func() time.Time

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	active  atomic.Bool
}

// NewSampler creates a sampler. pollInterval is the pause between fix requests.
func NewSampler(provider location.Provider, opts location.Options, pollInterval time.Duration,
	wakeLock location.WakeLock, logger zerolog.Logger) *Sampler {
	if wakeLock == nil {
		wakeLock = location.NopWakeLock{}
	}
	return &Sampler{
		provider:     provider,
		opts:         opts,
		pollInterval: pollInterval,
		wakeLock:     wakeLock,
		logger:       logger,
		now:          time.Now,
	}
}

// Start begins sampling on its own goroutine. Callbacks run on that goroutine, in sensor order.
func (s *Sampler) Start(onSample func(location.Location), onStatus func(SensorStatus, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSamplerStarted
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.active.Store(true)

	go func() {
		defer close(s.done)
		s.run(ctx, onSample, onStatus)
	}()

	return nil
}

// Stop cancels sampling and waits for the sampling goroutine to exit.
// It is safe to call repeatedly. Callbacks must not call Stop themselves.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.started = true
		s.mu.Unlock()
		return
	}
	s.active.Store(false)
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

// Active reports whether the sampler is still producing samples.
func (s *Sampler) Active() bool {
	return s.active.Load()
}

func (s *Sampler) run(ctx context.Context, onSample func(location.Location), onStatus func(SensorStatus, error)) {
	if err := s.wakeLock.Acquire(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Wake lock unavailable, sampling without it")
	}
	defer func() {
		if err := s.wakeLock.Release(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to release wake lock")
		}
	}()

	if s.active.Load() {
		onStatus(SensorSearching, nil)
	}

	var last int64
	reportedActive := false

	for {
		requestStart := s.now()
		loc, err := s.fix(ctx)
		if ctx.Err() != nil || !s.active.Load() {
			return
		}

		if err != nil {
			if location.IsFatal(err) {
				s.logger.Error().Err(err).Msg("Position sampling stopped")
				s.active.Store(false)
				onStatus(SensorError, err)
				return
			}
			s.logger.Warn().Err(err).Msg("Transient position error")
		} else if s.accept(loc, requestStart, last) {
			last = loc.Timestamp
			if !reportedActive {
				reportedActive = true
				onStatus(SensorActive, nil)
			}
			onSample(loc)
		}

		if s.pollInterval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.pollInterval):
			}
		}
	}
}

func (s *Sampler) fix(ctx context.Context) (location.Location, error) {
	fixCtx := ctx
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		fixCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	loc, err := s.provider.GetLocation(fixCtx, s.opts)
	if err != nil && ctx.Err() == nil && !location.IsFatal(err) &&
		errors.Is(fixCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: no fix within %s", location.ErrPositionUnavailable, s.opts.Timeout)
	}
	return loc, err
}

// accept filters invalid, repeated and cached samples.
func (s *Sampler) accept(loc location.Location, requestStart time.Time, last int64) bool {
	if err := loc.Validate(); err != nil {
		s.logger.Warn().Err(err).Msg("Discarding invalid sample from sensor")
		return false
	}
	if loc.Timestamp <= last {
		return false
	}
	oldest := requestStart.UnixMilli() - s.opts.MaxSampleAge.Milliseconds()
	if loc.Timestamp < oldest {
		s.logger.Debug().
			Int64("timestamp", loc.Timestamp).
			Dur("max_sample_age", s.opts.MaxSampleAge).
			Msg("Ignoring cached sample")
		return false
	}
	return true
}
