package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SimulatedProvider animates a device along a fixed route for demos and tests.
// Positions are linearly interpolated between waypoints at a constant speed;
// once the end of the route is reached the device stays parked there.
type SimulatedProvider struct {
	route    []Location
	speed    float64 // meters per second
	accuracy float64
	now      func() time.Time

	mu      sync.Mutex
	started time.Time
	closed  bool
}

// NewSimulatedProvider creates a provider that drives along route at speed m/s.
func NewSimulatedProvider(route []Location, speed float64, now func() time.Time) (*SimulatedProvider, error) {
	if len(route) == 0 {
		return nil, fmt.Errorf("%w: simulated route is empty", ErrSensorUnsupported)
	}
	for i, p := range route {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("waypoint %d: %w", i, err)
		}
	}
	if speed <= 0 {
		return nil, errors.New("simulated speed must be positive")
	}
	if now == nil {
		now = time.Now
	}

	return &SimulatedProvider{
		route:    route,
		speed:    speed,
		accuracy: 5,
		now:      now,
	}, nil
}

// GetLocation returns the interpolated position for the elapsed time since the first call.
func (s *SimulatedProvider) GetLocation(ctx context.Context, _ Options) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Location{}, fmt.Errorf("%w: provider closed", ErrSensorUnsupported)
	}

	now := s.now()
	if s.started.IsZero() {
		s.started = now
	}
	travelled := now.Sub(s.started).Seconds() * s.speed

	loc := s.positionAt(travelled)
	loc.Timestamp = now.UnixMilli()
	loc.Accuracy = Float(s.accuracy)
	return loc, nil
}

// Close stops the simulation.
func (s *SimulatedProvider) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SimulatedProvider) positionAt(travelled float64) Location {
	for i := 0; i < len(s.route)-1; i++ {
		a, b := s.route[i], s.route[i+1]
		leg := Distance(a, b)
		if leg == 0 {
			continue
		}
		if travelled <= leg {
			loc := Interpolate(a, b, travelled/leg)
			loc.Heading = Float(Bearing(a, b))
			loc.Speed = Float(s.speed)
			return loc
		}
		travelled -= leg
	}

	last := s.route[len(s.route)-1]
	return Location{
		Latitude:  last.Latitude,
		Longitude: last.Longitude,
		Speed:     Float(0),
	}
}
