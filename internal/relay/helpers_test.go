package relay_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benmeehan/ride-relay/internal/relay"
	"github.com/benmeehan/ride-relay/pkg/location"
)

// scriptedProvider replays fixed results, then blocks until the request is canceled.
type scriptedProvider struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	loc location.Location
	err error
}

func newScriptedProvider(steps ...step) *scriptedProvider {
	return &scriptedProvider{steps: steps}
}

func (p *scriptedProvider) GetLocation(ctx context.Context, _ location.Options) (location.Location, error) {
	p.mu.Lock()
	if p.calls < len(p.steps) {
		s := p.steps[p.calls]
		p.calls++
		p.mu.Unlock()
		return s.loc, s.err
	}
	p.mu.Unlock()

	<-ctx.Done()
	return location.Location{}, ctx.Err()
}

func (p *scriptedProvider) Close() error { return nil }

// gatedProvider hands out a sample each time one is pushed to it.
type gatedProvider struct {
	samples chan location.Location
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{samples: make(chan location.Location, 8)}
}

func (p *gatedProvider) GetLocation(ctx context.Context, _ location.Options) (location.Location, error) {
	select {
	case loc := <-p.samples:
		return loc, nil
	case <-ctx.Done():
		return location.Location{}, ctx.Err()
	}
}

func (p *gatedProvider) Close() error { return nil }

// failingWakeLock refuses to be acquired and counts releases.
type failingWakeLock struct {
	mu       sync.Mutex
	released int
}

func (w *failingWakeLock) Acquire(context.Context) error { return errors.New("no inhibitor") }

func (w *failingWakeLock) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.released++
	return nil
}

func (w *failingWakeLock) Released() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.released
}

// recorder collects sampler callbacks.
type recorder struct {
	mu       sync.Mutex
	samples  []location.Location
	statuses []relay.SensorStatus
	errs     []error
}

func (r *recorder) onSample(loc location.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, loc)
}

func (r *recorder) onStatus(s relay.SensorStatus, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
	r.errs = append(r.errs, err)
}

func (r *recorder) timestamps() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := make([]int64, 0, len(r.samples))
	for _, s := range r.samples {
		ts = append(ts, s.Timestamp)
	}
	return ts
}

func (r *recorder) statusList() []relay.SensorStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]relay.SensorStatus(nil), r.statuses...)
}

func (r *recorder) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

func sampleAt(lat, lng float64, ts int64) location.Location {
	return location.Location{Latitude: lat, Longitude: lng, Timestamp: ts, Accuracy: location.Float(5)}
}

func freshSample(lat, lng float64, offset time.Duration) location.Location {
	return sampleAt(lat, lng, time.Now().Add(offset).UnixMilli())
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
