package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// FallbackProvider asks its providers in order of preference. A provider that
// reports ErrSensorUnsupported is skipped from then on; any other error is
// returned as is, so a temporarily silent GPS does not flip the source.
type FallbackProvider struct {
	mu        sync.Mutex
	providers []Provider
	current   int
}

// NewFallbackProvider creates a provider over providers, most preferred first.
func NewFallbackProvider(providers ...Provider) *FallbackProvider {
	return &FallbackProvider{providers: providers}
}

// GetLocation returns a fix from the most preferred provider that is supported.
func (f *FallbackProvider) GetLocation(ctx context.Context, opts Options) (Location, error) {
	for {
		p, idx := f.active()
		if p == nil {
			return Location{}, fmt.Errorf("%w: no usable location source", ErrSensorUnsupported)
		}

		loc, err := p.GetLocation(ctx, opts)
		if err == nil || !errors.Is(err, ErrSensorUnsupported) {
			return loc, err
		}
		f.skip(idx)
	}
}

func (f *FallbackProvider) active() (Provider, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current >= len(f.providers) {
		return nil, f.current
	}
	return f.providers[f.current], f.current
}

func (f *FallbackProvider) skip(idx int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current == idx {
		f.current++
	}
}

// Close closes every provider and returns the joined errors.
func (f *FallbackProvider) Close() error {
	var errs []error
	for _, p := range f.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
