package location

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrSensorUnsupported   = errors.New("location sensor unsupported")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
)

// Options tunes how a provider obtains a fix.
type Options struct {
	HighAccuracy bool          // Prefer satellite positioning over network positioning
	MaxSampleAge time.Duration // Oldest acceptable cached sample, zero forces a fresh fix
	Timeout      time.Duration // Abort a pending fix attempt after this long
}

// Provider interface defines the methods for location providers
type Provider interface {
	GetLocation(ctx context.Context, opts Options) (Location, error)
	Close() error
}

// IsFatal reports whether err ends a sampling run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrPositionUnavailable) ||
		errors.Is(err, ErrSensorUnsupported)
}
