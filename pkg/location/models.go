package location

import (
	"fmt"
	"math"
	"time"
)

// Location is a single timestamped position sample.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Timestamp int64    `json:"timestamp"`          // Capture time in unix milliseconds
	Accuracy  *float64 `json:"accuracy,omitempty"` // Radius in meters
	Heading   *float64 `json:"heading"`            // Degrees clockwise from north, nil when not moving
	Speed     *float64 `json:"speed"`              // Meters per second
}

// Time returns the capture time of the sample.
func (l Location) Time() time.Time {
	return time.UnixMilli(l.Timestamp)
}

// Validate rejects samples with coordinates or motion fields outside their domain.
func (l Location) Validate() error {
	if !finite(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinates, l.Latitude)
	}
	if !finite(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinates, l.Longitude)
	}
	if l.Heading != nil && (!finite(*l.Heading) || *l.Heading < 0 || *l.Heading > 360) {
		return fmt.Errorf("%w: heading %v out of range", ErrInvalidCoordinates, *l.Heading)
	}
	if l.Speed != nil && (!finite(*l.Speed) || *l.Speed < 0) {
		return fmt.Errorf("%w: negative speed %v", ErrInvalidCoordinates, *l.Speed)
	}
	if l.Accuracy != nil && (!finite(*l.Accuracy) || *l.Accuracy < 0) {
		return fmt.Errorf("%w: negative accuracy %v", ErrInvalidCoordinates, *l.Accuracy)
	}
	return nil
}

// Float returns a pointer to v, for the optional sample fields.
func Float(v float64) *float64 {
	return &v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
