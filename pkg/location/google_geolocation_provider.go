package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"
)

const defaultGeolocateTimeout = 10 * time.Second

// geolocator is the subset of the Maps client used for network positioning.
type geolocator interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// GoogleGeolocationProvider uses the Google Maps API to get location data
// from nearby WiFi access points and cell towers.
type GoogleGeolocationProvider struct {
	client geolocator // Maps API client for making geolocation requests
	radio  radioScanner
	now    func() time.Time
}

// NewGoogleGeolocationProvider creates a new GoogleGeolocationProvider instance.
func NewGoogleGeolocationProvider(apiKey string, modemIndex int) (*GoogleGeolocationProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: maps API key not configured", ErrSensorUnsupported)
	}

	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return &GoogleGeolocationProvider{
		client: c,
		radio:  newRadioScanner(modemIndex),
		now:    time.Now,
	}, nil
}

// GetLocation retrieves the device's location using Google Maps Geolocation API.
// Missing radio data is not fatal, the API then falls back to IP positioning.
func (g *GoogleGeolocationProvider) GetLocation(ctx context.Context, opts Options) (Location, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultGeolocateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &maps.GeolocationRequest{ConsiderIP: true}
	g.radio.Observe(ctx, req)

	resp, err := g.client.Geolocate(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return Location{}, ctx.Err()
		}
		return Location{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	}

	return Location{
		Latitude:  resp.Location.Lat,
		Longitude: resp.Location.Lng,
		Timestamp: g.now().UnixMilli(),
		Accuracy:  Float(resp.Accuracy),
	}, nil
}

// Close is a no-op, the Maps client holds no long-lived resources.
func (g *GoogleGeolocationProvider) Close() error {
	return nil
}
