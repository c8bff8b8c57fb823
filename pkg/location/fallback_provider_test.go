package location_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/benmeehan/ride-relay/internal/mocks"
	"github.com/benmeehan/ride-relay/pkg/location"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFallbackProvider_SkipsUnsupported(t *testing.T) {
	gps := new(mocks.MockProvider)
	network := new(mocks.MockProvider)
	fix := location.Location{Latitude: 9.93, Longitude: 76.26, Timestamp: 1}

	gps.On("GetLocation", mock.Anything, mock.Anything).
		Return(location.Location{}, fmt.Errorf("%w: no device", location.ErrSensorUnsupported)).Once()
	network.On("GetLocation", mock.Anything, mock.Anything).Return(fix, nil).Twice()

	p := location.NewFallbackProvider(gps, network)

	loc, err := p.GetLocation(context.Background(), location.Options{})
	require.NoError(t, err)
	assert.Equal(t, fix, loc)

	// The unsupported source is not asked again.
	_, err = p.GetLocation(context.Background(), location.Options{})
	require.NoError(t, err)

	gps.AssertExpectations(t)
	network.AssertExpectations(t)
}

func TestFallbackProvider_KeepsSourceOnTransientError(t *testing.T) {
	gps := new(mocks.MockProvider)
	network := new(mocks.MockProvider)

	gps.On("GetLocation", mock.Anything, mock.Anything).
		Return(location.Location{}, location.ErrPositionUnavailable).Once()

	p := location.NewFallbackProvider(gps, network)

	_, err := p.GetLocation(context.Background(), location.Options{})
	assert.ErrorIs(t, err, location.ErrPositionUnavailable)
	network.AssertNotCalled(t, "GetLocation", mock.Anything, mock.Anything)
}

func TestFallbackProvider_NoSourceLeft(t *testing.T) {
	_, err := location.NewFallbackProvider().GetLocation(context.Background(), location.Options{})
	assert.ErrorIs(t, err, location.ErrSensorUnsupported)

	gps := new(mocks.MockProvider)
	gps.On("GetLocation", mock.Anything, mock.Anything).Return(location.Location{}, location.ErrSensorUnsupported)

	_, err = location.NewFallbackProvider(gps).GetLocation(context.Background(), location.Options{})
	assert.ErrorIs(t, err, location.ErrSensorUnsupported)
}

func TestFallbackProvider_CloseJoinsErrors(t *testing.T) {
	a := new(mocks.MockProvider)
	b := new(mocks.MockProvider)
	closeErr := errors.New("port busy")
	a.On("Close").Return(closeErr)
	b.On("Close").Return(nil)

	err := location.NewFallbackProvider(a, b).Close()
	assert.ErrorIs(t, err, closeErr)
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}
