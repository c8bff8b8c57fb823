package relay_test

import (
	"testing"
	"time"

	"github.com/benmeehan/ride-relay/internal/relay"
	"github.com/benmeehan/ride-relay/pkg/location"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampler_DeliversInSensorOrder(t *testing.T) {
	base := time.Now().UnixMilli()
	provider := newScriptedProvider(
		step{loc: sampleAt(9.93, 76.26, base+1)},
		step{loc: sampleAt(9.94, 76.27, base+2)},
		step{loc: sampleAt(9.95, 76.28, base+3)},
	)
	s := relay.NewSampler(provider, location.Options{MaxSampleAge: time.Minute}, 0, nil, zerolog.Nop())

	rec := &recorder{}
	require.NoError(t, s.Start(rec.onSample, rec.onStatus))
	defer s.Stop()

	require.Eventually(t, func() bool { return len(rec.timestamps()) == 3 }, waitFor, tick)
	assert.Equal(t, []int64{base + 1, base + 2, base + 3}, rec.timestamps())
	assert.Equal(t, []relay.SensorStatus{relay.SensorSearching, relay.SensorActive}, rec.statusList())
	assert.True(t, s.Active())
}

func TestSampler_FiltersInvalidRepeatedAndCachedSamples(t *testing.T) {
	base := time.Now().UnixMilli()
	provider := newScriptedProvider(
		step{loc: sampleAt(95, 76.26, base+1)},                        // invalid
		step{loc: sampleAt(9.93, 76.26, base-time.Hour.Milliseconds())}, // cached
		step{loc: sampleAt(9.93, 76.26, base+2)},
		step{loc: sampleAt(9.93, 76.26, base+2)}, // repeated
		step{loc: sampleAt(9.93, 76.26, base+1)}, // older
		step{loc: sampleAt(9.94, 76.27, base+5)},
	)
	s := relay.NewSampler(provider, location.Options{MaxSampleAge: time.Minute}, 0, nil, zerolog.Nop())

	rec := &recorder{}
	require.NoError(t, s.Start(rec.onSample, rec.onStatus))
	defer s.Stop()

	require.Eventually(t, func() bool { return len(rec.timestamps()) == 2 }, waitFor, tick)
	assert.Equal(t, []int64{base + 2, base + 5}, rec.timestamps())
}

func TestSampler_FatalErrorStopsSampling(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"permission denied", location.ErrPermissionDenied},
		{"unsupported", location.ErrSensorUnsupported},
		{"unavailable", location.ErrPositionUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newScriptedProvider(
				step{err: tt.err},
				step{loc: freshSample(9.93, 76.26, time.Second)},
			)
			s := relay.NewSampler(provider, location.Options{}, 0, nil, zerolog.Nop())

			rec := &recorder{}
			require.NoError(t, s.Start(rec.onSample, rec.onStatus))
			defer s.Stop()

			require.Eventually(t, func() bool { return !s.Active() }, waitFor, tick)
			assert.Equal(t, []relay.SensorStatus{relay.SensorSearching, relay.SensorError}, rec.statusList())
			assert.ErrorIs(t, rec.lastErr(), tt.err)
			assert.Empty(t, rec.timestamps())
		})
	}
}

func TestSampler_TransientErrorKeepsSampling(t *testing.T) {
	provider := newScriptedProvider(
		step{err: assert.AnError},
		step{loc: freshSample(9.93, 76.26, time.Second)},
	)
	s := relay.NewSampler(provider, location.Options{}, 0, nil, zerolog.Nop())

	rec := &recorder{}
	require.NoError(t, s.Start(rec.onSample, rec.onStatus))
	defer s.Stop()

	require.Eventually(t, func() bool { return len(rec.timestamps()) == 1 }, waitFor, tick)
	assert.True(t, s.Active())
}

func TestSampler_TimeoutSurfacesPositionUnavailable(t *testing.T) {
	s := relay.NewSampler(newScriptedProvider(), location.Options{Timeout: 20 * time.Millisecond}, 0, nil, zerolog.Nop())

	rec := &recorder{}
	require.NoError(t, s.Start(rec.onSample, rec.onStatus))
	defer s.Stop()

	require.Eventually(t, func() bool { return !s.Active() }, waitFor, tick)
	assert.ErrorIs(t, rec.lastErr(), location.ErrPositionUnavailable)
	assert.Equal(t, []relay.SensorStatus{relay.SensorSearching, relay.SensorError}, rec.statusList())
}

func TestSampler_StopIsIdempotentAndFinal(t *testing.T) {
	provider := newGatedProvider()
	s := relay.NewSampler(provider, location.Options{}, 0, nil, zerolog.Nop())

	rec := &recorder{}
	require.NoError(t, s.Start(rec.onSample, rec.onStatus))

	provider.samples <- freshSample(9.93, 76.26, time.Second)
	require.Eventually(t, func() bool { return len(rec.timestamps()) == 1 }, waitFor, tick)

	s.Stop()
	s.Stop()
	assert.False(t, s.Active())

	provider.samples <- freshSample(9.94, 76.27, 2*time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.timestamps(), 1)

	assert.ErrorIs(t, s.Start(rec.onSample, rec.onStatus), relay.ErrSamplerStarted)
}

func TestSampler_StopBeforeStart(t *testing.T) {
	s := relay.NewSampler(newGatedProvider(), location.Options{}, 0, nil, zerolog.Nop())

	s.Stop()

	rec := &recorder{}
	assert.ErrorIs(t, s.Start(rec.onSample, rec.onStatus), relay.ErrSamplerStarted)
	assert.False(t, s.Active())
}

func TestSampler_WakeLockFailureDoesNotBlockSampling(t *testing.T) {
	wl := &failingWakeLock{}
	provider := newScriptedProvider(step{loc: freshSample(9.93, 76.26, time.Second)})
	s := relay.NewSampler(provider, location.Options{}, 0, wl, zerolog.Nop())

	rec := &recorder{}
	require.NoError(t, s.Start(rec.onSample, rec.onStatus))

	require.Eventually(t, func() bool { return len(rec.timestamps()) == 1 }, waitFor, tick)
	s.Stop()
	assert.Equal(t, 1, wl.Released())
}

func TestSensorStatus_String(t *testing.T) {
	assert.Equal(t, "searching", relay.SensorSearching.String())
	assert.Equal(t, "active", relay.SensorActive.String())
	assert.Equal(t, "error", relay.SensorError.String())
}

func TestStatuses_TextRoundTrip(t *testing.T) {
	for _, s := range []relay.SensorStatus{relay.SensorSearching, relay.SensorActive, relay.SensorError} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back relay.SensorStatus
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	for _, s := range []relay.ChannelStatus{relay.ChannelPending, relay.ChannelConnected, relay.ChannelUnreachable} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back relay.ChannelStatus
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	var st relay.State
	require.NoError(t, st.UnmarshalText([]byte("tracking")))
	assert.Equal(t, relay.StateTracking, st)
	assert.Error(t, st.UnmarshalText([]byte("paused")))
}
