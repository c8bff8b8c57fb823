package location

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"
)

const (
	rmcValid   = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	rmcVoid    = "$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*7D"
	rmcStill   = "$GPRMC,081836,A,3751.65,S,14507.36,E,000.0,360.0,130998,011.3,E*62"
	ggaValid   = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	ggaNoFix   = "$GPGGA,123519,4807.038,N,01131.000,E,0,08,0.9,545.4,M,46.9,M,,*46"
	badChecksum = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*00"
)

var fixedNow = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func newDecoder() *nmeaDecoder {
	return &nmeaDecoder{now: func() time.Time { return fixedNow }}
}

func TestNMEADecoder_RMC(t *testing.T) {
	loc, ok := newDecoder().Decode(rmcValid)
	require.True(t, ok)

	assert.InDelta(t, 48.1173, loc.Latitude, 1e-4)
	assert.InDelta(t, 11.516667, loc.Longitude, 1e-4)
	require.NotNil(t, loc.Speed)
	assert.InDelta(t, 22.4*knotsToMetersPerSecond, *loc.Speed, 1e-9)
	require.NotNil(t, loc.Heading)
	assert.InDelta(t, 84.4, *loc.Heading, 1e-9)
	assert.Equal(t, time.Date(2094, 3, 23, 12, 35, 19, 0, time.UTC).UnixMilli(), loc.Timestamp)
	assert.Nil(t, loc.Accuracy)
}

func TestNMEADecoder_StationaryHasNoHeading(t *testing.T) {
	loc, ok := newDecoder().Decode(rmcStill)
	require.True(t, ok)

	assert.InDelta(t, -37.860833, loc.Latitude, 1e-4)
	assert.Nil(t, loc.Heading)
	assert.Equal(t, 0.0, *loc.Speed)
}

func TestNMEADecoder_GGA(t *testing.T) {
	d := newDecoder()

	loc, ok := d.Decode(ggaValid)
	require.True(t, ok)
	assert.Equal(t, fixedNow.UnixMilli(), loc.Timestamp)
	require.NotNil(t, loc.Accuracy)
	assert.InDelta(t, 4.5, *loc.Accuracy, 1e-9)

	// Once RMC is flowing, GGA only refreshes the accuracy.
	_, ok = d.Decode(rmcValid)
	require.True(t, ok)
	_, ok = d.Decode(ggaValid)
	assert.False(t, ok)

	loc, ok = d.Decode(rmcValid)
	require.True(t, ok)
	assert.InDelta(t, 4.5, *loc.Accuracy, 1e-9)
}

func TestNMEADecoder_Rejects(t *testing.T) {
	for _, line := range []string{rmcVoid, ggaNoFix, badChecksum, "", "garbage", "$GPGSV,1,1,00*79"} {
		_, ok := newDecoder().Decode(line)
		assert.False(t, ok, line)
	}
}

type pipePort struct {
	io.Reader
	io.Writer
	io.Closer
}

func newPipeProvider(t *testing.T) (*DeviceSensorProvider, *io.PipeWriter) {
	t.Helper()
	pr, pw := io.Pipe()

	p := NewDeviceSensorProvider("/dev/ttyTEST", 9600)
	p.now = func() time.Time { return fixedNow }
	p.openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
		assert.Equal(t, "/dev/ttyTEST", c.Name)
		assert.Equal(t, 9600, c.Baud)
		return pipePort{Reader: pr, Writer: io.Discard, Closer: pr}, nil
	}
	t.Cleanup(func() {
		pw.Close()
		p.Close()
	})
	return p, pw
}

func TestDeviceSensorProvider_ReadsFix(t *testing.T) {
	p, pw := newPipeProvider(t)

	go fmt.Fprintln(pw, rmcValid)

	loc, err := p.GetLocation(context.Background(), Options{Timeout: 2 * time.Second})
	require.NoError(t, err)
	assert.InDelta(t, 48.1173, loc.Latitude, 1e-4)
}

func TestDeviceSensorProvider_Timeout(t *testing.T) {
	p, _ := newPipeProvider(t)

	_, err := p.GetLocation(context.Background(), Options{Timeout: 20 * time.Millisecond})
	assert.ErrorIs(t, err, ErrPositionUnavailable)
}

func TestDeviceSensorProvider_Cancelled(t *testing.T) {
	p, _ := newPipeProvider(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.GetLocation(ctx, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeviceSensorProvider_OpenErrors(t *testing.T) {
	tests := []struct {
		name    string
		openErr error
		want    error
	}{
		{"missing device", fs.ErrNotExist, ErrSensorUnsupported},
		{"no permission", fs.ErrPermission, ErrPermissionDenied},
		{"other failure", io.ErrUnexpectedEOF, ErrPositionUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewDeviceSensorProvider("/dev/ttyTEST", 9600)
			p.openPort = func(*serial.Config) (io.ReadWriteCloser, error) {
				return nil, &fs.PathError{Op: "open", Path: "/dev/ttyTEST", Err: tt.openErr}
			}
			_, err := p.GetLocation(context.Background(), Options{Timeout: time.Second})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDeviceSensorProvider_Closed(t *testing.T) {
	p := NewDeviceSensorProvider("/dev/ttyTEST", 9600)
	require.NoError(t, p.Close())

	_, err := p.GetLocation(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrSensorUnsupported)
}
