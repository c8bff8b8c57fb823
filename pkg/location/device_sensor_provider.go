package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"
)

const (
	knotsToMetersPerSecond = 0.514444
	// HDOP is scaled by a typical user equivalent range error to approximate a radius in meters.
	userEquivalentRangeError = 5.0
	// Below this ground speed the course reported by the receiver is noise.
	minHeadingSpeed = 0.5
)

// DeviceSensorProvider is responsible for retrieving location data from a GPS device connected via serial port.
// The port is opened on first use and read continuously; GetLocation returns the most recent fix.
type DeviceSensorProvider struct {
	port     string // Serial port to which the GPS device is connected
	baudRate int    // Baud rate for the serial communication
	openPort func(*serial.Config) (io.ReadWriteCloser, error)
	now      func() time.Time

	mu      sync.Mutex
	conn    io.ReadWriteCloser
	fixes   chan Location
	readErr chan error
	closed  bool
}

// NewDeviceSensorProvider creates a new instance of DeviceSensorProvider with the specified port and baud rate.
func NewDeviceSensorProvider(port string, baudRate int) *DeviceSensorProvider {
	return &DeviceSensorProvider{
		port:     port,
		baudRate: baudRate,
		openPort: func(c *serial.Config) (io.ReadWriteCloser, error) { return serial.OpenPort(c) },
		now:      time.Now,
	}
}

// GetLocation waits for the next fix from the receiver, bounded by opts.Timeout.
func (d *DeviceSensorProvider) GetLocation(ctx context.Context, opts Options) (Location, error) {
	fixes, readErr, err := d.ensureOpen()
	if err != nil {
		return Location{}, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	select {
	case loc := <-fixes:
		return loc, nil
	case err := <-readErr:
		return Location{}, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Location{}, fmt.Errorf("%w: no fix from %s", ErrPositionUnavailable, d.port)
		}
		return Location{}, ctx.Err()
	}
}

// Close releases the serial port.
func (d *DeviceSensorProvider) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *DeviceSensorProvider) ensureOpen() (<-chan Location, <-chan error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, nil, fmt.Errorf("%w: provider closed", ErrSensorUnsupported)
	}
	if d.conn != nil {
		return d.fixes, d.readErr, nil
	}

	conn, err := d.openPort(&serial.Config{Name: d.port, Baud: d.baudRate})
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, nil, fmt.Errorf("%w: %v", ErrSensorUnsupported, err)
		case errors.Is(err, fs.ErrPermission):
			return nil, nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		default:
			return nil, nil, fmt.Errorf("%w: %v", ErrPositionUnavailable, err)
		}
	}

	d.conn = conn
	d.fixes = make(chan Location, 1)
	d.readErr = make(chan error, 1)
	go d.readLoop(conn, d.fixes, d.readErr)

	return d.fixes, d.readErr, nil
}

// readLoop keeps only the latest fix so a slow consumer never sees a backlog.
func (d *DeviceSensorProvider) readLoop(conn io.ReadWriteCloser, fixes chan Location, readErr chan error) {
	decoder := &nmeaDecoder{now: d.now}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		loc, ok := decoder.Decode(scanner.Text())
		if !ok {
			continue
		}
		select {
		case <-fixes:
		default:
		}
		select {
		case fixes <- loc:
		default:
		}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	select {
	case readErr <- err:
	default:
	}

	// Force a reopen on the next request, the device may have been unplugged.
	d.mu.Lock()
	if d.conn == conn {
		d.conn.Close()
		d.conn = nil
	}
	d.mu.Unlock()
}

// nmeaDecoder turns RMC and GGA sentences into samples.
// RMC carries speed, course and the receiver clock; GGA contributes HDOP.
type nmeaDecoder struct {
	now      func() time.Time
	accuracy *float64
	sawRMC   bool
}

func (n *nmeaDecoder) Decode(line string) (Location, bool) {
	sentence, err := nmea.Parse(strings.TrimSpace(line))
	if err != nil {
		return Location{}, false
	}

	switch s := sentence.(type) {
	case nmea.GGA:
		if s.FixQuality == nmea.Invalid {
			return Location{}, false
		}
		n.accuracy = Float(s.HDOP * userEquivalentRangeError)
		if n.sawRMC {
			return Location{}, false
		}
		return Location{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Timestamp: n.now().UnixMilli(),
			Accuracy:  n.accuracy,
		}, true

	case nmea.RMC:
		if s.Validity != nmea.ValidRMC {
			return Location{}, false
		}
		n.sawRMC = true
		speed := s.Speed * knotsToMetersPerSecond
		loc := Location{
			Latitude:  s.Latitude,
			Longitude: s.Longitude,
			Timestamp: sentenceTime(s.Date, s.Time, n.now).UnixMilli(),
			Accuracy:  n.accuracy,
			Speed:     Float(speed),
		}
		if speed >= minHeadingSpeed {
			loc.Heading = Float(math.Mod(s.Course, 360))
		}
		return loc, true
	}

	return Location{}, false
}

func sentenceTime(d nmea.Date, t nmea.Time, now func() time.Time) time.Time {
	if !d.Valid || !t.Valid {
		return now()
	}
	return time.Date(2000+d.YY, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
