package relay

import (
	"fmt"
	"sync/atomic"

	"github.com/benmeehan/ride-relay/internal/channel"
	"github.com/benmeehan/ride-relay/internal/models"
	"github.com/benmeehan/ride-relay/internal/utils"
	"github.com/benmeehan/ride-relay/pkg/location"
	"github.com/rs/zerolog"
)

// ChannelStatus is the connectivity indicator shown next to the sensor status.
type ChannelStatus int32

const (
	ChannelPending ChannelStatus = iota
	ChannelConnected
	ChannelUnreachable
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelPending:
		return "pending"
	case ChannelConnected:
		return "connected"
	case ChannelUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name in JSON frames.
func (s ChannelStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ChannelStatus) UnmarshalText(text []byte) error {
	for _, v := range []ChannelStatus{ChannelPending, ChannelConnected, ChannelUnreachable} {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown channel status %q", text)
}

// Publisher forwards local samples to the trip room without waiting for the channel.
// Publishes run on a single worker, so they leave in sampling order.
type Publisher struct {
	channel       channel.Channel
	roomID        string
	participantID string
	role          Role
	pool          *utils.WorkerPool
	logger        zerolog.Logger
	onStatus      func(ChannelStatus)

	status atomic.Int32
	closed atomic.Bool
}

// NewPublisher creates a publisher with room for queueSize pending samples.
// onStatus is called whenever the channel status changes and may be nil.
func NewPublisher(ch channel.Channel, roomID, participantID string, role Role, queueSize int,
	onStatus func(ChannelStatus), logger zerolog.Logger) *Publisher {
	return &Publisher{
		channel:       ch,
		roomID:        roomID,
		participantID: participantID,
		role:          role,
		pool:          utils.NewWorkerPool(1, queueSize),
		logger:        logger,
		onStatus:      onStatus,
	}
}

// Publish queues loc for broadcast. It never blocks and reports false when the sample was dropped.
func (p *Publisher) Publish(loc location.Location) bool {
	if p.closed.Load() {
		return false
	}

	msg := models.LocationUpdate{
		ParticipantID: p.participantID,
		Role:          string(p.role),
		Location:      loc,
	}
	queued := p.pool.TrySubmit(func() {
		if p.closed.Load() {
			return
		}
		if err := p.channel.Publish(p.roomID, msg); err != nil {
			p.logger.Warn().Err(err).Str("room", p.roomID).Msg("Failed to publish location")
			p.setStatus(ChannelUnreachable)
			return
		}
		p.setStatus(ChannelConnected)
	})
	if !queued {
		p.logger.Warn().Str("room", p.roomID).Int64("timestamp", loc.Timestamp).Msg("Publish queue full, dropping sample")
	}
	return queued
}

// Status returns the outcome of the most recent channel operation.
func (p *Publisher) Status() ChannelStatus {
	return ChannelStatus(p.status.Load())
}

func (p *Publisher) setStatus(s ChannelStatus) {
	if ChannelStatus(p.status.Swap(int32(s))) != s && p.onStatus != nil && !p.closed.Load() {
		p.onStatus(s)
	}
}

// Close discards queued samples and waits for an in-flight publish to return. Safe to call twice.
func (p *Publisher) Close() {
	p.closed.Store(true)
	p.pool.Shutdown()
}
