package relay

import (
	"fmt"
	"math"
	"time"

	"github.com/benmeehan/ride-relay/pkg/location"
)

// UnknownDistance is rendered while either endpoint has no sample.
const UnknownDistance = "unknown"

// movingSpeed is the reported speed (m/s) above which a peer counts as moving.
const movingSpeed = 0.5

// Estimate is the distance readout between two participants.
type Estimate struct {
	Known   bool          `json:"known"`
	Meters  float64       `json:"meters"`
	Text    string        `json:"text"`
	ETA     time.Duration `json:"eta"`
	ETAText string        `json:"etaText"`
}

// FormatDistance renders kilometers with one decimal from 1000 m up, whole meters below.
// Meters are truncated, so the meter form never reads "1000 m".
func FormatDistance(meters float64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.1f km", meters/1000)
	}
	return fmt.Sprintf("%d m", int64(math.Floor(meters)))
}

// FormatETA renders whole minutes, rounded up, never below one.
func FormatETA(d time.Duration) string {
	minutes := int64(math.Ceil(d.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%d min", minutes)
}

// Estimator computes distance and a naive ETA.
type Estimator struct {
	assumedSpeed float64 // m/s
}

// NewEstimator uses assumedSpeedKmh when the peer does not report movement.
func NewEstimator(assumedSpeedKmh float64) Estimator {
	return Estimator{assumedSpeed: assumedSpeedKmh * 1000 / 3600}
}

// Estimate measures from self to peer. Either side may be nil.
func (e Estimator) Estimate(self, peer *location.Location) Estimate {
	if self == nil || peer == nil {
		return Estimate{Text: UnknownDistance, ETAText: UnknownDistance}
	}

	meters := location.Distance(*self, *peer)
	est := Estimate{
		Known:   true,
		Meters:  meters,
		Text:    FormatDistance(meters),
		ETAText: UnknownDistance,
	}

	speed := e.assumedSpeed
	if peer.Speed != nil && *peer.Speed > movingSpeed {
		speed = *peer.Speed
	}
	if speed > 0 {
		est.ETA = time.Duration(meters / speed * float64(time.Second))
		est.ETAText = FormatETA(est.ETA)
	}
	return est
}
