// Package view turns tracker snapshots into map frames and streams them to map clients.
package view

import (
	"time"

	"github.com/benmeehan/ride-relay/internal/relay"
	"github.com/benmeehan/ride-relay/pkg/location"
	"github.com/mmcloughlin/geohash"
)

// CellPrecision is the geohash length of marker cells, roughly 150 m squares.
const CellPrecision = 7

// Point is a map coordinate with its geohash cell.
type Point struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Cell string  `json:"cell"`
}

// SelfMarker is the local participant's marker.
type SelfMarker struct {
	Point
	Accuracy *float64 `json:"accuracy,omitempty"`
	Heading  *float64 `json:"heading,omitempty"`
}

// PeerMarker is a counterpart's marker. Position is nil until the peer's first sample.
type PeerMarker struct {
	ParticipantID string `json:"participantId"`
	Role          string `json:"role"`
	Position      *Point `json:"position,omitempty"`
	Distance      string `json:"distance"`
	ETA           string `json:"eta"`
	Stale         bool   `json:"stale"`
}

// Route is the straight polyline from the local marker to one peer.
type Route struct {
	ParticipantID string  `json:"participantId"`
	Points        []Point `json:"points"`
}

// Frame is everything the map widget draws.
type Frame struct {
	State       relay.State         `json:"state"`
	TripID      string              `json:"tripId,omitempty"`
	Self        *SelfMarker         `json:"self,omitempty"`
	Peers       []PeerMarker        `json:"peers"`
	Routes      []Route             `json:"routes"`
	Sensor      relay.SensorStatus  `json:"sensor"`
	SensorError string              `json:"sensorError,omitempty"`
	Channel     relay.ChannelStatus `json:"channel"`
	GeneratedAt time.Time           `json:"generatedAt"`
}

func pointOf(loc location.Location) Point {
	return Point{
		Lat:  loc.Latitude,
		Lng:  loc.Longitude,
		Cell: geohash.EncodeWithPrecision(loc.Latitude, loc.Longitude, CellPrecision),
	}
}

// BuildFrame renders a tracker view.
func BuildFrame(v relay.View) Frame {
	f := Frame{
		State:       v.State,
		TripID:      v.TripID,
		Peers:       make([]PeerMarker, 0, len(v.Peers)),
		Routes:      []Route{},
		Sensor:      v.Sensor,
		SensorError: v.SensorError,
		Channel:     v.Channel,
		GeneratedAt: v.GeneratedAt,
	}

	if v.Self != nil {
		f.Self = &SelfMarker{
			Point:    pointOf(*v.Self),
			Accuracy: v.Self.Accuracy,
			Heading:  v.Self.Heading,
		}
	}

	for _, p := range v.Peers {
		marker := PeerMarker{
			ParticipantID: p.ParticipantID,
			Role:          string(p.Role),
			Distance:      p.Estimate.Text,
			ETA:           p.Estimate.ETAText,
			Stale:         p.Stale,
		}
		if p.Known() {
			pos := pointOf(*p.Location)
			marker.Position = &pos
			if f.Self != nil {
				f.Routes = append(f.Routes, Route{
					ParticipantID: p.ParticipantID,
					Points:        []Point{f.Self.Point, pos},
				})
			}
		}
		f.Peers = append(f.Peers, marker)
	}
	return f
}
