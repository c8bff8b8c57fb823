package models

import "github.com/benmeehan/ride-relay/pkg/location"

// LocationUpdate is the broadcast payload exchanged inside a trip room.
type LocationUpdate struct {
	Version       string            `json:"v"`
	Event         string            `json:"event"`
	ParticipantID string            `json:"participantId"`
	Role          string            `json:"role,omitempty"`
	Location      location.Location `json:"location"`
}
