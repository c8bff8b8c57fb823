package relay

import (
	"sort"
	"time"

	"github.com/benmeehan/ride-relay/pkg/location"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// PeerState is the latest accepted sample of one participant.
type PeerState struct {
	ParticipantID string             `json:"participantId"`
	Role          Role               `json:"role"`
	Location      *location.Location `json:"location,omitempty"`
	UpdatedAt     time.Time          `json:"updatedAt"` // Local time the sample was accepted
}

// Known reports whether a sample has been received.
func (p PeerState) Known() bool {
	return p.Location != nil
}

// PeerStore holds one PeerState per participant. Merges are atomic per participant.
type PeerStore struct {
	peers cmap.ConcurrentMap[string, PeerState]
}

// NewPeerStore creates an empty store.
func NewPeerStore() *PeerStore {
	return &PeerStore{peers: cmap.New[PeerState]()}
}

// Seed registers a participant with no sample yet. Existing entries are kept.
func (s *PeerStore) Seed(participantID string, role Role) {
	s.peers.SetIfAbsent(participantID, PeerState{ParticipantID: participantID, Role: role})
}

// Merge stores loc when it is strictly newer than what is held for the
// participant. It returns the resulting state and whether loc was accepted.
func (s *PeerStore) Merge(participantID string, role Role, loc location.Location, at time.Time) (PeerState, bool) {
	accepted := false
	candidate := PeerState{ParticipantID: participantID, Role: role, Location: &loc, UpdatedAt: at}

	state := s.peers.Upsert(participantID, candidate, func(exist bool, held, fresh PeerState) PeerState {
		if exist && held.Known() && fresh.Location.Timestamp <= held.Location.Timestamp {
			return held
		}
		accepted = true
		return fresh
	})
	return state, accepted
}

// Get returns the state held for a participant.
func (s *PeerStore) Get(participantID string) (PeerState, bool) {
	return s.peers.Get(participantID)
}

// Snapshot returns every state ordered by participant id.
func (s *PeerStore) Snapshot() []PeerState {
	items := s.peers.Items()
	states := make([]PeerState, 0, len(items))
	for _, st := range items {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].ParticipantID < states[j].ParticipantID
	})
	return states
}

// Clear drops every participant.
func (s *PeerStore) Clear() {
	s.peers.Clear()
}
