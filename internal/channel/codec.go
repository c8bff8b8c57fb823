package channel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/benmeehan/ride-relay/internal/constants"
	"github.com/benmeehan/ride-relay/internal/models"
)

var (
	ErrMalformedMessage    = errors.New("malformed location update")
	ErrUnsupportedEvent    = errors.New("unsupported event")
	ErrIncompatibleVersion = errors.New("incompatible protocol version")
)

var supportedVersions = mustConstraint(constants.ProtocolConstraint)

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(fmt.Sprintf("invalid protocol constraint %q: %v", c, err))
	}
	return constraint
}

// Encode stamps the protocol version and event name and serializes msg.
func Encode(msg models.LocationUpdate) ([]byte, error) {
	if msg.Version == "" {
		msg.Version = constants.ProtocolVersion
	}
	if msg.Event == "" {
		msg.Event = constants.EventLocationUpdate
	}
	return json.Marshal(msg)
}

// Decode parses a broadcast payload. Payloads without version or event
// fields are treated as version 1 location updates.
func Decode(payload []byte) (models.LocationUpdate, error) {
	var msg models.LocationUpdate
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.LocationUpdate{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if msg.Event == "" {
		msg.Event = constants.EventLocationUpdate
	}
	if msg.Event != constants.EventLocationUpdate {
		return models.LocationUpdate{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, msg.Event)
	}

	if msg.Version == "" {
		msg.Version = constants.ProtocolVersion
	}
	v, err := semver.NewVersion(msg.Version)
	if err != nil {
		return models.LocationUpdate{}, fmt.Errorf("%w: %q", ErrIncompatibleVersion, msg.Version)
	}
	if !supportedVersions.Check(v) {
		return models.LocationUpdate{}, fmt.Errorf("%w: %s does not satisfy %s",
			ErrIncompatibleVersion, v, constants.ProtocolConstraint)
	}

	if msg.ParticipantID == "" {
		return models.LocationUpdate{}, fmt.Errorf("%w: missing participantId", ErrMalformedMessage)
	}

	return msg, nil
}
