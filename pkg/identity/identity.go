package identity

import (
	"errors"
	"fmt"
	"os"

	"github.com/benmeehan/ride-relay/pkg/file"
	"github.com/google/uuid"
)

// Identity holds the local participant's identifier and display metadata.
type Identity struct {
	ParticipantID string `json:"participant_id,omitempty"`
	Name          string `json:"name,omitempty"`
	Role          string `json:"role,omitempty"` // driver or passenger, informational only
}

// ParticipantInfoInterface defines methods for managing the participant identity.
type ParticipantInfoInterface interface {
	LoadParticipantInfo() error
	EnsureParticipantID() (string, error)
	SaveParticipantID(participantID string) error
	GetParticipantID() string
	GetIdentity() *Identity
}

// ParticipantInfo manages the participant identity and its associated file operations.
type ParticipantInfo struct {
	ParticipantInfoFile string
	Identity            Identity
	fileOps             file.FileOperations
	newID               func() string
}

// NewParticipantInfo initializes a new ParticipantInfo instance.
func NewParticipantInfo(filePath string, fileOps file.FileOperations) ParticipantInfoInterface {
	return &ParticipantInfo{
		ParticipantInfoFile: filePath,
		fileOps:             fileOps,
		Identity:            Identity{},
		newID:               uuid.NewString,
	}
}

// LoadParticipantInfo reads the identity file. A missing file leaves the identity empty.
func (p *ParticipantInfo) LoadParticipantInfo() error {
	err := p.fileOps.ReadJsonFile(p.ParticipantInfoFile, &p.Identity)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File does not exist, initialize with default empty values
			p.Identity = Identity{}
			return nil
		}
		return fmt.Errorf("failed to read identity file %s: %w", p.ParticipantInfoFile, err)
	}

	return nil
}

// EnsureParticipantID returns the stored participant id, generating and saving one if absent.
func (p *ParticipantInfo) EnsureParticipantID() (string, error) {
	if p.Identity.ParticipantID != "" {
		return p.Identity.ParticipantID, nil
	}
	id := p.newID()
	if err := p.SaveParticipantID(id); err != nil {
		return "", err
	}
	return id, nil
}

// GetIdentity returns the current participant Identity.
func (p *ParticipantInfo) GetIdentity() *Identity {
	return &p.Identity
}

// GetParticipantID returns the current participant ID.
func (p *ParticipantInfo) GetParticipantID() string {
	return p.Identity.ParticipantID
}

// SaveParticipantID updates the participant ID and writes the identity back to the file.
func (p *ParticipantInfo) SaveParticipantID(participantID string) error {
	p.Identity.ParticipantID = participantID
	if err := p.fileOps.WriteJsonFile(p.ParticipantInfoFile, p.Identity); err != nil {
		return fmt.Errorf("failed to save identity file %s: %w", p.ParticipantInfoFile, err)
	}
	return nil
}
