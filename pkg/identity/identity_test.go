package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/benmeehan/ride-relay/internal/mocks"
	"github.com/benmeehan/ride-relay/pkg/file"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestLoadParticipantInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "participant.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"participant_id":"driver-1","name":"Anu","role":"driver"}`), 0o600))

	info := NewParticipantInfo(path, file.NewFileService())
	require.NoError(t, info.LoadParticipantInfo())

	assert.Equal(t, "driver-1", info.GetParticipantID())
	assert.Equal(t, Identity{ParticipantID: "driver-1", Name: "Anu", Role: "driver"}, *info.GetIdentity())

	id, err := info.EnsureParticipantID()
	require.NoError(t, err)
	assert.Equal(t, "driver-1", id)
}

func TestEnsureParticipantID_GeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "participant.json")
	fileService := file.NewFileService()

	info := NewParticipantInfo(path, fileService)
	require.NoError(t, info.LoadParticipantInfo())
	assert.Empty(t, info.GetParticipantID())

	id, err := info.EnsureParticipantID()
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	reloaded := NewParticipantInfo(path, fileService)
	require.NoError(t, reloaded.LoadParticipantInfo())
	assert.Equal(t, id, reloaded.GetParticipantID())
}

func TestLoadParticipantInfo_ReadError(t *testing.T) {
	fileOps := new(mocks.MockFileOperations)
	readErr := errors.New("malformed json")
	fileOps.On("ReadJsonFile", "participant.json", mock.Anything).Return(readErr)

	err := NewParticipantInfo("participant.json", fileOps).LoadParticipantInfo()
	assert.ErrorIs(t, err, readErr)
}

func TestLoadParticipantInfo_MissingFile(t *testing.T) {
	fileOps := new(mocks.MockFileOperations)
	fileOps.On("ReadJsonFile", "participant.json", mock.Anything).
		Return(fmt.Errorf("open participant.json: %w", os.ErrNotExist))

	info := NewParticipantInfo("participant.json", fileOps)
	require.NoError(t, info.LoadParticipantInfo())
	assert.Empty(t, info.GetParticipantID())
}

func TestEnsureParticipantID_SaveError(t *testing.T) {
	fileOps := new(mocks.MockFileOperations)
	fileOps.On("WriteJsonFile", "participant.json", Identity{ParticipantID: "fixed-id"}).Return(errors.New("read-only filesystem"))

	info := NewParticipantInfo("participant.json", fileOps).(*ParticipantInfo)
	info.newID = func() string { return "fixed-id" }

	_, err := info.EnsureParticipantID()
	assert.Error(t, err)
	fileOps.AssertExpectations(t)
}
