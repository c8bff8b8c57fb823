package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID    string   `json:"id" yaml:"id"`
	Peers []string `json:"peers" yaml:"peers"`
}

func TestWriteJsonFile(t *testing.T) {
	fs := NewFileService()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "participant.json")

	require.NoError(t, fs.WriteJsonFile(path, sample{ID: "driver-1", Peers: []string{"passenger-1"}}))

	var got sample
	require.NoError(t, fs.ReadJsonFile(path, &got))
	assert.Equal(t, sample{ID: "driver-1", Peers: []string{"passenger-1"}}, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file should be renamed away")
}

func TestWriteJsonFile_Unencodable(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "participant.json")

	assert.Error(t, fs.WriteJsonFile(path, map[string]any{"bad": make(chan int)}))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadYamlFile(t *testing.T) {
	fs := NewFileService()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: T1\npeers: [a, b]\n"), 0o600))

	var got sample
	require.NoError(t, fs.ReadYamlFile(path, &got))
	assert.Equal(t, sample{ID: "T1", Peers: []string{"a", "b"}}, got)

	require.NoError(t, os.WriteFile(path, []byte("id: T1\npeer: [a]\n"), 0o600))
	assert.Error(t, fs.ReadYamlFile(path, &got), "unknown keys are rejected")
}

func TestReadFileRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("-----BEGIN CERTIFICATE-----"), 0o600))

	data, err := NewFileService().ReadFileRaw(path)
	require.NoError(t, err)
	assert.Equal(t, "-----BEGIN CERTIFICATE-----", string(data))
}

func TestReadJsonFile_Missing(t *testing.T) {
	var got sample
	err := NewFileService().ReadJsonFile(filepath.Join(t.TempDir(), "missing.json"), &got)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
