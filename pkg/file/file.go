// Package file reads the relay's configuration and persists its identity file.
package file

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileOperations is the file access the relay needs: config and certificates
// in, the participant identity in and out.
type FileOperations interface {
	ReadFileRaw(filePath string) ([]byte, error)
	ReadJsonFile(filePath string, v any) error
	ReadYamlFile(filePath string, v any) error
	WriteJsonFile(filePath string, data any) error
}

// FileService implements FileOperations on the local filesystem.
type FileService struct{}

// NewFileService creates a new instance of FileService.
func NewFileService() *FileService {
	return &FileService{}
}

// ReadFileRaw returns the file contents, e.g. a PEM bundle.
func (fs *FileService) ReadFileRaw(filePath string) ([]byte, error) {
	return os.ReadFile(filePath)
}

// ReadJsonFile decodes a single JSON document.
func (fs *FileService) ReadJsonFile(filePath string, v any) error {
	return decodeFile(filePath, func(r io.Reader) error {
		return json.NewDecoder(r).Decode(v)
	})
}

// ReadYamlFile decodes a single YAML document. Unknown keys are rejected so
// typos in the config surface at startup.
func (fs *FileService) ReadYamlFile(filePath string, v any) error {
	return decodeFile(filePath, func(r io.Reader) error {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		return dec.Decode(v)
	})
}

// WriteJsonFile replaces the file with indented JSON. Readers never see a
// partial document: data goes to a sibling temp file that is renamed into place.
func (fs *FileService) WriteJsonFile(filePath string, data any) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", filePath, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filePath)
}

func decodeFile(filePath string, decode func(io.Reader) error) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := decode(f); err != nil {
		return fmt.Errorf("decode %s: %w", filePath, err)
	}
	return nil
}
