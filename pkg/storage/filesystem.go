package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// ErrPayloadMissing reports a reference whose backing file no longer exists.
var ErrPayloadMissing = fmt.Errorf("payload missing")

// LocalStorage persists receipt payloads on disk under a base directory.
//
// References handed out are paths relative to the base directory, so the
// directory can be relocated without rewriting stored rows.
type LocalStorage struct {
	baseDir string
}

// NewLocalStorage ensures the base directory exists and returns a handle.
func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if baseDir == "" {
		baseDir = "./uploads"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads directory: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

// Save writes the payload and returns the reference to store alongside the record.
func (s *LocalStorage) Save(name string, data []byte) (string, error) {
	path := s.resolve(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare upload directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write payload: %w", err)
	}
	return name, nil
}

// Load returns the payload bytes for a previously saved reference.
func (s *LocalStorage) Load(ref string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPayloadMissing
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

// Remove deletes a stored payload. Removing an absent payload is not an error.
func (s *LocalStorage) Remove(ref string) error {
	if err := os.Remove(s.resolve(ref)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove payload: %w", err)
	}
	return nil
}

// Path exposes the underlying absolute path (useful for debugging).
func (s *LocalStorage) Path(ref string) string {
	return s.resolve(ref)
}

func (s *LocalStorage) resolve(ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(s.baseDir, ref)
}
