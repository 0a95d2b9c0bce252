package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const outputFileMode = 0o644

// LocalStorage implements ports.StorageProvider for local filesystem
type LocalStorage struct{}

// NewLocalStorage creates a new local storage provider
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{}
}

// Exists checks if a file exists
func (s *LocalStorage) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Size returns file size in bytes
func (s *LocalStorage) Size(_ context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// TempDir creates a scratch directory and returns its absolute path
func (s *LocalStorage) TempDir(_ context.Context, dir, pattern string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	d, err := os.MkdirTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	return filepath.Abs(d)
}

// RemoveAll deletes a directory tree
func (s *LocalStorage) RemoveAll(_ context.Context, path string) error {
	return os.RemoveAll(path)
}

// WriteAtomic lets fn write a temp file in path's directory, then renames it over
// path. Readers never observe a half-written output.
func (s *LocalStorage) WriteAtomic(_ context.Context, path string, fn func(tmpPath string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	f.Close()

	if err := fn(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	// CreateTemp makes the file 0600; outputs are read by later stages
	if err := os.Chmod(tmp, outputFileMode); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("set output permissions: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
