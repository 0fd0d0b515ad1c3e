package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-.]+$`)

// FileStore keeps one JSON file per key in a directory. Writes go to a temp
// file first and are renamed into place, and the previous version is kept as
// <key>.backup.json.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileStore creates a file-based store rooted at dir
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "state"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(f.dir, key+".json"), nil
}

// Save writes v to the key's file atomically
func (f *FileStore) Save(_ context.Context, key string, v interface{}) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if prev, err := os.ReadFile(target); err == nil {
		_ = os.WriteFile(filepath.Join(f.dir, key+".backup.json"), prev, 0o644)
	}

	tempFile := target + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempFile, target); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to commit %s: %w", key, err)
	}

	return nil
}

// Load reads the key's file into v. A corrupt primary file falls back to the backup.
func (f *FileStore) Load(_ context.Context, key string, v interface{}) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(target)
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		backup, berr := os.ReadFile(filepath.Join(f.dir, key+".backup.json"))
		if berr != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		if err := json.Unmarshal(backup, v); err != nil {
			return fmt.Errorf("failed to unmarshal %s backup: %w", key, err)
		}
	}
	return nil
}
