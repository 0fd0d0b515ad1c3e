// Package storage persists small JSON documents (system state, kill switch
// record, ledger snapshot) behind a key-value interface.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Load when the key has never been saved
var ErrNotFound = errors.New("storage: key not found")

// Store saves and loads JSON-encodable documents by key
type Store interface {
	Save(ctx context.Context, key string, v interface{}) error
	Load(ctx context.Context, key string, v interface{}) error
}

// Memory is an in-process Store, used in tests and for paper runs
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Save(_ context.Context, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = raw
	return nil
}

func (m *Memory) Load(_ context.Context, key string, v interface{}) error {
	m.mu.RLock()
	raw, ok := m.docs[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, v)
}
