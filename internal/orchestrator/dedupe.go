package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
)

// deduper remembers signal keys for the idempotency window
type deduper struct {
	mu    sync.Mutex
	cache *bigcache.BigCache
}

func newDeduper(ttl time.Duration, maxMB int) (*deduper, error) {
	config := bigcache.DefaultConfig(ttl)
	config.HardMaxCacheSize = maxMB
	config.CleanWindow = time.Minute
	config.Verbose = false

	cache, err := bigcache.New(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("init dedupe cache: %w", err)
	}
	return &deduper{cache: cache}, nil
}

// seen marks key and reports whether it was already present
func (d *deduper) seen(key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.cache.Get(key)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, bigcache.ErrEntryNotFound) {
		return false, err
	}
	return false, d.cache.Set(key, []byte{1})
}

func (d *deduper) close() error {
	return d.cache.Close()
}
