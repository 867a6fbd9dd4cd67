package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	appErrors "github.com/noah-isme/movement-gateway/pkg/errors"
)

// memorySweepInterval is the minimum time between sweeps of expired entries.
const memorySweepInterval = time.Minute

type memoryEntry struct {
	payload []byte
	expires time.Time
}

// MemoryCacheRepository is the in-process counterpart of CacheRepository,
// used when Redis is disabled. Values are stored JSON-encoded so callers see
// the same copy semantics as with Redis. Expired entries and stale tag
// members are swept on writes.
type MemoryCacheRepository struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	tags      map[string]map[string]struct{}
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryCacheRepository constructs an empty in-process cache.
func NewMemoryCacheRepository() *MemoryCacheRepository {
	return &MemoryCacheRepository{
		entries: make(map[string]memoryEntry),
		tags:    make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// Get retrieves and unmarshals the cached value.
func (r *MemoryCacheRepository) Get(_ context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if ok && !entry.expires.IsZero() && r.now().After(entry.expires) {
		delete(r.entries, key)
		ok = false
	}
	r.mu.Unlock()
	if !ok {
		return appErrors.ErrCacheMiss
	}
	if err := json.Unmarshal(entry.payload, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set stores the value and registers it under tags. A zero ttl never expires.
func (r *MemoryCacheRepository) Set(_ context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	entry := memoryEntry{payload: payload}
	if ttl > 0 {
		entry.expires = r.now().Add(ttl)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if now := r.now(); now.Sub(r.lastSweep) >= memorySweepInterval {
		r.sweepLocked(now)
		r.lastSweep = now
	}
	r.entries[key] = entry
	for _, tag := range tags {
		set, ok := r.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			r.tags[tag] = set
		}
		set[key] = struct{}{}
	}
	return nil
}

// sweepLocked drops expired entries and tag members whose entry is gone.
func (r *MemoryCacheRepository) sweepLocked(now time.Time) {
	for key, entry := range r.entries {
		if !entry.expires.IsZero() && now.After(entry.expires) {
			delete(r.entries, key)
		}
	}
	for tag, keys := range r.tags {
		for key := range keys {
			if _, ok := r.entries[key]; !ok {
				delete(keys, key)
			}
		}
		if len(keys) == 0 {
			delete(r.tags, tag)
		}
	}
}

// Delete removes a single key.
func (r *MemoryCacheRepository) Delete(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.entries, key)
	r.mu.Unlock()
	return nil
}

// InvalidateTags removes every key registered under any of the tags.
func (r *MemoryCacheRepository) InvalidateTags(_ context.Context, tags ...string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, tag := range tags {
		for key := range r.tags[tag] {
			if _, ok := r.entries[key]; ok {
				delete(r.entries, key)
				removed++
			}
		}
		delete(r.tags, tag)
	}
	return removed, nil
}

// Len reports the number of live entries.
func (r *MemoryCacheRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
