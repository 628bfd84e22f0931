// Package cache implements the content-addressed audio byte store: a
// sqlite-backed table with size-bounded LRU eviction, pin protection, and
// an optional S3 cold-storage tier for evicted entries. Two-tier
// structure (in-memory hot index in front of a persistent store) follows
// allaspectsdev-tokenman's CacheMiddleware shape, generalized from
// TTL-expiry to the spec's LRU/pin eviction model.
package cache

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is a single cached audio blob, keyed by its synthesis fingerprint.
type Entry struct {
	Key          string
	Data         []byte
	Size         int64
	CreatedAt    time.Time
	LastAccessed time.Time
	Pinned       bool
	Archived     bool // excluded from size accounting and eviction; set by SqliteBackend.MarkArchived
}

// Backend is the persistence interface a Cache is built on. Implemented
// by SqliteBackend; tests may supply an in-memory fake.
type Backend interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
	Touch(ctx context.Context, key string, at time.Time) error
	Delete(ctx context.Context, key string) error
	BatchExists(ctx context.Context, keys []string) (map[string]bool, error)
	Pin(ctx context.Context, keys []string) error
	TotalSize(ctx context.Context) (int64, error)
	// EvictionCandidates returns up to limit non-pinned, non-archived keys
	// in ascending last_accessed order.
	EvictionCandidates(ctx context.Context, limit int) ([]string, error)
}

// Archiver uploads evicted-but-not-pinned bytes to cold storage.
// Implemented by S3Archiver; nil disables the cold tier entirely.
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte) error
	Fetch(ctx context.Context, key string) ([]byte, bool, error)
}

// Cache is the audio cache: a hot LRU index in front of Backend, with an
// optional Archiver cold tier consulted only after a backend miss.
type Cache struct {
	backend      Backend
	archiver     Archiver
	hot          *lru.Cache[string, bool] // key -> exists, invalidated on delete/evict
	maxSizeBytes int64
}

// New builds a Cache. hotIndexSize bounds the in-memory existence cache;
// maxSizeBytes bounds the backing store's total size before eviction.
func New(backend Backend, archiver Archiver, hotIndexSize int, maxSizeBytes int64) (*Cache, error) {
	hot, err := lru.New[string, bool](hotIndexSize)
	if err != nil {
		return nil, fmt.Errorf("cache: create hot index: %w", err)
	}
	return &Cache{backend: backend, archiver: archiver, hot: hot, maxSizeBytes: maxSizeBytes}, nil
}

// Store writes bytes under key, updates last_accessed, and triggers
// eviction if the store is now over budget.
func (c *Cache) Store(ctx context.Context, key string, data []byte) error {
	now := time.Now()
	entry := &Entry{Key: key, Data: data, Size: int64(len(data)), CreatedAt: now, LastAccessed: now}
	if err := c.backend.Put(ctx, entry); err != nil {
		return fmt.Errorf("cache: store %s: %w", key, err)
	}
	c.hot.Add(key, true)

	total, err := c.backend.TotalSize(ctx)
	if err != nil {
		return fmt.Errorf("cache: store %s: check size: %w", key, err)
	}
	if total > c.maxSizeBytes {
		if err := c.evictToLimit(ctx); err != nil {
			return fmt.Errorf("cache: store %s: evict: %w", key, err)
		}
	}
	return nil
}

// Retrieve returns bytes for key and touches last_accessed. If the
// backend has no row but a cold-tier archiver does, bytes are served from
// there without repopulating the hot tier (a cold hit is rare enough that
// re-promoting it isn't worth the write).
func (c *Cache) Retrieve(ctx context.Context, key string) ([]byte, error) {
	entry, err := c.backend.Get(ctx, key)
	if err == nil {
		_ = c.backend.Touch(ctx, key, time.Now())
		c.hot.Add(key, true)
		return entry.Data, nil
	}
	if err != ErrNotFound {
		return nil, fmt.Errorf("cache: retrieve %s: %w", key, err)
	}

	if c.archiver != nil {
		if data, ok, ferr := c.archiver.Fetch(ctx, key); ferr == nil && ok {
			return data, nil
		}
	}
	return nil, ErrNotFound
}

// Exists is a membership test, short-circuiting through the hot index
// when possible.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if v, ok := c.hot.Get(key); ok && v {
		return true, nil
	}
	present, err := c.backend.BatchExists(ctx, []string{key})
	if err != nil {
		return false, fmt.Errorf("cache: exists %s: %w", key, err)
	}
	found := present[key]
	if found {
		c.hot.Add(key, true)
	}
	return found, nil
}

// BatchExists checks many keys in a single round trip, consulting the hot
// index first to skip a backend round trip entirely when every key is
// already known-present.
func (c *Cache) BatchExists(ctx context.Context, keys []string) (map[string]bool, error) {
	result := make(map[string]bool, len(keys))
	var toQuery []string
	for _, k := range keys {
		if v, ok := c.hot.Get(k); ok && v {
			result[k] = true
			continue
		}
		toQuery = append(toQuery, k)
	}
	if len(toQuery) == 0 {
		return result, nil
	}

	present, err := c.backend.BatchExists(ctx, toQuery)
	if err != nil {
		return nil, fmt.Errorf("cache: batch_exists: %w", err)
	}
	for k, ok := range present {
		result[k] = ok
		if ok {
			c.hot.Add(k, true)
		}
	}
	return result, nil
}

// Pin marks entries as non-evictable.
func (c *Cache) Pin(ctx context.Context, keys []string) error {
	if err := c.backend.Pin(ctx, keys); err != nil {
		return fmt.Errorf("cache: pin: %w", err)
	}
	return nil
}

// Delete removes an entry and invalidates its hot-index membership.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	c.hot.Remove(key)
	return nil
}

// evictToLimit deletes entries in ascending last_accessed order, skipping
// pinned entries, until the store is back under budget. Evicted,
// non-pinned bytes are handed to the archiver before the row is dropped,
// if one is configured.
func (c *Cache) evictToLimit(ctx context.Context) error {
	for {
		total, err := c.backend.TotalSize(ctx)
		if err != nil {
			return err
		}
		if total <= c.maxSizeBytes {
			return nil
		}

		candidates, err := c.backend.EvictionCandidates(ctx, 50)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			// Nothing left to evict (everything pinned); stop rather
			// than loop forever over budget.
			return nil
		}

		for _, key := range candidates {
			if c.archiver != nil {
				if entry, gerr := c.backend.Get(ctx, key); gerr == nil {
					_ = c.archiver.Archive(ctx, key, entry.Data)
				}
			}
			if err := c.Delete(ctx, key); err != nil {
				return err
			}
			total, err := c.backend.TotalSize(ctx)
			if err != nil {
				return err
			}
			if total <= c.maxSizeBytes {
				return nil
			}
		}
	}
}

// VacuumIfNeeded compacts the backing store when its size-to-live-data
// ratio reaches bloatThreshold (sqlite accumulates free pages from
// deletes until VACUUM reclaims them). This is a maintenance operation,
// independent of LRU eviction: VacuumIfNeeded itself doesn't evict.
func (c *Cache) VacuumIfNeeded(ctx context.Context, bloatThreshold float64) error {
	v, ok := c.backend.(interface {
		BloatRatio(ctx context.Context) (float64, error)
		Vacuum(ctx context.Context) error
	})
	if !ok {
		return nil
	}
	ratio, err := v.BloatRatio(ctx)
	if err != nil {
		return fmt.Errorf("cache: vacuum: bloat ratio: %w", err)
	}
	if ratio < bloatThreshold {
		return nil
	}
	if err := v.Vacuum(ctx); err != nil {
		return fmt.Errorf("cache: vacuum: %w", err)
	}
	return nil
}

// ErrNotFound is returned when a key has no backing row.
var ErrNotFound = fmt.Errorf("cache: entry not found")
