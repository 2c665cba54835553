package engine

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openscribe/scribed/pkg/models"
)

// evictInterval is how often the cache scans for idle entries.
const evictInterval = 30 * time.Second

// CacheKey identifies one loaded model instance.
func CacheKey(engine models.ModelEngine, upstreamID, device, computeType string) string {
	return fmt.Sprintf("%s|%s|%s|%s", engine, upstreamID, device, computeType)
}

type cacheEntry struct {
	value      io.Closer
	lastAccess time.Time
}

// Cache keeps loaded adapters alive between jobs and evicts them after an
// idle timeout, releasing accelerator memory best-effort. Load-on-miss is
// single-flight per key. Tests inject a fresh instance; Close tears all
// entries down.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*cacheEntry
	idleTimeout time.Duration
	group       singleflight.Group
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewCache creates a cache whose entries are evicted after idleTimeout
// without access.
func NewCache(idleTimeout time.Duration) *Cache {
	c := &Cache{
		entries:     make(map[string]*cacheEntry),
		idleTimeout: idleTimeout,
		stopCh:      make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// GetOrLoad returns the cached instance for key, loading it single-flight on
// miss. Access resets the idle timer.
func (c *Cache) GetOrLoad(key string, load func() (io.Closer, error)) (io.Closer, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		entry.lastAccess = time.Now()
		c.mu.Unlock()
		return entry.value, nil
	}
	c.mu.Unlock()

	value, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check: another caller may have loaded between unlock and Do.
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok {
			entry.lastAccess = time.Now()
			c.mu.Unlock()
			return entry.value, nil
		}
		c.mu.Unlock()

		v, err := load()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = &cacheEntry{value: v, lastAccess: time.Now()}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(io.Closer), nil
}

// Evict removes and closes one entry.
func (c *Cache) Evict(key string) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	if ok {
		if err := entry.value.Close(); err != nil {
			slog.Warn("Failed to close evicted model", "key", key, "error", err)
		}
	}
}

// Len returns the number of loaded entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the evictor and tears down all entries.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()

	for key, entry := range entries {
		if err := entry.value.Close(); err != nil {
			slog.Warn("Failed to close cached model", "key", key, "error", err)
		}
	}
}

func (c *Cache) evictLoop() {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictIdle()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache) evictIdle() {
	cutoff := time.Now().Add(-c.idleTimeout)

	c.mu.Lock()
	idle := make(map[string]io.Closer)
	for key, entry := range c.entries {
		if entry.lastAccess.Before(cutoff) {
			idle[key] = entry.value
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	for key, value := range idle {
		slog.Info("Evicting idle model", "key", key, "idle_timeout", c.idleTimeout)
		if err := value.Close(); err != nil {
			slog.Warn("Failed to close evicted model", "key", key, "error", err)
		}
	}
}
