package cache

import (
	"context"
	"sync"
	"time"

	"github.com/bffless/bffless/internal/domain"
)

const sweepInterval = 10 * time.Minute

// MetadataCache stores resolved asset metadata keyed by (project, commit,
// path). Entries are immutable once written: a commit-addressed path never
// changes its asset, so concurrent writes of the same key are harmless.
type MetadataCache interface {
	Get(ctx context.Context, projectID, commitSHA, publicPath string) (*domain.Asset, bool)
	Set(ctx context.Context, asset *domain.Asset, ttl time.Duration)
	Close()
}

type memoryEntry struct {
	asset     domain.Asset
	expiresAt time.Time
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryCache returns an in-process metadata cache with a sweep goroutine.
func NewMemoryCache() MetadataCache {
	c := &memoryCache{
		entries: make(map[string]memoryEntry),
		stopCh:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

func assetKey(projectID, commitSHA, publicPath string) string {
	return "asset:" + projectID + ":" + commitSHA + ":" + publicPath
}

func (c *memoryCache) Get(ctx context.Context, projectID, commitSHA, publicPath string) (*domain.Asset, bool) {
	c.mu.RLock()
	entry, ok := c.entries[assetKey(projectID, commitSHA, publicPath)]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	asset := entry.asset
	return &asset, true
}

func (c *memoryCache) Set(ctx context.Context, asset *domain.Asset, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[assetKey(asset.ProjectID, asset.CommitSHA, asset.PublicPath)] = memoryEntry{
		asset:     *asset,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

func (c *memoryCache) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup(time.Now())
		case <-c.stopCh:
			return
		}
	}
}

func (c *memoryCache) cleanup(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *memoryCache) Close() {
	c.once.Do(func() {
		close(c.stopCh)
	})
}
