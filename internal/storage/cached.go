package storage

import (
	"context"
	"sync"
	"time"
)

const cachedSweepInterval = 5 * time.Minute

type byteEntry struct {
	data      []byte
	expiresAt time.Time
}

// CachedAdapter wraps an Adapter with a read-through in-memory byte cache.
// Entries are immutable (keys are commit-addressed) so a stampede on a miss
// just re-caches the same bytes.
type CachedAdapter struct {
	inner  Adapter
	mu     sync.RWMutex
	bytes  map[string]byteEntry
	stopCh chan struct{}
	once   sync.Once
}

// NewCachedAdapter wraps inner with byte caching.
func NewCachedAdapter(inner Adapter) *CachedAdapter {
	c := &CachedAdapter{
		inner:  inner,
		bytes:  make(map[string]byteEntry),
		stopCh: make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

var _ Adapter = (*CachedAdapter)(nil)

// Upload passes through and invalidates any stale cached bytes for the key.
func (c *CachedAdapter) Upload(ctx context.Context, data []byte, key string, opts UploadOptions) (string, error) {
	storedKey, err := c.inner.Upload(ctx, data, key, opts)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	delete(c.bytes, key)
	c.mu.Unlock()
	return storedKey, nil
}

// Download bypasses the cache.
func (c *CachedAdapter) Download(ctx context.Context, key string) ([]byte, error) {
	return c.inner.Download(ctx, key)
}

// DownloadWithCacheInfo serves cached bytes when fresh, otherwise fetches and
// back-fills using the caller's TTL hint.
func (c *CachedAdapter) DownloadWithCacheInfo(ctx context.Context, key string, ttlHint time.Duration) (CachedDownload, error) {
	c.mu.RLock()
	entry, ok := c.bytes[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return CachedDownload{Bytes: entry.data, CacheHit: true}, nil
	}

	data, err := c.inner.Download(ctx, key)
	if err != nil {
		return CachedDownload{}, err
	}
	if ttlHint > 0 {
		c.mu.Lock()
		c.bytes[key] = byteEntry{data: data, expiresAt: time.Now().Add(ttlHint)}
		c.mu.Unlock()
	}
	return CachedDownload{Bytes: data}, nil
}

// Exists passes through.
func (c *CachedAdapter) Exists(ctx context.Context, key string) (bool, error) {
	return c.inner.Exists(ctx, key)
}

// DeletePrefix passes through and drops matching cached entries.
func (c *CachedAdapter) DeletePrefix(ctx context.Context, prefix string) (PrefixDeletion, error) {
	result, err := c.inner.DeletePrefix(ctx, prefix)
	c.mu.Lock()
	for key := range c.bytes {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.bytes, key)
		}
	}
	c.mu.Unlock()
	return result, err
}

// PresignedUploadURL passes through.
func (c *CachedAdapter) PresignedUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return c.inner.PresignedUploadURL(ctx, key, ttl)
}

// SupportsPresignedURLs passes through.
func (c *CachedAdapter) SupportsPresignedURLs() bool {
	return c.inner.SupportsPresignedURLs()
}

func (c *CachedAdapter) sweepLoop() {
	ticker := time.NewTicker(cachedSweepInterval)
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

func (c *CachedAdapter) cleanup(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.bytes {
		if now.After(entry.expiresAt) {
			delete(c.bytes, key)
		}
	}
}

// Close stops the sweep goroutine.
func (c *CachedAdapter) Close() {
	c.once.Do(func() {
		close(c.stopCh)
	})
}
