package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Adapter used in tests and local development.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailDeletes lists keys whose deletion should fail, for exercising
	// aggregate error reporting.
	FailDeletes map[string]bool

	downloads int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

var _ Adapter = (*Memory)(nil)

// Upload stores bytes under key.
func (m *Memory) Upload(ctx context.Context, data []byte, key string, opts UploadOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return key, nil
}

// Download returns stored bytes or ErrNotFound.
func (m *Memory) Download(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	m.downloads++
	data, ok := m.objects[key]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

// DownloadWithCacheInfo never caches at this layer.
func (m *Memory) DownloadWithCacheInfo(ctx context.Context, key string, ttlHint time.Duration) (CachedDownload, error) {
	data, err := m.Download(ctx, key)
	if err != nil {
		return CachedDownload{}, err
	}
	return CachedDownload{Bytes: data}, nil
}

// Exists checks presence.
func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// DeletePrefix removes matching keys, honoring FailDeletes.
func (m *Memory) DeletePrefix(ctx context.Context, prefix string) (PrefixDeletion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := PrefixDeletion{}
	for key := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if m.FailDeletes[key] {
			result.Failed = append(result.Failed, key)
			continue
		}
		delete(m.objects, key)
		result.Deleted++
	}
	return result, nil
}

// PresignedUploadURL is unsupported in memory.
func (m *Memory) PresignedUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "", errors.New("memory storage does not support presigned URLs")
}

// SupportsPresignedURLs reports false.
func (m *Memory) SupportsPresignedURLs() bool {
	return false
}

// Downloads reports how many Download calls were made, for test assertions.
func (m *Memory) Downloads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.downloads
}
