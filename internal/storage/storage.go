package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates an object is absent from storage.
var ErrNotFound = errors.New("storage: object not found")

// UploadOptions carries metadata stored with the object.
type UploadOptions struct {
	ContentType string
}

// CachedDownload pairs object bytes with cache provenance.
type CachedDownload struct {
	Bytes    []byte
	CacheHit bool
}

// PrefixDeletion aggregates the outcome of a recursive delete; individual
// failures do not abort the batch.
type PrefixDeletion struct {
	Deleted int
	Failed  []string
}

// Adapter abstracts the object store holding deployed files.
type Adapter interface {
	Upload(ctx context.Context, data []byte, key string, opts UploadOptions) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	DownloadWithCacheInfo(ctx context.Context, key string, ttlHint time.Duration) (CachedDownload, error)
	Exists(ctx context.Context, key string) (bool, error)
	DeletePrefix(ctx context.Context, prefix string) (PrefixDeletion, error)
	PresignedUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	SupportsPresignedURLs() bool
}
