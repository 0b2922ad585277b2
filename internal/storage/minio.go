package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIO stores objects in an S3-compatible bucket.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO connects to the object store and ensures the bucket exists.
func NewMinIO(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinIO, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinIO{client: client, bucket: bucket}, nil
}

var _ Adapter = (*MinIO)(nil)

// Upload stores an object and returns its key.
func (m *MinIO) Upload(ctx context.Context, data []byte, key string, opts UploadOptions) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

// Download fetches the full object body.
func (m *MinIO) Download(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// DownloadWithCacheInfo fetches bytes; the raw adapter never caches, so the
// result is always a miss. Wrap with NewCachedAdapter for the hot path.
func (m *MinIO) DownloadWithCacheInfo(ctx context.Context, key string, ttlHint time.Duration) (CachedDownload, error) {
	data, err := m.Download(ctx, key)
	if err != nil {
		return CachedDownload{}, err
	}
	return CachedDownload{Bytes: data}, nil
}

// Exists checks object presence without downloading.
func (m *MinIO) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeletePrefix removes every object under prefix, continuing past individual
// failures and reporting them in aggregate.
func (m *MinIO) DeletePrefix(ctx context.Context, prefix string) (PrefixDeletion, error) {
	result := PrefixDeletion{}
	objects := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			result.Failed = append(result.Failed, prefix)
			continue
		}
		if err := m.client.RemoveObject(ctx, m.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			result.Failed = append(result.Failed, obj.Key)
			continue
		}
		result.Deleted++
	}
	return result, nil
}

// PresignedUploadURL issues a presigned PUT URL for direct client uploads.
func (m *MinIO) PresignedUploadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := m.client.PresignedPutObject(ctx, m.bucket, key, ttl)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

// SupportsPresignedURLs reports presign capability.
func (m *MinIO) SupportsPresignedURLs() bool {
	return true
}
