// Package upload implements the presigned-URL ingestion flow: a pending
// record is created with upload targets, the client pushes files directly to
// storage, and finalize turns the manifest into asset rows plus a preview
// alias.
package upload

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
	aliassvc "github.com/bffless/bffless/internal/service/alias"
	"github.com/bffless/bffless/internal/storage"
	"github.com/bffless/bffless/internal/ws"
	"github.com/bffless/bffless/pkg/config"
)

// PreviewEnsurer upserts the deterministic preview alias after finalize.
type PreviewEnsurer interface {
	EnsurePreviewAlias(ctx context.Context, projectID, repoFullName, commitSHA, deploymentID, basePath string) (*domain.Alias, error)
}

var _ PreviewEnsurer = (*aliassvc.Service)(nil)

// Pending is the response to a pending-upload request: the token identifying
// it and one upload URL per manifest entry when the store supports presigned
// PUTs.
type Pending struct {
	Token      string            `json:"token"`
	ExpiresAt  time.Time         `json:"expires_at"`
	UploadURLs map[string]string `json:"upload_urls,omitempty"`
}

// Service manages ephemeral pending uploads.
type Service struct {
	uploads repository.UploadRepository
	assets  repository.AssetRepository
	preview PreviewEnsurer
	store   storage.Adapter
	hub     *ws.Hub
	logger  *slog.Logger
	cfg     config.APIConfig
}

// New wires the upload service.
func New(uploads repository.UploadRepository, assets repository.AssetRepository, preview PreviewEnsurer, store storage.Adapter, hub *ws.Hub, logger *slog.Logger, cfg config.APIConfig) *Service {
	return &Service{
		uploads: uploads,
		assets:  assets,
		preview: preview,
		store:   store,
		hub:     hub,
		logger:  logger,
		cfg:     cfg,
	}
}

// CreatePending registers an upload intent and hands back presigned targets.
func (s *Service) CreatePending(ctx context.Context, projectID, repoFullName, commitSHA, branch, basePath string, manifest []domain.ManifestEntry) (*Pending, error) {
	if len(manifest) == 0 {
		return nil, fmt.Errorf("manifest is empty")
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	pending := &domain.PendingUpload{
		Token:      token,
		ProjectID:  projectID,
		Repository: repoFullName,
		CommitSHA:  commitSHA,
		Branch:     branch,
		BasePath:   basePath,
		Manifest:   manifest,
		ExpiresAt:  time.Now().UTC().Add(s.cfg.PendingUploadTTL),
	}
	if err := s.uploads.CreatePendingUpload(ctx, pending); err != nil {
		return nil, fmt.Errorf("create pending upload: %w", err)
	}

	result := &Pending{Token: token, ExpiresAt: pending.ExpiresAt}
	if s.store.SupportsPresignedURLs() {
		result.UploadURLs = make(map[string]string, len(manifest))
		for _, entry := range manifest {
			key := aliassvc.StoragePrefix(projectID, commitSHA) + entry.PublicPath
			url, err := s.store.PresignedUploadURL(ctx, key, s.cfg.StoragePresignTTL)
			if err != nil {
				return nil, fmt.Errorf("presign %s: %w", entry.PublicPath, err)
			}
			result.UploadURLs[entry.PublicPath] = url
		}
	}
	return result, nil
}

// Finalize turns a completed upload into asset rows and the commit's preview
// alias, then discards the pending record. Re-finalizing the same commit
// upserts rather than duplicates.
func (s *Service) Finalize(ctx context.Context, token string) (*domain.Alias, error) {
	pending, err := s.uploads.GetPendingUpload(ctx, token)
	if err != nil {
		return nil, err
	}
	if time.Now().UTC().After(pending.ExpiresAt) {
		_ = s.uploads.DeletePendingUpload(ctx, token)
		return nil, repository.ErrNotFound
	}

	deploymentID := "dep-" + pending.CommitSHA[:minInt(12, len(pending.CommitSHA))]
	committedAt := time.Now().UTC()
	for _, entry := range pending.Manifest {
		asset := &domain.Asset{
			ID:           uuid.NewString(),
			ProjectID:    pending.ProjectID,
			CommitSHA:    pending.CommitSHA,
			PublicPath:   entry.PublicPath,
			StorageKey:   aliassvc.StoragePrefix(pending.ProjectID, pending.CommitSHA) + entry.PublicPath,
			MimeType:     entry.MimeType,
			Size:         entry.Size,
			ContentHash:  entry.ContentHash,
			DeploymentID: deploymentID,
			Branch:       pending.Branch,
			CommittedAt:  committedAt,
			CreatedAt:    committedAt,
		}
		if err := s.assets.UpsertAsset(ctx, asset); err != nil {
			return nil, fmt.Errorf("upsert asset %s: %w", entry.PublicPath, err)
		}
	}

	alias, err := s.preview.EnsurePreviewAlias(ctx, pending.ProjectID, pending.Repository, pending.CommitSHA, deploymentID, pending.BasePath)
	if err != nil {
		return nil, err
	}

	if err := s.uploads.DeletePendingUpload(ctx, token); err != nil {
		s.logger.Warn("pending upload cleanup failed", "token", token, "error", err)
	}

	if s.hub != nil {
		s.hub.Publish(pending.ProjectID, domain.DeployEvent{
			ProjectID: pending.ProjectID,
			Kind:      domain.EventDeploymentFinalized,
			Alias:     alias.Name,
			CommitSHA: pending.CommitSHA,
			CreatedAt: time.Now().UTC(),
		})
	}
	return alias, nil
}

// PurgeExpired removes pending records past their deadline. Called on a
// schedule from main.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	count, err := s.uploads.DeleteExpiredUploads(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("purged expired pending uploads", "count", count)
	}
	return count, nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate upload token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
