package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
	"github.com/bffless/bffless/internal/storage"
	"github.com/bffless/bffless/pkg/config"
)

const testSHA = "abc1234def5678abc1234def5678abc1234def56"

type stubUploadRepo struct {
	pending map[string]domain.PendingUpload
	purged  int
}

func (s *stubUploadRepo) CreatePendingUpload(ctx context.Context, upload *domain.PendingUpload) error {
	s.pending[upload.Token] = *upload
	return nil
}
func (s *stubUploadRepo) GetPendingUpload(ctx context.Context, token string) (*domain.PendingUpload, error) {
	if u, ok := s.pending[token]; ok {
		upload := u
		return &upload, nil
	}
	return nil, repository.ErrNotFound
}
func (s *stubUploadRepo) DeletePendingUpload(ctx context.Context, token string) error {
	delete(s.pending, token)
	return nil
}
func (s *stubUploadRepo) DeleteExpiredUploads(ctx context.Context, cutoff time.Time) (int, error) {
	for token, u := range s.pending {
		if u.ExpiresAt.Before(cutoff) {
			delete(s.pending, token)
			s.purged++
		}
	}
	return s.purged, nil
}

type stubAssetRepo struct {
	upserted []domain.Asset
}

func (s *stubAssetRepo) UpsertAsset(ctx context.Context, asset *domain.Asset) error {
	s.upserted = append(s.upserted, *asset)
	return nil
}
func (s *stubAssetRepo) GetAsset(ctx context.Context, projectID, commitSHA, publicPath string) (*domain.Asset, error) {
	return nil, repository.ErrNotFound
}
func (s *stubAssetRepo) GetLatestAsset(ctx context.Context, projectID string) (*domain.Asset, error) {
	return nil, repository.ErrNotFound
}
func (s *stubAssetRepo) ListAssetsByCommit(ctx context.Context, projectID, commitSHA string) ([]domain.Asset, error) {
	return nil, nil
}
func (s *stubAssetRepo) DeleteAssetsByCommit(ctx context.Context, projectID, commitSHA string) (int, error) {
	return 0, nil
}

type stubPreview struct {
	calls int
}

func (s *stubPreview) EnsurePreviewAlias(ctx context.Context, projectID, repoFullName, commitSHA, deploymentID, basePath string) (*domain.Alias, error) {
	s.calls++
	return &domain.Alias{ProjectID: projectID, Name: "abc123-repo-aaaa-bbbb", CommitSHA: commitSHA, IsAutoPreview: true}, nil
}

func newTestService(uploads *stubUploadRepo, assets *stubAssetRepo, preview *stubPreview) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.APIConfig{
		PendingUploadTTL:  30 * time.Minute,
		StoragePresignTTL: 15 * time.Minute,
	}
	return New(uploads, assets, preview, storage.NewMemory(), nil, logger, cfg)
}

func manifest() []domain.ManifestEntry {
	return []domain.ManifestEntry{
		{PublicPath: "index.html", MimeType: "text/html", Size: 10, ContentHash: "aaaa"},
		{PublicPath: "app.js", MimeType: "application/javascript", Size: 20, ContentHash: "bbbb"},
	}
}

func TestCreatePendingIssuesOpaqueToken(t *testing.T) {
	uploads := &stubUploadRepo{pending: make(map[string]domain.PendingUpload)}
	svc := newTestService(uploads, &stubAssetRepo{}, &stubPreview{})

	pending, err := svc.CreatePending(context.Background(), "p1", "owner/repo", testSHA, "main", "/", manifest())
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if !regexp.MustCompile(`^[a-f0-9]{64}$`).MatchString(pending.Token) {
		t.Errorf("token %q is not 32 random bytes hex-encoded", pending.Token)
	}
	if _, ok := uploads.pending[pending.Token]; !ok {
		t.Error("pending record was not stored")
	}
	// The memory adapter has no presigned URLs; none may be fabricated.
	if len(pending.UploadURLs) != 0 {
		t.Errorf("expected no upload URLs, got %d", len(pending.UploadURLs))
	}
}

func TestCreatePendingRejectsEmptyManifest(t *testing.T) {
	uploads := &stubUploadRepo{pending: make(map[string]domain.PendingUpload)}
	svc := newTestService(uploads, &stubAssetRepo{}, &stubPreview{})

	if _, err := svc.CreatePending(context.Background(), "p1", "owner/repo", testSHA, "main", "/", nil); err == nil {
		t.Fatal("expected empty manifest to be rejected")
	}
}

func TestFinalizeUpsertsAssetsAndPreviewAlias(t *testing.T) {
	uploads := &stubUploadRepo{pending: make(map[string]domain.PendingUpload)}
	assets := &stubAssetRepo{}
	preview := &stubPreview{}
	svc := newTestService(uploads, assets, preview)

	pending, err := svc.CreatePending(context.Background(), "p1", "owner/repo", testSHA, "main", "/", manifest())
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	alias, err := svc.Finalize(context.Background(), pending.Token)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !alias.IsAutoPreview {
		t.Error("finalize must yield the preview alias")
	}
	if len(assets.upserted) != 2 {
		t.Fatalf("expected 2 asset upserts, got %d", len(assets.upserted))
	}
	want := "p1/" + testSHA + "/index.html"
	if assets.upserted[0].StorageKey != want {
		t.Errorf("expected storage key %q, got %q", want, assets.upserted[0].StorageKey)
	}
	if preview.calls != 1 {
		t.Errorf("expected one preview upsert, got %d", preview.calls)
	}
	if _, ok := uploads.pending[pending.Token]; ok {
		t.Error("pending record must be deleted after finalize")
	}
}

func TestFinalizeExpiredToken(t *testing.T) {
	uploads := &stubUploadRepo{pending: make(map[string]domain.PendingUpload)}
	svc := newTestService(uploads, &stubAssetRepo{}, &stubPreview{})

	uploads.pending["tok"] = domain.PendingUpload{
		Token:     "tok",
		ProjectID: "p1",
		CommitSHA: testSHA,
		Manifest:  manifest(),
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}
	_, err := svc.Finalize(context.Background(), "tok")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not-found for expired token, got %v", err)
	}
	if _, ok := uploads.pending["tok"]; ok {
		t.Error("expired record must be discarded")
	}
}

func TestPurgeExpired(t *testing.T) {
	uploads := &stubUploadRepo{pending: make(map[string]domain.PendingUpload)}
	svc := newTestService(uploads, &stubAssetRepo{}, &stubPreview{})

	uploads.pending["old"] = domain.PendingUpload{Token: "old", ExpiresAt: time.Now().UTC().Add(-time.Hour)}
	uploads.pending["fresh"] = domain.PendingUpload{Token: "fresh", ExpiresAt: time.Now().UTC().Add(time.Hour)}

	count, err := svc.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 purged record, got %d", count)
	}
	if _, ok := uploads.pending["fresh"]; !ok {
		t.Error("unexpired record must survive the sweep")
	}
}
