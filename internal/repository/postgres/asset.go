package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
)

const assetColumns = `id, project_id, commit_sha, public_path, storage_key, mime_type, size_bytes, content_hash, deployment_id, branch, committed_at, created_at`

func scanAsset(row pgx.Row) (*domain.Asset, error) {
	var a domain.Asset
	if err := row.Scan(&a.ID, &a.ProjectID, &a.CommitSHA, &a.PublicPath, &a.StorageKey,
		&a.MimeType, &a.Size, &a.ContentHash, &a.DeploymentID, &a.Branch, &a.CommittedAt, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// UpsertAsset inserts an asset or refreshes it when the same commit is re-uploaded.
func (r *Repository) UpsertAsset(ctx context.Context, asset *domain.Asset) error {
	const query = `INSERT INTO assets (id, project_id, commit_sha, public_path, storage_key, mime_type, size_bytes, content_hash, deployment_id, branch, committed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (project_id, commit_sha, public_path) DO UPDATE SET
			storage_key = EXCLUDED.storage_key,
			mime_type = EXCLUDED.mime_type,
			size_bytes = EXCLUDED.size_bytes,
			content_hash = EXCLUDED.content_hash,
			deployment_id = EXCLUDED.deployment_id,
			branch = EXCLUDED.branch,
			committed_at = EXCLUDED.committed_at`
	_, err := r.pool.Exec(ctx, query, asset.ID, asset.ProjectID, asset.CommitSHA, asset.PublicPath,
		asset.StorageKey, asset.MimeType, asset.Size, asset.ContentHash, asset.DeploymentID,
		asset.Branch, asset.CommittedAt, asset.CreatedAt)
	return err
}

// GetAsset fetches one file of a deployed commit.
func (r *Repository) GetAsset(ctx context.Context, projectID, commitSHA, publicPath string) (*domain.Asset, error) {
	const query = `SELECT ` + assetColumns + ` FROM assets
		WHERE project_id = $1 AND commit_sha = $2 AND public_path = $3`
	return scanAsset(r.pool.QueryRow(ctx, query, projectID, commitSHA, publicPath))
}

// GetLatestAsset returns the most recently created asset for a project.
func (r *Repository) GetLatestAsset(ctx context.Context, projectID string) (*domain.Asset, error) {
	const query = `SELECT ` + assetColumns + ` FROM assets
		WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`
	return scanAsset(r.pool.QueryRow(ctx, query, projectID))
}

// ListAssetsByCommit returns every file of one deployed commit.
func (r *Repository) ListAssetsByCommit(ctx context.Context, projectID, commitSHA string) ([]domain.Asset, error) {
	const query = `SELECT ` + assetColumns + ` FROM assets
		WHERE project_id = $1 AND commit_sha = $2 ORDER BY public_path`
	rows, err := r.pool.Query(ctx, query, projectID, commitSHA)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := make([]domain.Asset, 0)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, rows.Err()
}

// DeleteAssetsByCommit removes all asset rows of a commit and reports the count.
func (r *Repository) DeleteAssetsByCommit(ctx context.Context, projectID, commitSHA string) (int, error) {
	const query = `DELETE FROM assets WHERE project_id = $1 AND commit_sha = $2`
	tag, err := r.pool.Exec(ctx, query, projectID, commitSHA)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
