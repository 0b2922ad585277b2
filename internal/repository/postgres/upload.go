package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
)

// CreatePendingUpload stores an ephemeral upload record.
func (r *Repository) CreatePendingUpload(ctx context.Context, upload *domain.PendingUpload) error {
	manifest, err := json.Marshal(upload.Manifest)
	if err != nil {
		return err
	}
	const query = `INSERT INTO pending_uploads (token, project_id, repository, commit_sha, branch, base_path, manifest, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.pool.Exec(ctx, query, upload.Token, upload.ProjectID, upload.Repository,
		upload.CommitSHA, upload.Branch, upload.BasePath, manifest, upload.ExpiresAt, upload.CreatedAt)
	return err
}

// GetPendingUpload fetches a pending upload by token.
func (r *Repository) GetPendingUpload(ctx context.Context, token string) (*domain.PendingUpload, error) {
	const query = `SELECT token, project_id, repository, commit_sha, branch, base_path, manifest, expires_at, created_at
		FROM pending_uploads WHERE token = $1`
	var u domain.PendingUpload
	var manifest []byte
	if err := r.pool.QueryRow(ctx, query, token).Scan(&u.Token, &u.ProjectID, &u.Repository,
		&u.CommitSHA, &u.Branch, &u.BasePath, &manifest, &u.ExpiresAt, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if len(manifest) > 0 {
		if err := json.Unmarshal(manifest, &u.Manifest); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

// DeletePendingUpload removes a pending upload after finalize.
func (r *Repository) DeletePendingUpload(ctx context.Context, token string) error {
	const query = `DELETE FROM pending_uploads WHERE token = $1`
	tag, err := r.pool.Exec(ctx, query, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteExpiredUploads sweeps records past their TTL.
func (r *Repository) DeleteExpiredUploads(ctx context.Context, cutoff time.Time) (int, error) {
	const query = `DELETE FROM pending_uploads WHERE expires_at < $1`
	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
