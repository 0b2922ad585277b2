package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
)

const aliasColumns = `id, project_id, name, commit_sha, deployment_id, is_auto_preview, base_path, proxy_rule_set_id, is_public, unauthorized_behavior, required_role, created_at, updated_at`

func scanAlias(row pgx.Row) (*domain.Alias, error) {
	var a domain.Alias
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Name, &a.CommitSHA, &a.DeploymentID,
		&a.IsAutoPreview, &a.BasePath, &a.ProxyRuleSetID, &a.IsPublic,
		&a.UnauthorizedBehavior, &a.RequiredRole, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repository) listAliases(ctx context.Context, query string, args ...any) ([]domain.Alias, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aliases := make([]domain.Alias, 0)
	for rows.Next() {
		alias, err := scanAlias(rows)
		if err != nil {
			return nil, err
		}
		aliases = append(aliases, *alias)
	}
	return aliases, rows.Err()
}

// CreateAlias inserts an explicitly named alias.
func (r *Repository) CreateAlias(ctx context.Context, alias *domain.Alias) error {
	const query = `INSERT INTO aliases (id, project_id, name, commit_sha, deployment_id, is_auto_preview, base_path, proxy_rule_set_id, is_public, unauthorized_behavior, required_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.pool.Exec(ctx, query, alias.ID, alias.ProjectID, alias.Name, alias.CommitSHA,
		alias.DeploymentID, alias.IsAutoPreview, alias.BasePath, alias.ProxyRuleSetID,
		alias.IsPublic, alias.UnauthorizedBehavior, alias.RequiredRole, alias.CreatedAt, alias.UpdatedAt)
	return err
}

// UpsertPreviewAlias inserts a deterministic preview alias, re-pointing the
// existing row when the same commit+basePath is uploaded again.
func (r *Repository) UpsertPreviewAlias(ctx context.Context, alias *domain.Alias) error {
	const query = `INSERT INTO aliases (id, project_id, name, commit_sha, deployment_id, is_auto_preview, base_path, proxy_rule_set_id, is_public, unauthorized_behavior, required_role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (project_id, name) DO UPDATE SET
			commit_sha = EXCLUDED.commit_sha,
			deployment_id = EXCLUDED.deployment_id,
			base_path = EXCLUDED.base_path,
			updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, alias.ID, alias.ProjectID, alias.Name, alias.CommitSHA,
		alias.DeploymentID, alias.BasePath, alias.ProxyRuleSetID, alias.IsPublic,
		alias.UnauthorizedBehavior, alias.RequiredRole, alias.CreatedAt, alias.UpdatedAt)
	return err
}

// GetAlias fetches an alias by project and name.
func (r *Repository) GetAlias(ctx context.Context, projectID, name string) (*domain.Alias, error) {
	const query = `SELECT ` + aliasColumns + ` FROM aliases WHERE project_id = $1 AND name = $2`
	return scanAlias(r.pool.QueryRow(ctx, query, projectID, name))
}

// GetAliasByID fetches an alias by identifier.
func (r *Repository) GetAliasByID(ctx context.Context, aliasID string) (*domain.Alias, error) {
	const query = `SELECT ` + aliasColumns + ` FROM aliases WHERE id = $1`
	return scanAlias(r.pool.QueryRow(ctx, query, aliasID))
}

// ListAliasesByProject returns all aliases of a project.
func (r *Repository) ListAliasesByProject(ctx context.Context, projectID string) ([]domain.Alias, error) {
	const query = `SELECT ` + aliasColumns + ` FROM aliases WHERE project_id = $1 ORDER BY name`
	return r.listAliases(ctx, query, projectID)
}

// ListAliasesByCommit returns aliases currently pointing at a commit.
func (r *Repository) ListAliasesByCommit(ctx context.Context, projectID, commitSHA string) ([]domain.Alias, error) {
	const query = `SELECT ` + aliasColumns + ` FROM aliases WHERE project_id = $1 AND commit_sha = $2 ORDER BY name`
	return r.listAliases(ctx, query, projectID, commitSHA)
}

// ListAliasesByRuleSet returns aliases whose proxy rule set override matches.
func (r *Repository) ListAliasesByRuleSet(ctx context.Context, ruleSetID string) ([]domain.Alias, error) {
	const query = `SELECT ` + aliasColumns + ` FROM aliases WHERE proxy_rule_set_id = $1 ORDER BY project_id, name`
	return r.listAliases(ctx, query, ruleSetID)
}

// RepointAlias moves an alias to a new commit.
func (r *Repository) RepointAlias(ctx context.Context, aliasID, commitSHA, deploymentID string) error {
	const query = `UPDATE aliases SET commit_sha = $2, deployment_id = $3, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, aliasID, commitSHA, deploymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetAliasRuleSet changes the alias's proxy rule set override.
func (r *Repository) SetAliasRuleSet(ctx context.Context, aliasID string, ruleSetID *string) error {
	const query = `UPDATE aliases SET proxy_rule_set_id = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, aliasID, ruleSetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteAlias removes an alias row.
func (r *Repository) DeleteAlias(ctx context.Context, aliasID string) error {
	const query = `DELETE FROM aliases WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, aliasID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
