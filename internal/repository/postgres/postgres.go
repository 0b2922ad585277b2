package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository   = (*Repository)(nil)
	_ repository.AssetRepository     = (*Repository)(nil)
	_ repository.AliasRepository     = (*Repository)(nil)
	_ repository.DomainRepository    = (*Repository)(nil)
	_ repository.TrafficRepository   = (*Repository)(nil)
	_ repository.ProxyRuleRepository = (*Repository)(nil)
	_ repository.UploadRepository    = (*Repository)(nil)
)

// CreateProject inserts a project.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (id, owner, name, is_public, unauthorized_behavior, required_role, default_proxy_rule_set_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, query, project.ID, project.Owner, project.Name, project.IsPublic,
		project.UnauthorizedBehavior, project.RequiredRole, project.DefaultProxyRuleSetID,
		project.CreatedAt, project.UpdatedAt)
	return err
}

const projectColumns = `id, owner, name, is_public, unauthorized_behavior, required_role, default_proxy_rule_set_id, created_at, updated_at`

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Owner, &p.Name, &p.IsPublic, &p.UnauthorizedBehavior,
		&p.RequiredRole, &p.DefaultProxyRuleSetID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, projectID string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`
	return scanProject(r.pool.QueryRow(ctx, query, projectID))
}

// GetProjectByOwnerName fetches a project by its public (owner, name) pair.
func (r *Repository) GetProjectByOwnerName(ctx context.Context, owner, name string) (*domain.Project, error) {
	const query = `SELECT ` + projectColumns + ` FROM projects WHERE owner = $1 AND name = $2`
	return scanProject(r.pool.QueryRow(ctx, query, owner, name))
}

// UpdateProjectAccess persists access-control settings.
func (r *Repository) UpdateProjectAccess(ctx context.Context, project *domain.Project) error {
	const query = `UPDATE projects
		SET is_public = $2, unauthorized_behavior = $3, required_role = $4, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, project.ID, project.IsPublic, project.UnauthorizedBehavior, project.RequiredRole)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetProjectDefaultRuleSet points the project at a default proxy rule set.
func (r *Repository) SetProjectDefaultRuleSet(ctx context.Context, projectID string, ruleSetID *string) error {
	const query = `UPDATE projects SET default_proxy_rule_set_id = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, projectID, ruleSetID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
