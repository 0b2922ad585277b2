package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
)

const domainColumns = `id, host, project_id, alias_name, path, domain_type, redirect_target, is_primary, www_behavior, ssl_enabled, is_public, unauthorized_behavior, required_role, is_active, created_at, updated_at`

func scanDomain(row pgx.Row) (*domain.DomainMapping, error) {
	var d domain.DomainMapping
	if err := row.Scan(&d.ID, &d.Host, &d.ProjectID, &d.AliasName, &d.Path, &d.DomainType,
		&d.RedirectTarget, &d.IsPrimary, &d.WWWBehavior, &d.SSLEnabled, &d.IsPublic,
		&d.UnauthorizedBehavior, &d.RequiredRole, &d.IsActive, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *Repository) listDomains(ctx context.Context, query string, args ...any) ([]domain.DomainMapping, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	mappings := make([]domain.DomainMapping, 0)
	for rows.Next() {
		mapping, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, *mapping)
	}
	return mappings, rows.Err()
}

// CreateDomain inserts a domain mapping.
func (r *Repository) CreateDomain(ctx context.Context, mapping *domain.DomainMapping) error {
	const query = `INSERT INTO domain_mappings (id, host, project_id, alias_name, path, domain_type, redirect_target, is_primary, www_behavior, ssl_enabled, is_public, unauthorized_behavior, required_role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.pool.Exec(ctx, query, mapping.ID, mapping.Host, mapping.ProjectID, mapping.AliasName,
		mapping.Path, mapping.DomainType, mapping.RedirectTarget, mapping.IsPrimary, mapping.WWWBehavior,
		mapping.SSLEnabled, mapping.IsPublic, mapping.UnauthorizedBehavior, mapping.RequiredRole,
		mapping.IsActive, mapping.CreatedAt, mapping.UpdatedAt)
	return err
}

// GetDomainByHost fetches a mapping by hostname.
func (r *Repository) GetDomainByHost(ctx context.Context, host string) (*domain.DomainMapping, error) {
	const query = `SELECT ` + domainColumns + ` FROM domain_mappings WHERE host = $1`
	return scanDomain(r.pool.QueryRow(ctx, query, host))
}

// GetDomainByID fetches a mapping by identifier.
func (r *Repository) GetDomainByID(ctx context.Context, domainID string) (*domain.DomainMapping, error) {
	const query = `SELECT ` + domainColumns + ` FROM domain_mappings WHERE id = $1`
	return scanDomain(r.pool.QueryRow(ctx, query, domainID))
}

// ListActiveDomainsByProject returns active mappings owned by a project.
func (r *Repository) ListActiveDomainsByProject(ctx context.Context, projectID string) ([]domain.DomainMapping, error) {
	const query = `SELECT ` + domainColumns + ` FROM domain_mappings
		WHERE project_id = $1 AND is_active ORDER BY host`
	return r.listDomains(ctx, query, projectID)
}

// ListActiveDomainsByAlias returns active mappings bound to one alias.
func (r *Repository) ListActiveDomainsByAlias(ctx context.Context, projectID, aliasName string) ([]domain.DomainMapping, error) {
	const query = `SELECT ` + domainColumns + ` FROM domain_mappings
		WHERE project_id = $1 AND alias_name = $2 AND is_active ORDER BY host`
	return r.listDomains(ctx, query, projectID, aliasName)
}

// UpdateDomain persists mutable mapping fields.
func (r *Repository) UpdateDomain(ctx context.Context, mapping *domain.DomainMapping) error {
	const query = `UPDATE domain_mappings SET
			alias_name = $2, path = $3, domain_type = $4, redirect_target = $5, is_primary = $6,
			www_behavior = $7, ssl_enabled = $8, is_public = $9, unauthorized_behavior = $10,
			required_role = $11, is_active = $12, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, mapping.ID, mapping.AliasName, mapping.Path, mapping.DomainType,
		mapping.RedirectTarget, mapping.IsPrimary, mapping.WWWBehavior, mapping.SSLEnabled,
		mapping.IsPublic, mapping.UnauthorizedBehavior, mapping.RequiredRole, mapping.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteDomain removes a mapping.
func (r *Repository) DeleteDomain(ctx context.Context, domainID string) error {
	const query = `DELETE FROM domain_mappings WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, domainID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListPathRedirects returns redirect rules for a domain ordered by priority.
func (r *Repository) ListPathRedirects(ctx context.Context, domainID string) ([]domain.PathRedirect, error) {
	const query = `SELECT id, domain_id, from_path, to_path, status_code, priority, created_at
		FROM path_redirects WHERE domain_id = $1 ORDER BY priority, from_path`
	rows, err := r.pool.Query(ctx, query, domainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	redirects := make([]domain.PathRedirect, 0)
	for rows.Next() {
		var pr domain.PathRedirect
		if err := rows.Scan(&pr.ID, &pr.DomainID, &pr.FromPath, &pr.ToPath, &pr.StatusCode, &pr.Priority, &pr.CreatedAt); err != nil {
			return nil, err
		}
		redirects = append(redirects, pr)
	}
	return redirects, rows.Err()
}
