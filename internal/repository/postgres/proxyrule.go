package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
)

// CreateRuleSet inserts a proxy rule set.
func (r *Repository) CreateRuleSet(ctx context.Context, set *domain.ProxyRuleSet) error {
	const query = `INSERT INTO proxy_rule_sets (id, project_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, set.ID, set.ProjectID, set.Name, set.CreatedAt, set.UpdatedAt)
	return err
}

// GetRuleSet fetches a rule set by identifier.
func (r *Repository) GetRuleSet(ctx context.Context, ruleSetID string) (*domain.ProxyRuleSet, error) {
	const query = `SELECT id, project_id, name, created_at, updated_at FROM proxy_rule_sets WHERE id = $1`
	var set domain.ProxyRuleSet
	if err := r.pool.QueryRow(ctx, query, ruleSetID).Scan(&set.ID, &set.ProjectID, &set.Name, &set.CreatedAt, &set.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &set, nil
}

// ListRulesByRuleSet returns ordered rules of one rule set.
func (r *Repository) ListRulesByRuleSet(ctx context.Context, ruleSetID string) ([]domain.ProxyRule, error) {
	const query = `SELECT id, rule_set_id, path_pattern, target_url, auth_type, auth_header_name, auth_header_value, position, created_at, updated_at
		FROM proxy_rules WHERE rule_set_id = $1 ORDER BY position`
	rows, err := r.pool.Query(ctx, query, ruleSetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]domain.ProxyRule, 0)
	for rows.Next() {
		var rule domain.ProxyRule
		var authType, headerName, headerValue *string
		if err := rows.Scan(&rule.ID, &rule.RuleSetID, &rule.PathPattern, &rule.TargetURL,
			&authType, &headerName, &headerValue, &rule.Position, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		if authType != nil {
			rule.AuthTransform = &domain.AuthTransform{Type: *authType}
			if headerName != nil {
				rule.AuthTransform.HeaderName = *headerName
			}
			if headerValue != nil {
				rule.AuthTransform.HeaderValue = *headerValue
			}
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// GetRule fetches a single proxy rule.
func (r *Repository) GetRule(ctx context.Context, ruleID string) (*domain.ProxyRule, error) {
	const query = `SELECT id, rule_set_id, path_pattern, target_url, auth_type, auth_header_name, auth_header_value, position, created_at, updated_at
		FROM proxy_rules WHERE id = $1`
	var rule domain.ProxyRule
	var authType, headerName, headerValue *string
	if err := r.pool.QueryRow(ctx, query, ruleID).Scan(&rule.ID, &rule.RuleSetID, &rule.PathPattern,
		&rule.TargetURL, &authType, &headerName, &headerValue, &rule.Position, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if authType != nil {
		rule.AuthTransform = &domain.AuthTransform{Type: *authType}
		if headerName != nil {
			rule.AuthTransform.HeaderName = *headerName
		}
		if headerValue != nil {
			rule.AuthTransform.HeaderValue = *headerValue
		}
	}
	return &rule, nil
}

func authTransformColumns(rule *domain.ProxyRule) (authType, headerName, headerValue *string) {
	if rule.AuthTransform == nil {
		return nil, nil, nil
	}
	t := rule.AuthTransform
	authType = &t.Type
	if t.HeaderName != "" {
		headerName = &t.HeaderName
	}
	if t.HeaderValue != "" {
		headerValue = &t.HeaderValue
	}
	return authType, headerName, headerValue
}

// CreateRule inserts a proxy rule.
func (r *Repository) CreateRule(ctx context.Context, rule *domain.ProxyRule) error {
	authType, headerName, headerValue := authTransformColumns(rule)
	const query = `INSERT INTO proxy_rules (id, rule_set_id, path_pattern, target_url, auth_type, auth_header_name, auth_header_value, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query, rule.ID, rule.RuleSetID, rule.PathPattern, rule.TargetURL,
		authType, headerName, headerValue, rule.Position, rule.CreatedAt, rule.UpdatedAt)
	return err
}

// UpdateRule persists mutable rule fields.
func (r *Repository) UpdateRule(ctx context.Context, rule *domain.ProxyRule) error {
	authType, headerName, headerValue := authTransformColumns(rule)
	const query = `UPDATE proxy_rules SET
			path_pattern = $2, target_url = $3, auth_type = $4, auth_header_name = $5,
			auth_header_value = $6, position = $7, updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, rule.ID, rule.PathPattern, rule.TargetURL,
		authType, headerName, headerValue, rule.Position)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule.
func (r *Repository) DeleteRule(ctx context.Context, ruleID string) error {
	const query = `DELETE FROM proxy_rules WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, ruleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ReorderRules rewrites rule positions to match the provided order.
func (r *Repository) ReorderRules(ctx context.Context, ruleSetID string, orderedRuleIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const query = `UPDATE proxy_rules SET position = $3, updated_at = NOW()
		WHERE id = $1 AND rule_set_id = $2`
	for i, id := range orderedRuleIDs {
		tag, err := tx.Exec(ctx, query, id, ruleSetID, i)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotFound
		}
	}
	return tx.Commit(ctx)
}
