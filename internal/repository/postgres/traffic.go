package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/bffless/bffless/internal/domain"
	"github.com/bffless/bffless/internal/repository"
)

// GetTrafficSplit loads the traffic split and its weight rows for a domain.
func (r *Repository) GetTrafficSplit(ctx context.Context, domainID string) (*domain.TrafficSplit, error) {
	const splitQuery = `SELECT domain_id, sticky_sessions_enabled, sticky_session_duration
		FROM traffic_splits WHERE domain_id = $1`
	var split domain.TrafficSplit
	if err := r.pool.QueryRow(ctx, splitQuery, domainID).Scan(&split.DomainID, &split.StickySessionsEnabled, &split.StickySessionDuration); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	const weightQuery = `SELECT domain_id, alias, weight, position
		FROM traffic_weights WHERE domain_id = $1 ORDER BY position`
	rows, err := r.pool.Query(ctx, weightQuery, domainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var w domain.TrafficWeight
		if err := rows.Scan(&w.DomainID, &w.Alias, &w.Weight, &w.Position); err != nil {
			return nil, err
		}
		split.Weights = append(split.Weights, w)
	}
	return &split, rows.Err()
}

// ReplaceTrafficSplit swaps the whole split configuration atomically.
func (r *Repository) ReplaceTrafficSplit(ctx context.Context, split *domain.TrafficSplit) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const upsertSplit = `INSERT INTO traffic_splits (domain_id, sticky_sessions_enabled, sticky_session_duration)
		VALUES ($1, $2, $3)
		ON CONFLICT (domain_id) DO UPDATE SET
			sticky_sessions_enabled = EXCLUDED.sticky_sessions_enabled,
			sticky_session_duration = EXCLUDED.sticky_session_duration`
	if _, err := tx.Exec(ctx, upsertSplit, split.DomainID, split.StickySessionsEnabled, split.StickySessionDuration); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM traffic_weights WHERE domain_id = $1`, split.DomainID); err != nil {
		return err
	}
	const insertWeight = `INSERT INTO traffic_weights (domain_id, alias, weight, position)
		VALUES ($1, $2, $3, $4)`
	for i, w := range split.Weights {
		if _, err := tx.Exec(ctx, insertWeight, split.DomainID, w.Alias, w.Weight, i); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// DeleteTrafficSplit disables traffic splitting for a domain.
func (r *Repository) DeleteTrafficSplit(ctx context.Context, domainID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM traffic_weights WHERE domain_id = $1`, domainID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM traffic_splits WHERE domain_id = $1`, domainID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
