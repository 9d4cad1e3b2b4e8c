package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/acme/product-pipeline/internal/domain/scenario"
	"github.com/acme/product-pipeline/internal/persistence"
)

// priorsRepo implements PriorsRepo for PostgreSQL
type priorsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPriorsRepo creates a new PostgreSQL velocity-priors repository
func NewPriorsRepo(db *sqlx.DB, timeout time.Duration) persistence.PriorsRepo {
	return &priorsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Upsert inserts or refreshes the prior for a fingerprint (one row per
// fingerprint/source pair)
func (r *priorsRepo) Upsert(ctx context.Context, fingerprint string, p *scenario.VelocityPrior) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO velocity_priors
			(fingerprint, source, velocity_per_day, units_sold_total, max_day, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), $6)
		ON CONFLICT (fingerprint, source) DO UPDATE SET
			velocity_per_day = EXCLUDED.velocity_per_day,
			units_sold_total = EXCLUDED.units_sold_total,
			max_day = EXCLUDED.max_day,
			created_at = NOW(),
			expires_at = EXCLUDED.expires_at`

	_, err := r.db.ExecContext(ctx, query,
		fingerprint, p.Source, p.VelocityPerDay, p.UnitsSoldTotal, p.MaxDay, p.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to upsert velocity prior: %w", err)
	}

	return nil
}

// LatestByFingerprint returns the newest prior across sources
func (r *priorsRepo) LatestByFingerprint(ctx context.Context, fingerprint string) (*scenario.VelocityPrior, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT source, velocity_per_day, units_sold_total, max_day, created_at, expires_at
		FROM velocity_priors
		WHERE fingerprint = $1
		ORDER BY created_at DESC
		LIMIT 1`

	var p scenario.VelocityPrior
	err := r.db.QueryRowxContext(ctx, query, fingerprint).Scan(
		&p.Source, &p.VelocityPerDay, &p.UnitsSoldTotal, &p.MaxDay, &p.CreatedAt, &p.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get velocity prior: %w", err)
	}

	return &p, nil
}
