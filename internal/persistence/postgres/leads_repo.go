package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/acme/product-pipeline/internal/domain/lead"
	"github.com/acme/product-pipeline/internal/persistence"
)

// leadsRepo implements LeadsRepo for PostgreSQL
type leadsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewLeadsRepo creates a new PostgreSQL leads repository
func NewLeadsRepo(db *sqlx.DB, timeout time.Duration) persistence.LeadsRepo {
	return &leadsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Insert adds a new lead record
func (r *leadsRepo) Insert(ctx context.Context, l *lead.Lead) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO leads (id, source, title, url, price_cents, fingerprint, duplicate_of, status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)`

	_, err := r.db.ExecContext(ctx, query,
		l.ID, l.Source, l.Title, l.URL, l.PriceCents,
		l.Fingerprint, l.DuplicateOf, l.Status)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate lead: %w", err)
		}
		return fmt.Errorf("failed to insert lead: %w", err)
	}

	return nil
}

// GetByID fetches one lead, nil when absent
func (r *leadsRepo) GetByID(ctx context.Context, id string) (*lead.Lead, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, source, title, url, price_cents,
		       COALESCE(fingerprint, '') AS fingerprint,
		       COALESCE(duplicate_of, '') AS duplicate_of,
		       status
		FROM leads
		WHERE id = $1`

	var l lead.Lead
	if err := r.db.GetContext(ctx, &l, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}

	return &l, nil
}

// ListByStatus retrieves leads in a lifecycle state, newest first
func (r *leadsRepo) ListByStatus(ctx context.Context, status lead.Status, limit int) ([]lead.Lead, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, source, title, url, price_cents,
		       COALESCE(fingerprint, '') AS fingerprint,
		       COALESCE(duplicate_of, '') AS duplicate_of,
		       status
		FROM leads
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var leads []lead.Lead
	if err := r.db.SelectContext(ctx, &leads, query, status, limit); err != nil {
		return nil, fmt.Errorf("failed to list leads by status: %w", err)
	}

	return leads, nil
}

// UpdateTriage writes the triage outcome back onto the lead
func (r *leadsRepo) UpdateTriage(ctx context.Context, id string, status lead.Status, fingerprint, duplicateOf string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE leads
		SET status = $2, fingerprint = NULLIF($3, ''), duplicate_of = NULLIF($4, '')
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, status, fingerprint, duplicateOf)
	if err != nil {
		return fmt.Errorf("failed to update lead triage: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("lead not found: %s", id)
	}

	return nil
}
