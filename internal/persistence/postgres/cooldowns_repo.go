package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/acme/product-pipeline/internal/domain/cooldown"
	"github.com/acme/product-pipeline/internal/persistence"
)

// cooldownsRepo implements CooldownsRepo for PostgreSQL
type cooldownsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCooldownsRepo creates a new PostgreSQL cooldowns repository
func NewCooldownsRepo(db *sqlx.DB, timeout time.Duration) persistence.CooldownsRepo {
	return &cooldownsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Insert adds a cooldown record
func (r *cooldownsRepo) Insert(ctx context.Context, rec *cooldown.Record) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO cooldowns
			(id, fingerprint, severity, recheck_after, reason_code, what_would_change, snapshot_json)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING created_at`

	err := r.db.QueryRowxContext(ctx, query,
		rec.ID, rec.Fingerprint, rec.Severity, rec.RecheckAfter,
		rec.ReasonCode, rec.WhatWouldChange, nullJSON(rec.Snapshot)).
		Scan(&rec.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert cooldown: %w", err)
	}

	return nil
}

// LatestByFingerprint returns the newest record for a fingerprint
func (r *cooldownsRepo) LatestByFingerprint(ctx context.Context, fingerprint string) (*cooldown.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := selectCooldown + `
		WHERE fingerprint = $1
		ORDER BY created_at DESC
		LIMIT 1`

	row := r.db.QueryRowxContext(ctx, query, fingerprint)

	rec, err := scanCooldown(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cooldown: %w", err)
	}

	return rec, nil
}

// LatestByFingerprints batches LatestByFingerprint. A fingerprint with no
// record is simply absent from the result.
func (r *cooldownsRepo) LatestByFingerprints(ctx context.Context, fingerprints []string) (map[string]*cooldown.Record, error) {
	if len(fingerprints) == 0 {
		return map[string]*cooldown.Record{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT DISTINCT ON (fingerprint)
		       id, fingerprint, severity, recheck_after, reason_code,
		       COALESCE(what_would_change, '') AS what_would_change,
		       snapshot_json, created_at
		FROM cooldowns
		WHERE fingerprint = ANY($1)
		ORDER BY fingerprint, created_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, pq.Array(fingerprints))
	if err != nil {
		return nil, fmt.Errorf("failed to query cooldowns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*cooldown.Record)
	for rows.Next() {
		rec, err := scanCooldownFromRows(rows)
		if err != nil {
			return nil, err
		}
		out[rec.Fingerprint] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

// ListActive retrieves records still in effect at now
func (r *cooldownsRepo) ListActive(ctx context.Context, now time.Time, limit int) ([]cooldown.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := selectCooldown + `
		WHERE severity = $1 OR recheck_after > $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, cooldown.SeverityPermanent, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list active cooldowns: %w", err)
	}
	defer rows.Close()

	var recs []cooldown.Record
	for rows.Next() {
		rec, err := scanCooldownFromRows(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return recs, nil
}

// Helper methods

const selectCooldown = `
	SELECT id, fingerprint, severity, recheck_after, reason_code,
	       COALESCE(what_would_change, '') AS what_would_change,
	       snapshot_json, created_at
	FROM cooldowns`

func scanCooldown(row *sqlx.Row) (*cooldown.Record, error) {
	var rec cooldown.Record
	var snapshot []byte

	err := row.Scan(
		&rec.ID, &rec.Fingerprint, &rec.Severity, &rec.RecheckAfter,
		&rec.ReasonCode, &rec.WhatWouldChange, &snapshot, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	rec.Snapshot = snapshot
	return &rec, nil
}

func scanCooldownFromRows(rows *sqlx.Rows) (*cooldown.Record, error) {
	var rec cooldown.Record
	var snapshot []byte

	err := rows.Scan(
		&rec.ID, &rec.Fingerprint, &rec.Severity, &rec.RecheckAfter,
		&rec.ReasonCode, &rec.WhatWouldChange, &snapshot, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	rec.Snapshot = snapshot
	return &rec, nil
}
