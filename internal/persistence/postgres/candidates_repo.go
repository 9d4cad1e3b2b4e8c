package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/acme/product-pipeline/internal/domain/lead"
	"github.com/acme/product-pipeline/internal/persistence"
)

// candidatesRepo implements CandidatesRepo for PostgreSQL
type candidatesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCandidatesRepo creates a new PostgreSQL candidates repository
func NewCandidatesRepo(db *sqlx.DB, timeout time.Duration) persistence.CandidatesRepo {
	return &candidatesRepo{
		db:      db,
		timeout: timeout,
	}
}

// Insert adds a candidate created at promotion time
func (r *candidatesRepo) Insert(ctx context.Context, c *lead.Candidate) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO candidates (id, lead_id, fingerprint, stage_status, decision, decision_reason)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''))`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.LeadID, c.Fingerprint, c.StageStatus, c.Decision, c.DecisionReason)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate candidate: %w", err)
		}
		return fmt.Errorf("failed to insert candidate: %w", err)
	}

	return nil
}

// GetByID fetches one candidate, nil when absent
func (r *candidatesRepo) GetByID(ctx context.Context, id string) (*lead.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := selectCandidate + ` WHERE id = $1`

	var c lead.Candidate
	if err := r.db.GetContext(ctx, &c, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get candidate: %w", err)
	}

	return &c, nil
}

// List retrieves candidates matching the filter, newest first
func (r *candidatesRepo) List(ctx context.Context, f persistence.CandidateFilter) ([]lead.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var conds []string
	var args []interface{}
	if f.StageStatus != "" {
		args = append(args, f.StageStatus)
		conds = append(conds, fmt.Sprintf("stage_status = $%d", len(args)))
	}
	if f.Decision != "" {
		args = append(args, f.Decision)
		conds = append(conds, fmt.Sprintf("decision = $%d", len(args)))
	}

	query := selectCandidate
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	var candidates []lead.Candidate
	if err := r.db.SelectContext(ctx, &candidates, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}

	return candidates, nil
}

// UpdateStageStatus advances the candidate's stage marker
func (r *candidatesRepo) UpdateStageStatus(ctx context.Context, id, stageStatus string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE candidates SET stage_status = $2 WHERE id = $1`, id, stageStatus)
	if err != nil {
		return fmt.Errorf("failed to update stage status: %w", err)
	}

	return requireRow(res, id)
}

// SetDecision records the terminal SCALE/KILL/REJECTED call
func (r *candidatesRepo) SetDecision(ctx context.Context, id, decision, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE candidates SET decision = $2, decision_reason = NULLIF($3, '') WHERE id = $1`,
		id, decision, reason)
	if err != nil {
		return fmt.Errorf("failed to set decision: %w", err)
	}

	return requireRow(res, id)
}

// CountPromotedSince returns promotions at or after the cutoff
func (r *candidatesRepo) CountPromotedSince(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM candidates WHERE created_at >= $1`, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count promotions: %w", err)
	}

	return count, nil
}

// FingerprintsExist reports which fingerprints already belong to a promoted
// candidate. A blank fingerprint never matches anything.
func (r *candidatesRepo) FingerprintsExist(ctx context.Context, fingerprints []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(fingerprints))
	distinct := make([]string, 0, len(fingerprints))
	for _, fp := range fingerprints {
		if fp == "" || seen[fp] {
			continue
		}
		seen[fp] = true
		distinct = append(distinct, fp)
	}
	if len(distinct) == 0 {
		return map[string]bool{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT fingerprint FROM candidates WHERE fingerprint = ANY($1)`

	rows, err := r.db.QueryxContext(ctx, query, pq.Array(distinct))
	if err != nil {
		return nil, fmt.Errorf("failed to query fingerprints: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, len(distinct))
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		found[fp] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return found, nil
}

const selectCandidate = `
	SELECT id, lead_id,
	       COALESCE(fingerprint, '') AS fingerprint,
	       stage_status,
	       COALESCE(decision, '') AS decision,
	       COALESCE(decision_reason, '') AS decision_reason
	FROM candidates`

func requireRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("candidate not found: %s", id)
	}
	return nil
}
