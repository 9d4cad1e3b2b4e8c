package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/acme/product-pipeline/internal/domain/stage"
	"github.com/acme/product-pipeline/internal/persistence"
)

// stageRunsRepo implements StageRunsRepo for PostgreSQL
type stageRunsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStageRunsRepo creates a new PostgreSQL stage-runs repository
func NewStageRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.StageRunsRepo {
	return &stageRunsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Insert adds a new run attempt
func (r *stageRunsRepo) Insert(ctx context.Context, run *stage.Run) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO stage_runs
			(id, candidate_id, stage, status, input_version, input_hash, input_json, output_json, error_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := r.db.QueryRowxContext(ctx, query,
		run.ID, run.CandidateID, run.Stage, run.Status,
		run.InputVersion, run.InputHash,
		nullJSON(run.Input), nullJSON(run.Output), nullJSON(run.Error)).
		Scan(&run.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate stage run: %w", err)
		}
		return fmt.Errorf("failed to insert stage run: %w", err)
	}

	return nil
}

// TryClaim moves a run from its expected status to running. The UPDATE is
// the arbiter: zero rows means a concurrent claimer won and the current
// row is re-read only to report the loss.
func (r *stageRunsRepo) TryClaim(ctx context.Context, id string, expected stage.RunStatus) (*stage.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE stage_runs
		SET status = $3, started_at = NOW()
		WHERE id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, query, id, expected, stage.RunRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to claim stage run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		current, err := r.getByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("stage run not found: %s", id)
		}
		return current, persistence.ErrAlreadyClaimed
	}

	return r.getByID(ctx, id)
}

// Finish records the terminal status with output or error payload
func (r *stageRunsRepo) Finish(ctx context.Context, id string, status stage.RunStatus, output, errJSON []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE stage_runs
		SET status = $2, output_json = $3, error_json = $4, finished_at = NOW()
		WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query, id, status, nullJSON(output), nullJSON(errJSON))
	if err != nil {
		return fmt.Errorf("failed to finish stage run: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("stage run not found: %s", id)
	}

	return nil
}

// LatestSucceeded returns the newest succeeded run for a stage
func (r *stageRunsRepo) LatestSucceeded(ctx context.Context, candidateID string, letter stage.Letter) (*stage.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := selectRun + `
		WHERE candidate_id = $1 AND stage = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1`

	row := r.db.QueryRowxContext(ctx, query, candidateID, letter, stage.RunSucceeded)

	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest succeeded run: %w", err)
	}

	return run, nil
}

// ListByCandidate retrieves a candidate's run history, newest first
func (r *stageRunsRepo) ListByCandidate(ctx context.Context, candidateID string, limit int) ([]stage.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := selectRun + `
		WHERE candidate_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, candidateID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage runs: %w", err)
	}
	defer rows.Close()

	var runs []stage.Run
	for rows.Next() {
		run, err := scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// Helper methods

const selectRun = `
	SELECT id, candidate_id, stage, status, input_version, input_hash,
	       input_json, output_json, error_json, created_at, started_at, finished_at
	FROM stage_runs`

func (r *stageRunsRepo) getByID(ctx context.Context, id string) (*stage.Run, error) {
	row := r.db.QueryRowxContext(ctx, selectRun+` WHERE id = $1`, id)

	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get stage run: %w", err)
	}

	return run, nil
}

func scanRun(row *sqlx.Row) (*stage.Run, error) {
	var run stage.Run
	var input, output, errJSON []byte

	err := row.Scan(
		&run.ID, &run.CandidateID, &run.Stage, &run.Status,
		&run.InputVersion, &run.InputHash,
		&input, &output, &errJSON,
		&run.CreatedAt, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}

	run.Input, run.Output, run.Error = input, output, errJSON
	return &run, nil
}

func scanRunFromRows(rows *sqlx.Rows) (*stage.Run, error) {
	var run stage.Run
	var input, output, errJSON []byte

	err := rows.Scan(
		&run.ID, &run.CandidateID, &run.Stage, &run.Status,
		&run.InputVersion, &run.InputHash,
		&input, &output, &errJSON,
		&run.CreatedAt, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, err
	}

	run.Input, run.Output, run.Error = input, output, errJSON
	return &run, nil
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
