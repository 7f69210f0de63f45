package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/occamlabs/docgateway/internal/job"
	"github.com/occamlabs/docgateway/shared/postgresql"
)

// Postgres implements Store on top of the jobs and job_attempts
// tables (see migrations/0001_jobs.sql).
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres creates a Postgres-backed store.
func NewPostgres(pg *postgresql.Client, logger *slog.Logger) *Postgres {
	return &Postgres{
		db:     pg.GetDB(),
		logger: logger,
	}
}

// jobRow mirrors the jobs table; error columns are nullable.
type jobRow struct {
	job.Record
	ErrMessage sql.NullString `db:"error_message"`
	ErrStage   sql.NullString `db:"error_stage"`
	ErrAttempt sql.NullInt64  `db:"error_attempt"`
}

func (r *jobRow) record() *job.Record {
	rec := r.Record
	if r.ErrMessage.Valid {
		rec.Error = &job.ErrorDetail{
			Message: r.ErrMessage.String,
			Stage:   job.Stage(r.ErrStage.String),
			Attempt: int(r.ErrAttempt.Int64),
		}
	}
	return &rec
}

const jobColumns = `
	job_id, stage, status, attempt, max_retries,
	input_ref, output_ref, error_message, error_stage, error_attempt,
	created_at, updated_at
`

func (s *Postgres) Create(ctx context.Context, rec *job.Record) error {
	query := `
		INSERT INTO jobs (
			job_id, stage, status, attempt, max_retries,
			input_ref, output_ref, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		rec.JobID,
		rec.Stage,
		rec.Status,
		rec.Attempt,
		rec.MaxRetries,
		rec.InputRef,
		rec.OutputRef,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, jobID string) (*job.Record, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_id = $1`

	err := s.db.GetContext(ctx, &row, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.record(), nil
}

func (s *Postgres) List(ctx context.Context, f Filter) ([]job.Record, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if f.Stage != "" {
		query += fmt.Sprintf(" AND stage = $%d", argIdx)
		args = append(args, f.Stage)
		argIdx++
	}

	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, f.Status)
		argIdx++
	}

	if f.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, f.Cursor.CreatedAt, f.Cursor.JobID)
		argIdx += 2
	}

	// Keyset pagination: one extra row tells the caller there is more.
	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, f.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	records := make([]job.Record, len(rows))
	for i := range rows {
		records[i] = *rows[i].record()
	}
	return records, nil
}

func (s *Postgres) Claim(ctx context.Context, jobID string, stage job.Stage) (*job.Record, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    attempt = attempt + 1,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND stage = $3
		  AND status = ANY($4)
		RETURNING ` + jobColumns

	var row jobRow
	err := s.db.QueryRowxContext(
		ctx,
		query,
		job.StatusRunning,
		jobID,
		stage,
		pq.Array([]string{job.StatusPending, job.StatusRetryScheduled}),
	).StructScan(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or terminal",
				slog.String("job_id", jobID),
				slog.String("stage", string(stage)),
			)
			return nil, job.ErrNotClaimable
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	return row.record(), nil
}

// exec runs a conditional update and maps a zero-row result to
// job.ErrStaleOutcome.
func (s *Postgres) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return job.ErrStaleOutcome
	}
	return nil
}

func (s *Postgres) MarkSucceeded(ctx context.Context, jobID string, stage job.Stage, attempt int, outputRef string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    output_ref = $2,
		    updated_at = NOW()
		WHERE job_id = $3
		  AND stage = $4
		  AND attempt = $5
		  AND status = $6
	`
	return s.exec(ctx, query, job.StatusSucceeded, outputRef, jobID, stage, attempt, job.StatusRunning)
}

func (s *Postgres) AdvanceStage(ctx context.Context, jobID string, from, to job.Stage, maxRetries int) error {
	query := `
		UPDATE jobs
		SET stage = $1,
		    status = $2,
		    attempt = 0,
		    max_retries = $3,
		    input_ref = output_ref,
		    output_ref = '',
		    updated_at = NOW()
		WHERE job_id = $4
		  AND stage = $5
		  AND status = $6
	`
	return s.exec(ctx, query, to, job.StatusPending, maxRetries, jobID, from, job.StatusSucceeded)
}

func (s *Postgres) Complete(ctx context.Context, jobID string, stage job.Stage) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND stage = $3
		  AND status = $4
	`
	return s.exec(ctx, query, job.StatusCompleted, jobID, stage, job.StatusSucceeded)
}

func (s *Postgres) ScheduleRetry(ctx context.Context, jobID string, stage job.Stage, attempt int) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND stage = $3
		  AND attempt = $4
		  AND status = $5
	`
	return s.exec(ctx, query, job.StatusRetryScheduled, jobID, stage, attempt, job.StatusRunning)
}

func (s *Postgres) Release(ctx context.Context, jobID string, stage job.Stage) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND stage = $3
		  AND status = $4
	`
	return s.exec(ctx, query, job.StatusPending, jobID, stage, job.StatusRetryScheduled)
}

func (s *Postgres) MarkFailed(ctx context.Context, jobID string, from []string, detail job.ErrorDetail) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    error_message = $2,
		    error_stage = $3,
		    error_attempt = $4,
		    updated_at = NOW()
		WHERE job_id = $5
		  AND status = ANY($6)
	`
	return s.exec(ctx, query, job.StatusFailed, detail.Message, detail.Stage, detail.Attempt, jobID, pq.Array(from))
}

func (s *Postgres) AppendAttempt(ctx context.Context, a *job.Attempt) error {
	query := `
		INSERT INTO job_attempts (
			job_id, stage, attempt, worker_id, outcome,
			error_message, started_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		a.JobID,
		a.Stage,
		a.Attempt,
		a.WorkerID,
		a.Outcome,
		a.ErrMessage,
		a.StartedAt,
		a.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append attempt: %w", err)
	}
	return nil
}

func (s *Postgres) ListAttempts(ctx context.Context, jobID string) ([]job.Attempt, error) {
	query := `
		SELECT job_id, stage, attempt, worker_id, outcome,
		       error_message, started_at, finished_at
		FROM job_attempts
		WHERE job_id = $1
		ORDER BY started_at ASC
	`

	var attempts []job.Attempt
	if err := s.db.SelectContext(ctx, &attempts, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

func (s *Postgres) CountByStage(ctx context.Context) (map[job.Stage]LaneCounts, error) {
	query := `
		SELECT stage, status, COUNT(*) AS n
		FROM jobs
		GROUP BY stage, status
	`

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := map[job.Stage]LaneCounts{
		job.StageOCR:         {},
		job.StageTranslation: {},
	}

	for rows.Next() {
		var stage, status string
		var n int
		if err := rows.Scan(&stage, &status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job counts: %w", err)
		}

		c := counts[job.Stage(stage)]
		switch status {
		case job.StatusPending:
			c.Pending = n
		case job.StatusRunning:
			c.Running = n
		case job.StatusRetryScheduled:
			c.RetryScheduled = n
		case job.StatusFailed:
			c.Failed = n
		case job.StatusCompleted:
			c.Completed = n
		}
		counts[job.Stage(stage)] = c
	}
	return counts, rows.Err()
}
