// Package store persists job records. All state transitions are
// conditional updates keyed on the current status (and, where it
// matters, the stage and attempt), so concurrent workers and duplicate
// deliveries resolve to exactly one winner without a lock service.
package store

import (
	"context"
	"time"

	"github.com/occamlabs/docgateway/internal/job"
)

// Filter selects job records for listing.
type Filter struct {
	Stage    string
	Status   string
	PageSize int
	Cursor   *Cursor
}

// Cursor is the keyset pagination position: (created_at, job_id)
// descending.
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

// LaneCounts summarizes one stage for the monitoring surface.
type LaneCounts struct {
	Pending        int `json:"pending"`
	Running        int `json:"running"`
	RetryScheduled int `json:"retry_scheduled"`
	Failed         int `json:"failed"`
	Completed      int `json:"completed"`
}

// Store is the job record store. Methods that express a transition
// return job.ErrStaleOutcome when the conditional update matched no
// row, except Claim which returns job.ErrNotClaimable.
type Store interface {
	Create(ctx context.Context, rec *job.Record) error
	Get(ctx context.Context, jobID string) (*job.Record, error)
	List(ctx context.Context, f Filter) ([]job.Record, error)

	// Claim atomically moves a PENDING or RETRY_SCHEDULED record at the
	// given stage to RUNNING and increments its attempt counter. This is
	// the at-most-one-concurrent-execution gate.
	Claim(ctx context.Context, jobID string, stage job.Stage) (*job.Record, error)

	// MarkSucceeded moves RUNNING -> SUCCEEDED for the given stage and
	// attempt, recording the output reference.
	MarkSucceeded(ctx context.Context, jobID string, stage job.Stage, attempt int, outputRef string) error

	// AdvanceStage moves a SUCCEEDED record into PENDING at the next
	// stage: the previous output becomes the new input and the attempt
	// counter resets.
	AdvanceStage(ctx context.Context, jobID string, from, to job.Stage, maxRetries int) error

	// Complete moves SUCCEEDED at the final stage to COMPLETED.
	Complete(ctx context.Context, jobID string, stage job.Stage) error

	// ScheduleRetry moves RUNNING -> RETRY_SCHEDULED for the given stage
	// and attempt.
	ScheduleRetry(ctx context.Context, jobID string, stage job.Stage, attempt int) error

	// Release moves RETRY_SCHEDULED back to PENDING when the backoff
	// delay elapses and the job is re-enqueued.
	Release(ctx context.Context, jobID string, stage job.Stage) error

	// MarkFailed moves a record in one of the from statuses to terminal
	// FAILED with the error detail.
	MarkFailed(ctx context.Context, jobID string, from []string, detail job.ErrorDetail) error

	AppendAttempt(ctx context.Context, a *job.Attempt) error
	ListAttempts(ctx context.Context, jobID string) ([]job.Attempt, error)

	// CountByStage reports per-stage status counts for the monitoring
	// surface.
	CountByStage(ctx context.Context) (map[job.Stage]LaneCounts, error)
}
