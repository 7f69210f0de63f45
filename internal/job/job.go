package job

import (
	"time"
)

// Stage identifies which processing lane a job currently belongs to.
type Stage string

const (
	StageOCR         Stage = "OCR"
	StageTranslation Stage = "TRANSLATION"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s == StageOCR || s == StageTranslation
}

// Next returns the stage a job advances to after succeeding at s.
// The second return value is false for the last stage.
func (s Stage) Next() (Stage, bool) {
	if s == StageOCR {
		return StageTranslation, true
	}
	return "", false
}

// Status values for a job record.
const (
	StatusPending        = "PENDING"
	StatusRunning        = "RUNNING"
	StatusSucceeded      = "SUCCEEDED"
	StatusFailed         = "FAILED"
	StatusRetryScheduled = "RETRY_SCHEDULED"
	StatusCompleted      = "COMPLETED"
)

// Terminal reports whether a job in the given status will never move again.
func Terminal(status string) bool {
	return status == StatusFailed || status == StatusCompleted
}

// Claimable reports whether a worker may take the job in the given status.
func Claimable(status string) bool {
	return status == StatusPending || status == StatusRetryScheduled
}

// ErrorDetail records the cause of a terminal failure.
type ErrorDetail struct {
	Message string `json:"message"`
	Stage   Stage  `json:"stage"`
	Attempt int    `json:"attempt"`
}

// Record is the unit of work tracked by the orchestrator.
// All mutation goes through the orchestrator; workers only ever
// hold a snapshot.
type Record struct {
	JobID      string       `db:"job_id"`
	Stage      Stage        `db:"stage"`
	Status     string       `db:"status"`
	Attempt    int          `db:"attempt"`
	MaxRetries int          `db:"max_retries"`
	InputRef   string       `db:"input_ref"`
	OutputRef  string       `db:"output_ref"`
	Error      *ErrorDetail `db:"-"`
	CreatedAt  time.Time    `db:"created_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
}

// MaxAttempts is the number of executions a stage is allowed:
// the first attempt plus MaxRetries retries.
func (r *Record) MaxAttempts() int {
	return r.MaxRetries + 1
}

// Attempt is one execution of a stage, kept for the per-job history
// exposed by the monitoring surface.
type Attempt struct {
	JobID      string    `db:"job_id"`
	Stage      Stage     `db:"stage"`
	Attempt    int       `db:"attempt"`
	WorkerID   string    `db:"worker_id"`
	Outcome    string    `db:"outcome"`
	ErrMessage string    `db:"error_message"`
	StartedAt  time.Time `db:"started_at"`
	FinishedAt time.Time `db:"finished_at"`
}

// CanTransition reports whether a job record may move from one status
// to another within a stage. Stage advancement re-enters PENDING and is
// validated by the orchestrator separately.
func CanTransition(from, to string) bool {
	if Terminal(from) {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusSucceeded || to == StatusRetryScheduled || to == StatusFailed
	case StatusRetryScheduled:
		return to == StatusPending || to == StatusRunning || to == StatusFailed
	case StatusSucceeded:
		// OCR success re-enters PENDING at the next stage; translation
		// success completes the job.
		return to == StatusPending || to == StatusCompleted
	}
	return false
}
