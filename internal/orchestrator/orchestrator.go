// Package orchestrator owns every job record transition. Workers and
// the API never mutate records directly: submissions, claims, outcome
// reports, and cancellations all funnel through here, serialized per
// job and backed by the store's conditional updates.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/occamlabs/docgateway/internal/job"
	"github.com/occamlabs/docgateway/internal/monitor"
	"github.com/occamlabs/docgateway/internal/queue"
	"github.com/occamlabs/docgateway/internal/result"
	"github.com/occamlabs/docgateway/internal/store"
)

// StagePolicy holds the retry and deadline parameters of one stage.
type StagePolicy struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Timeout     time.Duration
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Store     store.Store
	Results   result.Store
	Transport queue.Transport
	Logger    *slog.Logger
	Policies  map[job.Stage]StagePolicy
}

// Outcome is a worker's report for one stage execution.
type Outcome struct {
	JobID      string
	Stage      job.Stage
	Attempt    int
	WorkerID   string
	Artifact   *result.Artifact // set on success
	Err        error            // set on failure
	StartedAt  time.Time
	FinishedAt time.Time
}

// Orchestrator routes jobs through the two-stage pipeline.
type Orchestrator struct {
	store     store.Store
	results   result.Store
	transport queue.Transport
	logger    *slog.Logger
	policies  map[job.Stage]StagePolicy

	locks shardedLocks

	// schedule defers a function; tests substitute a synchronous hook.
	schedule func(delay time.Duration, fn func())
}

// New creates an orchestrator. Policies must cover every stage.
func New(cfg *Config) (*Orchestrator, error) {
	for _, s := range []job.Stage{job.StageOCR, job.StageTranslation} {
		if _, ok := cfg.Policies[s]; !ok {
			return nil, fmt.Errorf("missing stage policy for %s", s)
		}
	}

	o := &Orchestrator{
		store:     cfg.Store,
		results:   cfg.Results,
		transport: cfg.Transport,
		logger:    cfg.Logger,
		policies:  cfg.Policies,
	}
	o.schedule = func(delay time.Duration, fn func()) {
		time.AfterFunc(delay, fn)
	}
	return o, nil
}

// LaneFor maps a stage to its transport lane.
func LaneFor(s job.Stage) string {
	if s == job.StageTranslation {
		return queue.LaneTranslation
	}
	return queue.LaneOCR
}

// StageFor maps a transport lane to its stage.
func StageFor(lane string) (job.Stage, error) {
	switch lane {
	case queue.LaneOCR:
		return job.StageOCR, nil
	case queue.LaneTranslation:
		return job.StageTranslation, nil
	}
	return "", fmt.Errorf("%w: %s", queue.ErrUnknownLane, lane)
}

// Policy returns the retry/deadline parameters of a stage.
func (o *Orchestrator) Policy(s job.Stage) StagePolicy {
	return o.policies[s]
}

// Submit stores the document, creates the job record at OCR/PENDING,
// enqueues the OCR lane, and returns the job ID. The caller gets an
// error only when the submission cannot be durably recorded or the
// transport stays unreachable through bounded retry.
func (o *Orchestrator) Submit(ctx context.Context, doc *result.Artifact) (string, error) {
	jobID := uuid.New().String()
	ref := result.SourceRef(jobID)

	if err := o.results.Put(ctx, ref, doc); err != nil {
		return "", fmt.Errorf("failed to store submitted document: %w", err)
	}

	now := time.Now()
	rec := &job.Record{
		JobID:      jobID,
		Stage:      job.StageOCR,
		Status:     job.StatusPending,
		MaxRetries: o.policies[job.StageOCR].MaxRetries,
		InputRef:   ref,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := o.store.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to record job: %w", err)
	}

	if err := o.transport.Enqueue(ctx, queue.LaneOCR, jobID); err != nil {
		detail := job.ErrorDetail{
			Message: fmt.Sprintf("enqueue failed: %s", err),
			Stage:   job.StageOCR,
		}
		if failErr := o.store.MarkFailed(ctx, jobID, []string{job.StatusPending}, detail); failErr != nil {
			o.logger.Error("Failed to mark unenqueued job as failed",
				slog.String("job_id", jobID),
				slog.String("error", failErr.Error()),
			)
		}
		return "", err
	}

	monitor.JobsSubmittedTotal.Inc()
	o.logger.Info("Job submitted",
		slog.String("job_id", jobID),
		slog.Int("document_size", len(doc.Data)),
	)
	return jobID, nil
}

// Claim performs the status-checked claim for a delivered job
// reference. A claim racing another worker or arriving after a
// terminal transition returns job.ErrNotClaimable; the caller
// acknowledges the delivery without executing.
func (o *Orchestrator) Claim(ctx context.Context, jobID string, lane string) (*job.Record, error) {
	s, err := StageFor(lane)
	if err != nil {
		return nil, err
	}

	mu := o.locks.lock(jobID)
	defer mu.Unlock()

	rec, err := o.store.Claim(ctx, jobID, s)
	if err != nil {
		if errors.Is(err, job.ErrNotClaimable) {
			monitor.DiscardedClaimsTotal.WithLabelValues(lane).Inc()
		}
		return nil, err
	}

	o.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("stage", string(rec.Stage)),
		slog.Int("attempt", rec.Attempt),
	)
	return rec, nil
}

// OnOutcome is the single mutation entry point for worker reports.
// Stale or duplicate reports return job.ErrStaleOutcome, which callers
// treat as a no-op and acknowledge.
func (o *Orchestrator) OnOutcome(ctx context.Context, out *Outcome) error {
	mu := o.locks.lock(out.JobID)
	defer mu.Unlock()

	rec, err := o.store.Get(ctx, out.JobID)
	if err != nil {
		return err
	}

	if job.Terminal(rec.Status) || rec.Stage != out.Stage ||
		rec.Attempt != out.Attempt || rec.Status != job.StatusRunning {
		monitor.StaleOutcomesTotal.Inc()
		o.logger.Warn("Ignoring stale or duplicate outcome",
			slog.String("job_id", out.JobID),
			slog.String("reported_stage", string(out.Stage)),
			slog.Int("reported_attempt", out.Attempt),
			slog.String("current_status", rec.Status),
			slog.Int("current_attempt", rec.Attempt),
		)
		return job.ErrStaleOutcome
	}

	o.recordAttempt(ctx, out)

	if out.Err == nil {
		return o.onSucceeded(ctx, rec, out)
	}
	return o.onFailed(ctx, rec, out)
}

func (o *Orchestrator) recordAttempt(ctx context.Context, out *Outcome) {
	outcome := job.StatusSucceeded
	errMsg := ""
	if out.Err != nil {
		outcome = job.StatusFailed
		errMsg = out.Err.Error()
	}

	attempt := &job.Attempt{
		JobID:      out.JobID,
		Stage:      out.Stage,
		Attempt:    out.Attempt,
		WorkerID:   out.WorkerID,
		Outcome:    outcome,
		ErrMessage: errMsg,
		StartedAt:  out.StartedAt,
		FinishedAt: out.FinishedAt,
	}
	if err := o.store.AppendAttempt(ctx, attempt); err != nil {
		o.logger.Error("Failed to record attempt history",
			slog.String("job_id", out.JobID),
			slog.String("error", err.Error()),
		)
	}

	duration := out.FinishedAt.Sub(out.StartedAt).Seconds()
	monitor.StageDuration.WithLabelValues(LaneFor(out.Stage), outcome).Observe(duration)
}

func (o *Orchestrator) onSucceeded(ctx context.Context, rec *job.Record, out *Outcome) error {
	next, hasNext := rec.Stage.Next()

	var ref string
	if hasNext {
		ref = result.StageRef(rec.JobID, string(rec.Stage))
	} else {
		ref = result.ResultRef(rec.JobID)
	}

	if err := o.results.Put(ctx, ref, out.Artifact); err != nil {
		// The work is done but the artifact is gone; surface as a
		// processing failure so the retry policy reruns the stage.
		o.logger.Error("Failed to store stage output",
			slog.String("job_id", rec.JobID),
			slog.String("error", err.Error()),
		)
		out.Err = fmt.Errorf("failed to store stage output: %w", err)
		return o.onFailed(ctx, rec, out)
	}

	if err := o.store.MarkSucceeded(ctx, rec.JobID, rec.Stage, rec.Attempt, ref); err != nil {
		if errors.Is(err, job.ErrStaleOutcome) {
			monitor.StaleOutcomesTotal.Inc()
			return err
		}
		return err
	}

	if !hasNext {
		if err := o.store.Complete(ctx, rec.JobID, rec.Stage); err != nil {
			return err
		}
		monitor.JobsCompletedTotal.Inc()
		o.logger.Info("Job completed",
			slog.String("job_id", rec.JobID),
			slog.String("result_ref", ref),
		)
		return nil
	}

	// Stage advance happens exactly once: the SUCCEEDED precondition
	// can only be consumed by one AdvanceStage.
	if err := o.store.AdvanceStage(ctx, rec.JobID, rec.Stage, next, o.policies[next].MaxRetries); err != nil {
		return err
	}

	if err := o.transport.Enqueue(ctx, LaneFor(next), rec.JobID); err != nil {
		detail := job.ErrorDetail{
			Message: fmt.Sprintf("enqueue failed: %s", err),
			Stage:   next,
		}
		if failErr := o.store.MarkFailed(ctx, rec.JobID, []string{job.StatusPending}, detail); failErr != nil {
			o.logger.Error("Failed to mark unroutable job as failed",
				slog.String("job_id", rec.JobID),
				slog.String("error", failErr.Error()),
			)
		}
		return err
	}

	o.logger.Info("Job advanced to next stage",
		slog.String("job_id", rec.JobID),
		slog.String("stage", string(next)),
	)
	return nil
}

func (o *Orchestrator) onFailed(ctx context.Context, rec *job.Record, out *Outcome) error {
	policy := o.policies[rec.Stage]

	if rec.Attempt < rec.MaxAttempts() {
		if err := o.store.ScheduleRetry(ctx, rec.JobID, rec.Stage, rec.Attempt); err != nil {
			return err
		}

		delay := backoffDelay(policy.BackoffBase, policy.BackoffMax, rec.Attempt)
		monitor.RetriesScheduledTotal.WithLabelValues(LaneFor(rec.Stage)).Inc()
		o.logger.Warn("Stage failed, retry scheduled",
			slog.String("job_id", rec.JobID),
			slog.String("stage", string(rec.Stage)),
			slog.Int("attempt", rec.Attempt),
			slog.Duration("backoff", delay),
			slog.String("error", out.Err.Error()),
		)

		jobID, s := rec.JobID, rec.Stage
		o.schedule(delay, func() {
			o.releaseRetry(jobID, s)
		})
		return nil
	}

	detail := job.ErrorDetail{
		Message: out.Err.Error(),
		Stage:   rec.Stage,
		Attempt: rec.Attempt,
	}
	if err := o.store.MarkFailed(ctx, rec.JobID, []string{job.StatusRunning}, detail); err != nil {
		return err
	}

	monitor.JobsFailedTotal.WithLabelValues(LaneFor(rec.Stage)).Inc()
	o.logger.Error("Job failed terminally",
		slog.String("job_id", rec.JobID),
		slog.String("stage", string(rec.Stage)),
		slog.Int("attempts", rec.Attempt),
		slog.String("error", out.Err.Error()),
	)
	return nil
}

// releaseRetry moves a RETRY_SCHEDULED job back to PENDING once its
// backoff elapses and re-enqueues it on its lane.
func (o *Orchestrator) releaseRetry(jobID string, s job.Stage) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mu := o.locks.lock(jobID)
	defer mu.Unlock()

	if err := o.store.Release(ctx, jobID, s); err != nil {
		// Canceled in the meantime, or already released.
		o.logger.Debug("Retry release skipped",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := o.transport.Enqueue(ctx, LaneFor(s), jobID); err != nil {
		detail := job.ErrorDetail{
			Message: fmt.Sprintf("retry enqueue failed: %s", err),
			Stage:   s,
		}
		if failErr := o.store.MarkFailed(ctx, jobID, []string{job.StatusPending}, detail); failErr != nil {
			o.logger.Error("Failed to mark unroutable retry as failed",
				slog.String("job_id", jobID),
				slog.String("error", failErr.Error()),
			)
		}
		return
	}

	o.logger.Info("Retry released",
		slog.String("job_id", jobID),
		slog.String("stage", string(s)),
	)
}

// Cancel marks a job that has not started its current attempt as
// FAILED with a cancellation detail. A RUNNING job cannot be canceled
// and may still complete normally.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	mu := o.locks.lock(jobID)
	defer mu.Unlock()

	rec, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	detail := job.ErrorDetail{
		Message: "canceled by caller",
		Stage:   rec.Stage,
		Attempt: rec.Attempt,
	}
	err = o.store.MarkFailed(ctx, jobID, []string{job.StatusPending, job.StatusRetryScheduled}, detail)
	if errors.Is(err, job.ErrStaleOutcome) {
		return job.ErrNotCancelable
	}
	if err != nil {
		return err
	}

	monitor.JobsFailedTotal.WithLabelValues(LaneFor(rec.Stage)).Inc()
	o.logger.Info("Job canceled",
		slog.String("job_id", jobID),
		slog.String("stage", string(rec.Stage)),
	)
	return nil
}

// Status returns a read-only snapshot of a job record.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*job.Record, error) {
	return o.store.Get(ctx, jobID)
}

// History returns the attempt log of a job.
func (o *Orchestrator) History(ctx context.Context, jobID string) ([]job.Attempt, error) {
	if _, err := o.store.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return o.store.ListAttempts(ctx, jobID)
}

// Result fetches the final artifact of a COMPLETED job.
func (o *Orchestrator) Result(ctx context.Context, jobID string) (*result.Artifact, error) {
	rec, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if rec.Status != job.StatusCompleted {
		return nil, result.ErrNotFound
	}
	return o.results.Get(ctx, result.ResultRef(jobID))
}

// LaneStats is the monitoring surface's per-lane view.
type LaneStats struct {
	Lane     string           `json:"lane"`
	Depth    int              `json:"depth"`
	InFlight int              `json:"in_flight"`
	Counts   store.LaneCounts `json:"counts"`
}

// Stats assembles lane depth and status counts and refreshes the
// corresponding gauges.
func (o *Orchestrator) Stats(ctx context.Context) ([]LaneStats, error) {
	counts, err := o.store.CountByStage(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]LaneStats, 0, 2)
	for _, s := range []job.Stage{job.StageOCR, job.StageTranslation} {
		lane := LaneFor(s)
		depth, err := o.transport.Depth(ctx, lane)
		if err != nil {
			o.logger.Warn("Failed to read lane depth",
				slog.String("lane", lane),
				slog.String("error", err.Error()),
			)
			depth = -1
		}

		c := counts[s]
		stats = append(stats, LaneStats{
			Lane:     lane,
			Depth:    depth,
			InFlight: c.Running,
			Counts:   c,
		})

		if depth >= 0 {
			monitor.LaneDepth.WithLabelValues(lane).Set(float64(depth))
		}
		monitor.JobsInFlight.WithLabelValues(lane).Set(float64(c.Running))
	}
	return stats, nil
}
