package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/occamlabs/docgateway/internal/job"
	"github.com/occamlabs/docgateway/internal/orchestrator"
	"github.com/occamlabs/docgateway/internal/queue"
	"github.com/occamlabs/docgateway/internal/stage"
)

// executorLoop is the main processing loop of one executor slot.
func (w *Worker) executorLoop(ctx context.Context, lane string, slot int, deliveries <-chan queue.Delivery) {
	defer w.wg.Done()

	executorName := fmt.Sprintf("%s-%s-%d", w.workerID, lane, slot)
	w.logger.Info("Executor started",
		slog.String("executor", executorName),
		slog.String("lane", lane),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Executor stopping - stopChan closed",
				slog.String("executor", executorName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Executor stopping - context canceled",
				slog.String("executor", executorName),
			)
			return

		case d, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Executor stopping - delivery channel closed",
					slog.String("executor", executorName),
				)
				return
			}
			w.handleDelivery(ctx, lane, executorName, d)
		}
	}
}

// handleDelivery runs the claim-execute-report cycle for one delivery.
func (w *Worker) handleDelivery(ctx context.Context, lane, executorName string, d queue.Delivery) {
	rec, err := w.orch.Claim(ctx, d.JobID, lane)
	if err != nil {
		if errors.Is(err, job.ErrNotClaimable) {
			// Another worker holds (or held) this job, or the job is
			// terminal. The at-least-once transport redelivered; consume
			// the duplicate without executing.
			w.logger.Warn("Discarding unclaimable delivery",
				slog.String("executor", executorName),
				slog.String("job_id", d.JobID),
			)
			w.ack(d, executorName)
			return
		}

		// Store unreachable: leave the message for redelivery.
		w.logger.Error("Failed to claim job",
			slog.String("executor", executorName),
			slog.String("job_id", d.JobID),
			slog.String("error", err.Error()),
		)
		w.nack(d, executorName, true)
		return
	}

	outcome := w.execute(ctx, rec, executorName)

	if err := w.orch.OnOutcome(ctx, outcome); err != nil {
		if errors.Is(err, job.ErrStaleOutcome) {
			w.ack(d, executorName)
			return
		}
		w.logger.Error("Failed to report outcome",
			slog.String("executor", executorName),
			slog.String("job_id", rec.JobID),
			slog.String("error", err.Error()),
		)
		// The claim stands in the store; redelivery resolves it once the
		// store is reachable again.
		w.nack(d, executorName, true)
		return
	}

	w.ack(d, executorName)
}

// execute runs the stage's processing function under the stage
// deadline and converts every failure mode, including panics and
// timeouts, into a FAILED outcome.
func (w *Worker) execute(ctx context.Context, rec *job.Record, executorName string) *orchestrator.Outcome {
	outcome := &orchestrator.Outcome{
		JobID:     rec.JobID,
		Stage:     rec.Stage,
		Attempt:   rec.Attempt,
		WorkerID:  executorName,
		StartedAt: time.Now(),
	}

	processor, err := w.processors.Get(rec.Stage)
	if err != nil {
		outcome.Err = err
		outcome.FinishedAt = time.Now()
		return outcome
	}

	input, err := w.results.Get(ctx, rec.InputRef)
	if err != nil {
		outcome.Err = fmt.Errorf("failed to load input artifact %s: %w", rec.InputRef, err)
		outcome.FinishedAt = time.Now()
		return outcome
	}

	timeout := w.orch.Policy(rec.Stage).Timeout
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	w.logger.Info("Executing stage",
		slog.String("executor", executorName),
		slog.String("job_id", rec.JobID),
		slog.String("stage", string(rec.Stage)),
		slog.Int("attempt", rec.Attempt),
		slog.Duration("timeout", timeout),
	)

	out, err := runProcessor(jobCtx, processor, &stage.Input{
		JobID:    rec.JobID,
		Ref:      rec.InputRef,
		Artifact: input,
	})

	outcome.FinishedAt = time.Now()
	switch {
	case err == nil:
		outcome.Artifact = out.Artifact
	case jobCtx.Err() != nil && errors.Is(err, context.DeadlineExceeded):
		outcome.Err = fmt.Errorf("stage timed out after %s: %w", timeout, err)
	default:
		outcome.Err = err
	}
	return outcome
}

// runProcessor isolates the processing function so an uncaught fault
// is reported like any other failure instead of killing the executor.
func runProcessor(ctx context.Context, p stage.Processor, in *stage.Input) (out *stage.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("stage execution panicked: %v", r)
		}
	}()
	return p.Process(ctx, in)
}

func (w *Worker) ack(d queue.Delivery, executorName string) {
	if err := d.Ack(); err != nil {
		w.logger.Error("Failed to ACK delivery",
			slog.String("executor", executorName),
			slog.String("job_id", d.JobID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) nack(d queue.Delivery, executorName string, requeue bool) {
	if err := d.Nack(requeue); err != nil {
		w.logger.Error("Failed to NACK delivery",
			slog.String("executor", executorName),
			slog.String("job_id", d.JobID),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
	}
}
