// Package worker runs the lane consumer pools. Each executor pulls a
// delivery, performs the status-checked claim through the
// orchestrator, runs the stage's processing function under the stage
// deadline, and reports the outcome. Faults and timeouts become
// FAILED outcomes; a job is never silently dropped.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/occamlabs/docgateway/internal/orchestrator"
	"github.com/occamlabs/docgateway/internal/queue"
	"github.com/occamlabs/docgateway/internal/result"
	"github.com/occamlabs/docgateway/internal/stage"
)

// LaneConfig sizes one lane's executor pool.
type LaneConfig struct {
	Lane        string
	Concurrency int
}

// Config holds worker configuration.
type Config struct {
	Logger       *slog.Logger
	Transport    queue.Transport
	Orchestrator *orchestrator.Orchestrator
	Results      result.Store
	Processors   stage.Registry
	Lanes        []LaneConfig
}

// Worker consumes the configured lanes until stopped.
type Worker struct {
	logger     *slog.Logger
	transport  queue.Transport
	orch       *orchestrator.Orchestrator
	results    result.Store
	processors stage.Registry
	lanes      []LaneConfig
	workerID   string

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewWorker creates a worker instance.
func NewWorker(cfg *Config) *Worker {
	hostname, _ := os.Hostname()
	return &Worker{
		logger:     cfg.Logger,
		transport:  cfg.Transport,
		orch:       cfg.Orchestrator,
		results:    cfg.Results,
		processors: cfg.Processors,
		lanes:      cfg.Lanes,
		workerID:   fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		stopChan:   make(chan struct{}),
	}
}

// Start begins consuming all configured lanes. It returns once every
// consumer is wired up; processing continues until ctx is canceled or
// Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	for _, lc := range w.lanes {
		if _, err := orchestrator.StageFor(lc.Lane); err != nil {
			return err
		}
		if lc.Concurrency <= 0 {
			return fmt.Errorf("lane %s: concurrency must be greater than 0", lc.Lane)
		}

		deliveries, err := w.transport.Consume(ctx, lc.Lane)
		if err != nil {
			return fmt.Errorf("failed to consume lane %s: %w", lc.Lane, err)
		}

		w.spawnLanePool(ctx, lc, deliveries)
	}

	w.logger.Info("Worker started",
		slog.String("worker_id", w.workerID),
		slog.Int("lanes", len(w.lanes)),
	)
	return nil
}

// spawnLanePool starts one goroutine per configured executor slot,
// all draining the same lane delivery channel.
func (w *Worker) spawnLanePool(ctx context.Context, lc LaneConfig, deliveries <-chan queue.Delivery) {
	w.logger.Info("Spawning lane pool",
		slog.String("lane", lc.Lane),
		slog.Int("concurrency", lc.Concurrency),
	)

	for i := 0; i < lc.Concurrency; i++ {
		w.wg.Add(1)
		go w.executorLoop(ctx, lc.Lane, i, deliveries)
	}
}

// Stop waits for in-flight executions to finish.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
