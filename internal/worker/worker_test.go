package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occamlabs/docgateway/internal/job"
	"github.com/occamlabs/docgateway/internal/orchestrator"
	"github.com/occamlabs/docgateway/internal/queue"
	"github.com/occamlabs/docgateway/internal/result"
	"github.com/occamlabs/docgateway/internal/stage"
	"github.com/occamlabs/docgateway/internal/store"
)

type harness struct {
	orch      *orchestrator.Orchestrator
	store     *store.Memory
	results   *result.Memory
	transport *queue.Memory
}

func newHarness(t *testing.T, processors stage.Registry, policy orchestrator.StagePolicy) *harness {
	t.Helper()

	jobStore := store.NewMemory()
	artifacts := result.NewMemory()
	transport := queue.NewMemory([]string{queue.LaneOCR, queue.LaneTranslation}, time.Minute)
	t.Cleanup(func() { transport.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orch, err := orchestrator.New(&orchestrator.Config{
		Store:     jobStore,
		Results:   artifacts,
		Transport: transport,
		Logger:    logger,
		Policies: map[job.Stage]orchestrator.StagePolicy{
			job.StageOCR:         policy,
			job.StageTranslation: policy,
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	w := NewWorker(&Config{
		Logger:       logger,
		Transport:    transport,
		Orchestrator: orch,
		Results:      artifacts,
		Processors:   processors,
		Lanes: []LaneConfig{
			{Lane: queue.LaneOCR, Concurrency: 2},
			{Lane: queue.LaneTranslation, Concurrency: 2},
		},
	})
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})

	return &harness{
		orch:      orch,
		store:     jobStore,
		results:   artifacts,
		transport: transport,
	}
}

func (h *harness) submit(t *testing.T, data string) string {
	t.Helper()

	jobID, err := h.orch.Submit(context.Background(), &result.Artifact{
		Data:        []byte(data),
		ContentType: "image/png",
	})
	require.NoError(t, err)
	return jobID
}

func (h *harness) waitForStatus(t *testing.T, jobID, status string) *job.Record {
	t.Helper()

	var rec *job.Record
	require.Eventually(t, func() bool {
		var err error
		rec, err = h.orch.Status(context.Background(), jobID)
		return err == nil && rec.Status == status
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, status)
	return rec
}

func echoProcessor(prefix string) stage.Processor {
	return stage.ProcessorFunc(func(_ context.Context, in *stage.Input) (*stage.Output, error) {
		return &stage.Output{
			Artifact: &result.Artifact{
				Data:        []byte(prefix + string(in.Artifact.Data)),
				ContentType: "text/plain",
			},
		}, nil
	})
}

func defaultPolicy() orchestrator.StagePolicy {
	return orchestrator.StagePolicy{
		MaxRetries:  2,
		BackoffBase: 5 * time.Millisecond,
		BackoffMax:  20 * time.Millisecond,
		Timeout:     time.Second,
	}
}

func TestWorkerProcessesBothStages(t *testing.T) {
	h := newHarness(t, stage.Registry{
		job.StageOCR:         echoProcessor("ocr:"),
		job.StageTranslation: echoProcessor("translated:"),
	}, defaultPolicy())

	jobID := h.submit(t, "page")

	h.waitForStatus(t, jobID, job.StatusCompleted)

	final, err := h.orch.Result(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, "translated:ocr:page", string(final.Data))
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	flaky := stage.ProcessorFunc(func(_ context.Context, in *stage.Input) (*stage.Output, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("ocr backend unreachable")
		}
		return &stage.Output{Artifact: &result.Artifact{Data: in.Artifact.Data}}, nil
	})

	h := newHarness(t, stage.Registry{
		job.StageOCR:         flaky,
		job.StageTranslation: echoProcessor(""),
	}, defaultPolicy())

	jobID := h.submit(t, "page")

	h.waitForStatus(t, jobID, job.StatusCompleted)
	assert.Equal(t, int32(3), calls.Load())

	history, err := h.orch.History(context.Background(), jobID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestWorkerExhaustsRetries(t *testing.T) {
	broken := stage.ProcessorFunc(func(context.Context, *stage.Input) (*stage.Output, error) {
		return nil, errors.New("ocr backend unreachable")
	})

	h := newHarness(t, stage.Registry{
		job.StageOCR:         broken,
		job.StageTranslation: echoProcessor(""),
	}, defaultPolicy())

	jobID := h.submit(t, "page")

	rec := h.waitForStatus(t, jobID, job.StatusFailed)
	assert.Equal(t, job.StageOCR, rec.Stage)
	assert.Equal(t, 3, rec.Attempt)
	require.NotNil(t, rec.Error)
	assert.Equal(t, "ocr backend unreachable", rec.Error.Message)
}

func TestWorkerStageTimeout(t *testing.T) {
	slow := stage.ProcessorFunc(func(ctx context.Context, _ *stage.Input) (*stage.Output, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	policy := defaultPolicy()
	policy.MaxRetries = 0
	policy.Timeout = 50 * time.Millisecond

	h := newHarness(t, stage.Registry{
		job.StageOCR:         slow,
		job.StageTranslation: echoProcessor(""),
	}, policy)

	jobID := h.submit(t, "page")

	rec := h.waitForStatus(t, jobID, job.StatusFailed)
	require.NotNil(t, rec.Error)
	assert.True(t, strings.HasPrefix(rec.Error.Message, "stage timed out after"), rec.Error.Message)
}

func TestWorkerSurvivesPanickingProcessor(t *testing.T) {
	panicky := stage.ProcessorFunc(func(context.Context, *stage.Input) (*stage.Output, error) {
		panic("ocr library fault")
	})

	policy := defaultPolicy()
	policy.MaxRetries = 0

	h := newHarness(t, stage.Registry{
		job.StageOCR:         panicky,
		job.StageTranslation: echoProcessor(""),
	}, policy)

	jobID := h.submit(t, "page")

	rec := h.waitForStatus(t, jobID, job.StatusFailed)
	require.NotNil(t, rec.Error)
	assert.Contains(t, rec.Error.Message, "stage execution panicked")

	// The executor pool is still alive and processes the next job.
	second := h.submit(t, "another page")
	h.waitForStatus(t, second, job.StatusFailed)
}

func TestWorkerMissingProcessor(t *testing.T) {
	policy := defaultPolicy()
	policy.MaxRetries = 0

	h := newHarness(t, stage.Registry{
		job.StageTranslation: echoProcessor(""),
	}, policy)

	jobID := h.submit(t, "page")

	rec := h.waitForStatus(t, jobID, job.StatusFailed)
	require.NotNil(t, rec.Error)
	assert.Contains(t, rec.Error.Message, "no processor registered")
}

func TestWorkerRejectsUnknownLane(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := queue.NewMemory([]string{queue.LaneOCR}, time.Minute)
	defer transport.Close()

	orch, err := orchestrator.New(&orchestrator.Config{
		Store:     store.NewMemory(),
		Results:   result.NewMemory(),
		Transport: transport,
		Logger:    logger,
		Policies: map[job.Stage]orchestrator.StagePolicy{
			job.StageOCR:         defaultPolicy(),
			job.StageTranslation: defaultPolicy(),
		},
	})
	require.NoError(t, err)

	w := NewWorker(&Config{
		Logger:       logger,
		Transport:    transport,
		Orchestrator: orch,
		Results:      result.NewMemory(),
		Processors:   stage.Registry{},
		Lanes:        []LaneConfig{{Lane: "summarize", Concurrency: 1}},
	})

	err = w.Start(context.Background())
	assert.ErrorIs(t, err, queue.ErrUnknownLane)
}
