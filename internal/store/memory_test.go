package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occamlabs/docgateway/internal/job"
)

func newRecord(jobID string) *job.Record {
	now := time.Now()
	return &job.Record{
		JobID:      jobID,
		Stage:      job.StageOCR,
		Status:     job.StatusPending,
		MaxRetries: 2,
		InputRef:   "artifact:" + jobID + ":source",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMemoryCreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.Create(ctx, newRecord("job-1")))

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, rec.Status)
	assert.Equal(t, job.StageOCR, rec.Stage)
	assert.Equal(t, 0, rec.Attempt)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestMemoryClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("claim increments attempt", func(t *testing.T) {
		s := NewMemory()
		require.NoError(t, s.Create(ctx, newRecord("job-1")))

		rec, err := s.Claim(ctx, "job-1", job.StageOCR)
		require.NoError(t, err)
		assert.Equal(t, job.StatusRunning, rec.Status)
		assert.Equal(t, 1, rec.Attempt)
	})

	t.Run("running job is not claimable", func(t *testing.T) {
		s := NewMemory()
		require.NoError(t, s.Create(ctx, newRecord("job-1")))

		_, err := s.Claim(ctx, "job-1", job.StageOCR)
		require.NoError(t, err)

		_, err = s.Claim(ctx, "job-1", job.StageOCR)
		assert.ErrorIs(t, err, job.ErrNotClaimable)
	})

	t.Run("stage mismatch is not claimable", func(t *testing.T) {
		s := NewMemory()
		require.NoError(t, s.Create(ctx, newRecord("job-1")))

		_, err := s.Claim(ctx, "job-1", job.StageTranslation)
		assert.ErrorIs(t, err, job.ErrNotClaimable)
	})

	t.Run("concurrent claims have exactly one winner", func(t *testing.T) {
		s := NewMemory()
		require.NoError(t, s.Create(ctx, newRecord("job-1")))

		const racers = 16
		var wg sync.WaitGroup
		wins := make(chan struct{}, racers)

		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Claim(ctx, "job-1", job.StageOCR); err == nil {
					wins <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(wins)

		won := 0
		for range wins {
			won++
		}
		assert.Equal(t, 1, won)

		rec, err := s.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, 1, rec.Attempt)
	})
}

func TestMemoryMarkSucceeded(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Create(ctx, newRecord("job-1")))

	_, err := s.Claim(ctx, "job-1", job.StageOCR)
	require.NoError(t, err)

	require.NoError(t, s.MarkSucceeded(ctx, "job-1", job.StageOCR, 1, "artifact:job-1:OCR"))

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, rec.Status)
	assert.Equal(t, "artifact:job-1:OCR", rec.OutputRef)

	// Duplicate report for the same attempt misses its precondition.
	err = s.MarkSucceeded(ctx, "job-1", job.StageOCR, 1, "artifact:job-1:OCR")
	assert.ErrorIs(t, err, job.ErrStaleOutcome)

	// Attempt mismatch is stale too.
	err = s.MarkSucceeded(ctx, "job-1", job.StageOCR, 2, "artifact:job-1:OCR")
	assert.ErrorIs(t, err, job.ErrStaleOutcome)
}

func TestMemoryAdvanceStage(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Create(ctx, newRecord("job-1")))

	_, err := s.Claim(ctx, "job-1", job.StageOCR)
	require.NoError(t, err)
	require.NoError(t, s.MarkSucceeded(ctx, "job-1", job.StageOCR, 1, "artifact:job-1:OCR"))

	require.NoError(t, s.AdvanceStage(ctx, "job-1", job.StageOCR, job.StageTranslation, 5))

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StageTranslation, rec.Stage)
	assert.Equal(t, job.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.Attempt)
	assert.Equal(t, 5, rec.MaxRetries)
	assert.Equal(t, "artifact:job-1:OCR", rec.InputRef)
	assert.Empty(t, rec.OutputRef)

	// The SUCCEEDED precondition was consumed; a duplicate advance is stale.
	err = s.AdvanceStage(ctx, "job-1", job.StageOCR, job.StageTranslation, 5)
	assert.ErrorIs(t, err, job.ErrStaleOutcome)
}

func TestMemoryRetryCycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Create(ctx, newRecord("job-1")))

	_, err := s.Claim(ctx, "job-1", job.StageOCR)
	require.NoError(t, err)

	require.NoError(t, s.ScheduleRetry(ctx, "job-1", job.StageOCR, 1))

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusRetryScheduled, rec.Status)

	require.NoError(t, s.Release(ctx, "job-1", job.StageOCR))

	rec, err = s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.Attempt)

	// Second claim continues the attempt count.
	claimed, err := s.Claim(ctx, "job-1", job.StageOCR)
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.Attempt)
}

func TestMemoryMarkFailed(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	require.NoError(t, s.Create(ctx, newRecord("job-1")))

	_, err := s.Claim(ctx, "job-1", job.StageOCR)
	require.NoError(t, err)

	detail := job.ErrorDetail{Message: "ocr backend unreachable", Stage: job.StageOCR, Attempt: 1}
	require.NoError(t, s.MarkFailed(ctx, "job-1", []string{job.StatusRunning}, detail))

	rec, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, "ocr backend unreachable", rec.Error.Message)

	// Terminal records never move again.
	err = s.MarkFailed(ctx, "job-1", []string{job.StatusRunning}, detail)
	assert.ErrorIs(t, err, job.ErrStaleOutcome)
}

func TestMemoryList(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	base := time.Now()
	for i := 0; i < 5; i++ {
		rec := newRecord(fmt.Sprintf("job-%d", i))
		rec.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Create(ctx, rec))
	}

	t.Run("newest first", func(t *testing.T) {
		records, err := s.List(ctx, Filter{PageSize: 10})
		require.NoError(t, err)
		require.Len(t, records, 5)
		assert.Equal(t, "job-4", records[0].JobID)
		assert.Equal(t, "job-0", records[4].JobID)
	})

	t.Run("cursor pagination", func(t *testing.T) {
		page1, err := s.List(ctx, Filter{PageSize: 2})
		require.NoError(t, err)
		require.Len(t, page1, 3) // page size + 1 signals more

		cursor := &Cursor{CreatedAt: page1[1].CreatedAt, JobID: page1[1].JobID}
		page2, err := s.List(ctx, Filter{PageSize: 2, Cursor: cursor})
		require.NoError(t, err)
		require.NotEmpty(t, page2)
		assert.Equal(t, "job-2", page2[0].JobID)
	})

	t.Run("status filter", func(t *testing.T) {
		_, err := s.Claim(ctx, "job-0", job.StageOCR)
		require.NoError(t, err)

		records, err := s.List(ctx, Filter{Status: job.StatusRunning, PageSize: 10})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "job-0", records[0].JobID)
	})
}

func TestMemoryAttempts(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	now := time.Now()
	require.NoError(t, s.AppendAttempt(ctx, &job.Attempt{
		JobID: "job-1", Stage: job.StageOCR, Attempt: 1,
		WorkerID: "w-1", Outcome: job.StatusFailed, ErrMessage: "boom",
		StartedAt: now, FinishedAt: now.Add(time.Second),
	}))
	require.NoError(t, s.AppendAttempt(ctx, &job.Attempt{
		JobID: "job-1", Stage: job.StageOCR, Attempt: 2,
		WorkerID: "w-2", Outcome: job.StatusSucceeded,
		StartedAt: now.Add(2 * time.Second), FinishedAt: now.Add(3 * time.Second),
	}))

	attempts, err := s.ListAttempts(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, job.StatusFailed, attempts[0].Outcome)
	assert.Equal(t, job.StatusSucceeded, attempts[1].Outcome)
}

func TestMemoryCountByStage(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.Create(ctx, newRecord("job-1")))
	require.NoError(t, s.Create(ctx, newRecord("job-2")))

	_, err := s.Claim(ctx, "job-2", job.StageOCR)
	require.NoError(t, err)

	counts, err := s.CountByStage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[job.StageOCR].Pending)
	assert.Equal(t, 1, counts[job.StageOCR].Running)
	assert.Equal(t, 0, counts[job.StageTranslation].Pending)
}
