package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/occamlabs/docgateway/internal/job"
)

// Memory is an in-process Store with the same conditional-update
// semantics as the Postgres implementation. It backs tests and the
// single-binary development mode.
type Memory struct {
	mu       sync.Mutex
	jobs     map[string]*job.Record
	attempts map[string][]job.Attempt
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:     make(map[string]*job.Record),
		attempts: make(map[string][]job.Attempt),
	}
}

func (s *Memory) Create(_ context.Context, rec *job.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.jobs[rec.JobID] = &cp
	return nil
}

func (s *Memory) Get(_ context.Context, jobID string) (*job.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return nil, job.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Memory) List(_ context.Context, f Filter) ([]job.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []job.Record
	for _, rec := range s.jobs {
		if f.Stage != "" && string(rec.Stage) != f.Stage {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.Cursor != nil {
			if rec.CreatedAt.After(f.Cursor.CreatedAt) {
				continue
			}
			if rec.CreatedAt.Equal(f.Cursor.CreatedAt) && rec.JobID >= f.Cursor.JobID {
				continue
			}
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].JobID > records[j].JobID
	})

	if f.PageSize > 0 && len(records) > f.PageSize+1 {
		records = records[:f.PageSize+1]
	}
	return records, nil
}

func (s *Memory) Claim(_ context.Context, jobID string, stage job.Stage) (*job.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok || rec.Stage != stage || !job.Claimable(rec.Status) {
		return nil, job.ErrNotClaimable
	}

	rec.Status = job.StatusRunning
	rec.Attempt++
	rec.UpdatedAt = time.Now()

	cp := *rec
	return &cp, nil
}

func (s *Memory) MarkSucceeded(_ context.Context, jobID string, stage job.Stage, attempt int, outputRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok || rec.Stage != stage || rec.Attempt != attempt || rec.Status != job.StatusRunning {
		return job.ErrStaleOutcome
	}

	rec.Status = job.StatusSucceeded
	rec.OutputRef = outputRef
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) AdvanceStage(_ context.Context, jobID string, from, to job.Stage, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok || rec.Stage != from || rec.Status != job.StatusSucceeded {
		return job.ErrStaleOutcome
	}

	rec.Stage = to
	rec.Status = job.StatusPending
	rec.Attempt = 0
	rec.MaxRetries = maxRetries
	rec.InputRef = rec.OutputRef
	rec.OutputRef = ""
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) Complete(_ context.Context, jobID string, stage job.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok || rec.Stage != stage || rec.Status != job.StatusSucceeded {
		return job.ErrStaleOutcome
	}

	rec.Status = job.StatusCompleted
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) ScheduleRetry(_ context.Context, jobID string, stage job.Stage, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok || rec.Stage != stage || rec.Attempt != attempt || rec.Status != job.StatusRunning {
		return job.ErrStaleOutcome
	}

	rec.Status = job.StatusRetryScheduled
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) Release(_ context.Context, jobID string, stage job.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok || rec.Stage != stage || rec.Status != job.StatusRetryScheduled {
		return job.ErrStaleOutcome
	}

	rec.Status = job.StatusPending
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) MarkFailed(_ context.Context, jobID string, from []string, detail job.ErrorDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return job.ErrStaleOutcome
	}

	matched := false
	for _, status := range from {
		if rec.Status == status {
			matched = true
			break
		}
	}
	if !matched {
		return job.ErrStaleOutcome
	}

	rec.Status = job.StatusFailed
	d := detail
	rec.Error = &d
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) AppendAttempt(_ context.Context, a *job.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[a.JobID] = append(s.attempts[a.JobID], *a)
	return nil
}

func (s *Memory) ListAttempts(_ context.Context, jobID string) ([]job.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]job.Attempt, len(s.attempts[jobID]))
	copy(out, s.attempts[jobID])
	return out, nil
}

func (s *Memory) CountByStage(_ context.Context) (map[job.Stage]LaneCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := map[job.Stage]LaneCounts{
		job.StageOCR:         {},
		job.StageTranslation: {},
	}

	for _, rec := range s.jobs {
		c := counts[rec.Stage]
		switch rec.Status {
		case job.StatusPending:
			c.Pending++
		case job.StatusRunning:
			c.Running++
		case job.StatusRetryScheduled:
			c.RetryScheduled++
		case job.StatusFailed:
			c.Failed++
		case job.StatusCompleted:
			c.Completed++
		}
		counts[rec.Stage] = c
	}
	return counts, nil
}
