package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/occamlabs/docgateway/internal/api/dto"
	"github.com/occamlabs/docgateway/internal/api/handler"
	"github.com/occamlabs/docgateway/internal/api/router"
	"github.com/occamlabs/docgateway/internal/connector"
	"github.com/occamlabs/docgateway/internal/job"
	"github.com/occamlabs/docgateway/internal/orchestrator"
	"github.com/occamlabs/docgateway/internal/queue"
	"github.com/occamlabs/docgateway/internal/result"
	"github.com/occamlabs/docgateway/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	engine    *gin.Engine
	orch      *orchestrator.Orchestrator
	store     *store.Memory
	results   *result.Memory
	transport *queue.Memory
}

func newAPIFixture(t *testing.T) *apiFixture {
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
			job.StageOCR:         {MaxRetries: 2, BackoffBase: time.Second, BackoffMax: time.Minute, Timeout: time.Minute},
			job.StageTranslation: {MaxRetries: 2, BackoffBase: time.Second, BackoffMax: time.Minute, Timeout: time.Minute},
		},
	})
	require.NoError(t, err)

	engine := router.SetupRouter(&handler.Dependencies{
		Logger:       logger,
		Orchestrator: orch,
		Store:        jobStore,
		HealthChecks: map[string]handler.HealthCheck{
			"store": func(context.Context) error { return nil },
		},
	})

	return &apiFixture{
		engine:    engine,
		orch:      orch,
		store:     jobStore,
		results:   artifacts,
		transport: transport,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) submitDocument(t *testing.T, content string) string {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "scan.png")
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	rec := f.do(t, http.MethodPost, "/api/v1/documents", &body, writer.FormDataContentType())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	return resp.JobID
}

// runPipeline drives a submitted job to COMPLETED through the
// orchestration core.
func (f *apiFixture) runPipeline(t *testing.T, jobID string) {
	t.Helper()
	ctx := context.Background()

	for _, lane := range []string{queue.LaneOCR, queue.LaneTranslation} {
		rec, err := f.orch.Claim(ctx, jobID, lane)
		require.NoError(t, err)

		now := time.Now()
		require.NoError(t, f.orch.OnOutcome(ctx, &orchestrator.Outcome{
			JobID:      jobID,
			Stage:      rec.Stage,
			Attempt:    rec.Attempt,
			WorkerID:   "test-worker",
			Artifact:   &result.Artifact{Data: []byte("translated text"), ContentType: "text/plain"},
			StartedAt:  now,
			FinishedAt: now,
		}))
	}
}

func TestSubmitDocument(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		f := newAPIFixture(t)
		jobID := f.submitDocument(t, "page bytes")

		rec, err := f.orch.Status(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, job.StageOCR, rec.Stage)
		assert.Equal(t, job.StatusPending, rec.Status)
	})

	t.Run("processing options land on the source artifact", func(t *testing.T) {
		f := newAPIFixture(t)

		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		part, err := writer.CreateFormFile("file", "scan.png")
		require.NoError(t, err)
		_, err = part.Write([]byte("page bytes"))
		require.NoError(t, err)
		require.NoError(t, writer.WriteField("engine", "handwritten"))
		require.NoError(t, writer.WriteField("source_lang", "cs"))
		require.NoError(t, writer.WriteField("target_lang", "en"))
		require.NoError(t, writer.Close())

		rec := f.do(t, http.MethodPost, "/api/v1/documents", &body, writer.FormDataContentType())
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

		var resp struct {
			JobID string `json:"job_id"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

		source, err := f.results.Get(context.Background(), result.SourceRef(resp.JobID))
		require.NoError(t, err)
		assert.Equal(t, "handwritten", source.Meta[connector.MetaEngine])
		assert.Equal(t, "cs", source.Meta[connector.MetaSourceLang])
		assert.Equal(t, "en", source.Meta[connector.MetaTargetLang])
	})

	t.Run("missing file field", func(t *testing.T) {
		f := newAPIFixture(t)

		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		require.NoError(t, writer.WriteField("other", "value"))
		require.NoError(t, writer.Close())

		rec := f.do(t, http.MethodPost, "/api/v1/documents", &body, writer.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty file", func(t *testing.T) {
		f := newAPIFixture(t)

		var body bytes.Buffer
		writer := multipart.NewWriter(&body)
		_, err := writer.CreateFormFile("file", "empty.png")
		require.NoError(t, err)
		require.NoError(t, writer.Close())

		rec := f.do(t, http.MethodPost, "/api/v1/documents", &body, writer.FormDataContentType())
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetJob(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		f := newAPIFixture(t)
		jobID := f.submitDocument(t, "page bytes")

		rec := f.do(t, http.MethodGet, "/api/v1/documents/"+jobID, nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp dto.JobDTO
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, jobID, resp.JobID)
		assert.Equal(t, string(job.StageOCR), resp.Stage)
		assert.Equal(t, job.StatusPending, resp.Status)
		assert.Nil(t, resp.Error)
	})

	t.Run("invalid id", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodGet, "/api/v1/documents/not-a-uuid", nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodGet, "/api/v1/documents/3f0cd7a0-94a6-4e7c-8f9e-4cfa86b1a111", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListJobs(t *testing.T) {
	f := newAPIFixture(t)

	ids := make(map[string]bool)
	for i := 0; i < 5; i++ {
		ids[f.submitDocument(t, "page bytes")] = true
	}

	t.Run("single page", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/documents?page_size=10", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Jobs, 5)
		assert.Empty(t, resp.NextCursor)
	})

	t.Run("cursor pagination walks every job once", func(t *testing.T) {
		seen := make(map[string]bool)
		cursor := ""
		for {
			url := "/api/v1/documents?page_size=2"
			if cursor != "" {
				url += "&cursor=" + cursor
			}
			rec := f.do(t, http.MethodGet, url, nil, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var resp dto.ListJobsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			for _, j := range resp.Jobs {
				assert.False(t, seen[j.JobID], "job %s returned twice", j.JobID)
				seen[j.JobID] = true
			}
			if resp.NextCursor == "" {
				break
			}
			cursor = resp.NextCursor
		}
		assert.Len(t, seen, len(ids))
	})

	t.Run("status filter", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/documents?status=FAILED", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp dto.ListJobsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Jobs)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/v1/documents?cursor=%21%21not-base64", nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetResult(t *testing.T) {
	t.Run("completed job streams artifact", func(t *testing.T) {
		f := newAPIFixture(t)
		jobID := f.submitDocument(t, "page bytes")
		f.runPipeline(t, jobID)

		rec := f.do(t, http.MethodGet, "/api/v1/documents/"+jobID+"/result", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "translated text", rec.Body.String())
		assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	})

	t.Run("incomplete job conflicts", func(t *testing.T) {
		f := newAPIFixture(t)
		jobID := f.submitDocument(t, "page bytes")

		rec := f.do(t, http.MethodGet, "/api/v1/documents/"+jobID+"/result", nil, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodGet, "/api/v1/documents/3f0cd7a0-94a6-4e7c-8f9e-4cfa86b1a111/result", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestGetHistory(t *testing.T) {
	f := newAPIFixture(t)
	jobID := f.submitDocument(t, "page bytes")
	f.runPipeline(t, jobID)

	rec := f.do(t, http.MethodGet, "/api/v1/documents/"+jobID+"/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, jobID, resp.JobID)
	require.Len(t, resp.Attempts, 2)
	assert.Equal(t, string(job.StageOCR), resp.Attempts[0].Stage)
	assert.Equal(t, string(job.StageTranslation), resp.Attempts[1].Stage)
}

func TestCancelJob(t *testing.T) {
	t.Run("pending job cancels", func(t *testing.T) {
		f := newAPIFixture(t)
		jobID := f.submitDocument(t, "page bytes")

		rec := f.do(t, http.MethodPost, "/api/v1/documents/"+jobID+"/cancel", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		status, err := f.orch.Status(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, status.Status)
	})

	t.Run("running job conflicts", func(t *testing.T) {
		f := newAPIFixture(t)
		jobID := f.submitDocument(t, "page bytes")

		_, err := f.orch.Claim(context.Background(), jobID, queue.LaneOCR)
		require.NoError(t, err)

		rec := f.do(t, http.MethodPost, "/api/v1/documents/"+jobID+"/cancel", nil, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown job", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodPost, "/api/v1/documents/3f0cd7a0-94a6-4e7c-8f9e-4cfa86b1a111/cancel", nil, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMonitorLanes(t *testing.T) {
	f := newAPIFixture(t)
	f.submitDocument(t, "page bytes")

	rec := f.do(t, http.MethodGet, "/api/v1/monitor/lanes", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Lanes []orchestrator.LaneStats `json:"lanes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Lanes, 2)
	assert.Equal(t, queue.LaneOCR, resp.Lanes[0].Lane)
	assert.Equal(t, 1, resp.Lanes[0].Depth)
	assert.Equal(t, 1, resp.Lanes[0].Counts.Pending)
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		f := newAPIFixture(t)
		rec := f.do(t, http.MethodGet, "/health", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"healthy"`)
	})

	t.Run("degraded", func(t *testing.T) {
		f := newAPIFixture(t)

		engine := router.SetupRouter(&handler.Dependencies{
			Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
			Orchestrator: f.orch,
			Store:        f.store,
			HealthChecks: map[string]handler.HealthCheck{
				"redis": func(context.Context) error { return errors.New("connection refused") },
			},
		})

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"degraded"`)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docgateway_")
}
