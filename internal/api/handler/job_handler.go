package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/occamlabs/docgateway/internal/api/dto"
	"github.com/occamlabs/docgateway/internal/connector"
	"github.com/occamlabs/docgateway/internal/job"
	"github.com/occamlabs/docgateway/internal/queue"
	"github.com/occamlabs/docgateway/internal/result"
	"github.com/occamlabs/docgateway/internal/store"
)

// maxUploadBytes caps the accepted document size
const maxUploadBytes = 32 << 20

// SubmitDocument handles POST /api/v1/documents
// Accepts a multipart upload and enqueues it for processing
func (h *JobHandler) SubmitDocument(c *gin.Context) {
	h.logger.Info("SubmitDocument called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.logger.Error("Invalid upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "multipart field 'file' is required",
		})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to read uploaded file",
		})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read upload", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to read uploaded file",
		})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "uploaded file is empty",
		})
		return
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc := &result.Artifact{
		Data:        data,
		ContentType: contentType,
		Meta: map[string]string{
			"filename": fileHeader.Filename,
		},
	}

	// Optional per-job processing options, forwarded to the stage
	// connectors through the artifact metadata.
	for field, key := range map[string]string{
		"engine":      connector.MetaEngine,
		"languages":   connector.MetaLanguages,
		"source_lang": connector.MetaSourceLang,
		"target_lang": connector.MetaTargetLang,
	} {
		if v := c.PostForm(field); v != "" {
			doc.Meta[key] = v
		}
	}

	jobID, err := h.orchestrator.Submit(c.Request.Context(), doc)
	if err != nil {
		if errors.Is(err, queue.ErrTransportUnavailable) {
			h.logger.Error("Transport unavailable", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "queue transport unavailable, try again later",
			})
			return
		}
		h.logger.Error("Failed to submit document", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to submit document",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"stage":  string(job.StageOCR),
		"status": job.StatusPending,
	})
}

// GetJob handles GET /api/v1/documents/:job_id
// Retrieves the job record for a submitted document
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	rec, err := h.orchestrator.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, toJobDTO(rec))
}

// ListJobs handles GET /api/v1/documents
// Lists jobs with optional filtering and keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid cursor",
		})
		return
	}

	filter := store.Filter{
		Stage:    req.Stage,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = toJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&store.Cursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// GetResult handles GET /api/v1/documents/:job_id/result
// Streams the final artifact of a completed job
func (h *JobHandler) GetResult(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	artifact, err := h.orchestrator.Result(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
		case errors.Is(err, result.ErrNotFound):
			c.JSON(http.StatusConflict, gin.H{
				"error": "job has not completed",
			})
		default:
			h.logger.Error("Failed to get result", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "failed to get result",
			})
		}
		return
	}

	for k, v := range artifact.Meta {
		c.Header("X-Artifact-"+k, v)
	}
	c.Data(http.StatusOK, artifact.ContentType, artifact.Data)
}

// GetHistory handles GET /api/v1/documents/:job_id/history
// Returns the per-attempt execution trail of a job
func (h *JobHandler) GetHistory(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	attempts, err := h.orchestrator.History(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
			return
		}
		h.logger.Error("Failed to get history", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get history",
		})
		return
	}

	resp := dto.HistoryResponse{
		JobID:    jobID,
		Attempts: make([]dto.AttemptDTO, len(attempts)),
	}
	for i, a := range attempts {
		resp.Attempts[i] = dto.AttemptDTO{
			Stage:      string(a.Stage),
			Attempt:    a.Attempt,
			WorkerID:   a.WorkerID,
			Outcome:    a.Outcome,
			Error:      a.ErrMessage,
			StartedAt:  a.StartedAt.Format(time.RFC3339Nano),
			FinishedAt: a.FinishedAt.Format(time.RFC3339Nano),
		}
	}

	c.JSON(http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/documents/:job_id/cancel
// Cancels a job that is not currently executing
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("CancelJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	err := h.orchestrator.Cancel(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, job.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "job not found",
			})
		case errors.Is(err, job.ErrNotCancelable):
			c.JSON(http.StatusConflict, gin.H{
				"error": "job cannot be canceled in its current state",
			})
		default:
			h.logger.Error("Failed to cancel job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "failed to cancel job",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": job.StatusFailed,
	})
}

func toJobDTO(rec *job.Record) dto.JobDTO {
	d := dto.JobDTO{
		JobID:      rec.JobID,
		Stage:      string(rec.Stage),
		Status:     rec.Status,
		Attempt:    rec.Attempt,
		MaxRetries: rec.MaxRetries,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:  rec.UpdatedAt.Format(time.RFC3339Nano),
	}
	if rec.Error != nil {
		d.Error = &dto.ErrorDetailDTO{
			Message: rec.Error.Message,
			Stage:   string(rec.Error.Stage),
			Attempt: rec.Error.Attempt,
		}
	}
	return d
}
