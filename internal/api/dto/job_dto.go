package dto

type ListJobsRequest struct {
	Stage    string `form:"stage"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID      string          `json:"job_id"`
	Stage      string          `json:"stage"`
	Status     string          `json:"status"`
	Attempt    int             `json:"attempt"`
	MaxRetries int             `json:"max_retries"`
	Error      *ErrorDetailDTO `json:"error,omitempty"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

type ErrorDetailDTO struct {
	Message string `json:"message"`
	Stage   string `json:"stage"`
	Attempt int    `json:"attempt"`
}

type AttemptDTO struct {
	Stage      string `json:"stage"`
	Attempt    int    `json:"attempt"`
	WorkerID   string `json:"worker_id"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

type HistoryResponse struct {
	JobID    string       `json:"job_id"`
	Attempts []AttemptDTO `json:"attempts"`
}
