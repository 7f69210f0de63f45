package handler

import (
	"context"
	"log/slog"

	"github.com/occamlabs/docgateway/internal/orchestrator"
	"github.com/occamlabs/docgateway/internal/store"
)

// HealthCheck probes one backing service. Keyed by service name in
// Dependencies.
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Orchestrator *orchestrator.Orchestrator
	Store        store.Store
	HealthChecks map[string]HealthCheck
}

// JobHandler handles document job HTTP requests
type JobHandler struct {
	logger       *slog.Logger
	orchestrator *orchestrator.Orchestrator
	store        store.Store
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:       deps.Logger,
		orchestrator: deps.Orchestrator,
		store:        deps.Store,
	}
}
