package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/occamlabs/docgateway/internal/orchestrator"
)

// MonitorHandler serves lane statistics and service health
type MonitorHandler struct {
	logger       *slog.Logger
	orchestrator *orchestrator.Orchestrator
	checks       map[string]HealthCheck
}

// NewMonitorHandler creates a new MonitorHandler instance
func NewMonitorHandler(deps *Dependencies) *MonitorHandler {
	return &MonitorHandler{
		logger:       deps.Logger,
		orchestrator: deps.Orchestrator,
		checks:       deps.HealthChecks,
	}
}

// GetLaneStats handles GET /api/v1/monitor/lanes
// Reports queue depth, in-flight count, and status counts per lane
func (h *MonitorHandler) GetLaneStats(c *gin.Context) {
	stats, err := h.orchestrator.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to collect lane stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to collect lane stats",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lanes": stats,
	})
}

// Health handles GET /health
// Probes each backing service with a short deadline
func (h *MonitorHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	services := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Health check failed",
				slog.String("service", name),
				slog.String("error", err.Error()),
			)
			services[name] = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		services[name] = "healthy"
	}

	body := gin.H{
		"status":  "healthy",
		"service": "docgateway-api",
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(services) > 0 {
		body["services"] = services
	}

	c.JSON(status, body)
}
