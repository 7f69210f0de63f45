package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/occamlabs/docgateway/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	jobHandler := handler.NewJobHandler(deps)
	monitorHandler := handler.NewMonitorHandler(deps)

	// Health check endpoint
	r.GET("/health", monitorHandler.Health)

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		documents := v1.Group("/documents")
		{
			// POST /api/v1/documents - Submit a document for processing
			documents.POST("", jobHandler.SubmitDocument)

			// GET /api/v1/documents - List jobs with filtering and pagination
			documents.GET("", jobHandler.ListJobs)

			// GET /api/v1/documents/:job_id - Get job status
			documents.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/documents/:job_id/result - Download the final artifact
			documents.GET("/:job_id/result", jobHandler.GetResult)

			// GET /api/v1/documents/:job_id/history - Per-attempt execution trail
			documents.GET("/:job_id/history", jobHandler.GetHistory)

			// POST /api/v1/documents/:job_id/cancel - Cancel a queued job
			documents.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		monitor := v1.Group("/monitor")
		{
			// GET /api/v1/monitor/lanes - Lane depth and status counts
			monitor.GET("/lanes", monitorHandler.GetLaneStats)
		}
	}

	return r
}
