package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opickel/social-recipes/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "social-recipes",
					"error":   err.Error(),
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "social-recipes",
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	historyHandler := handler.NewHistoryHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a video URL for extraction
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List active jobs
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job state (with preview when awaiting confirmation)
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)

			// POST /api/v1/jobs/:job_id/confirm - Resolve the confirmation gate
			jobs.POST("/:job_id/confirm", jobHandler.ConfirmJob)

			// GET /api/v1/jobs/:job_id/events - Per-job progress stream (SSE)
			jobs.GET("/:job_id/events", jobHandler.StreamJob)
		}

		// GET /api/v1/events - Progress stream for all jobs (SSE)
		v1.GET("/events", jobHandler.StreamAll)

		history := v1.Group("/history")
		{
			// GET /api/v1/history - List archived jobs
			history.GET("", historyHandler.ListHistory)

			// GET /api/v1/history/:id - Get one record with the full recipe
			history.GET("/:id", historyHandler.GetHistory)

			// GET /api/v1/history/:id/thumbnail - Stored dish image
			history.GET("/:id/thumbnail", historyHandler.GetHistoryThumbnail)

			// DELETE /api/v1/history/:id - Delete a record
			history.DELETE("/:id", historyHandler.DeleteHistory)

			// POST /api/v1/history/:id/export - Re-upload to an export target
			history.POST("/:id/export", historyHandler.ExportHistory)
		}
	}

	return r
}
