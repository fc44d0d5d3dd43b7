package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/media-queue/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	queueHandler := handler.NewQueueHandler(deps)

	r.GET("/health", queueHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		queues := v1.Group("/queues")
		{
			queues.GET("/stats", queueHandler.GetStats)

			// POST /api/v1/queues/:job_type/jobs - Produce a job
			queues.POST("/:job_type/jobs", queueHandler.EnqueueJob)

			// GET /api/v1/queues/:job_type/failed - List dead-lettered jobs
			queues.GET("/:job_type/failed", queueHandler.ListFailed)

			// POST /api/v1/queues/:job_type/failed/:job_id/retry - Requeue a dead-lettered job
			queues.POST("/:job_type/failed/:job_id/retry", queueHandler.RetryFailed)

			// DELETE /api/v1/queues/:job_type/pending - Clear the pending set
			queues.DELETE("/:job_type/pending", queueHandler.ClearPending)
		}
	}

	return r
}
