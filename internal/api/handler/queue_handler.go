package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/media-queue/internal/api/dto"
	"github.com/cuongbtq/media-queue/internal/queue"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// GetStats handles GET /api/v1/queues/stats
// Returns set sizes for the requested job types, or every configured type
func (h *QueueHandler) GetStats(c *gin.Context) {
	jobTypes := c.QueryArray("job_type")
	if len(jobTypes) == 0 {
		jobTypes = h.jobTypes
	}

	stats, err := h.queue.Stats(c.Request.Context(), jobTypes...)
	if err != nil {
		h.logger.Error("Failed to get queue stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get queue stats",
		})
		return
	}

	c.JSON(http.StatusOK, dto.StatsResponse{Queues: stats})
}

// EnqueueJob handles POST /api/v1/queues/:job_type/jobs
// Produces a new job into the pending set
func (h *QueueHandler) EnqueueJob(c *gin.Context) {
	jobType := c.Param("job_type")

	h.logger.Info("EnqueueJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_type", jobType),
	)

	if !h.requireJobType(c, jobType) {
		return
	}

	var req dto.EnqueueJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	maxRetries := queue.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	job := queue.NewJob(jobType, req.SubjectID, maxRetries)
	job.PayloadRef = req.PayloadRef
	job.Metadata = req.Metadata
	if req.Priority != nil {
		job.Priority = *req.Priority
	}

	delay := time.Duration(req.DelaySeconds) * time.Second
	if err := h.queue.Enqueue(c.Request.Context(), job, delay); err != nil {
		if errors.Is(err, queue.ErrInvalidJob) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		h.logger.Error("Failed to enqueue job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	h.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", jobType),
		slog.Duration("delay", delay),
	)

	c.JSON(http.StatusCreated, job)
}

// ListFailed handles GET /api/v1/queues/:job_type/failed
// Lists dead-lettered jobs oldest first
func (h *QueueHandler) ListFailed(c *gin.Context) {
	jobType := c.Param("job_type")
	if !h.requireJobType(c, jobType) {
		return
	}

	var req dto.ListFailedRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Limit <= 0 {
		req.Limit = defaultListLimit
	}
	if req.Limit > maxListLimit {
		req.Limit = maxListLimit
	}

	jobs, err := h.queue.ListDead(c.Request.Context(), jobType, req.Offset, req.Limit)
	if err != nil {
		h.logger.Error("Failed to list failed jobs",
			slog.String("job_type", jobType),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list failed jobs",
		})
		return
	}
	if jobs == nil {
		jobs = []*queue.Job{}
	}

	c.JSON(http.StatusOK, dto.ListFailedResponse{
		JobType: jobType,
		Jobs:    jobs,
		Limit:   req.Limit,
		Offset:  req.Offset,
	})
}

// RetryFailed handles POST /api/v1/queues/:job_type/failed/:job_id/retry
// Moves a dead-lettered job back to pending for immediate dispatch
func (h *QueueHandler) RetryFailed(c *gin.Context) {
	jobType := c.Param("job_type")
	jobID := c.Param("job_id")

	h.logger.Info("RetryFailed called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_type", jobType),
		slog.String("job_id", jobID),
	)

	if !h.requireJobType(c, jobType) {
		return
	}

	job, err := h.queue.RetryDead(c.Request.Context(), jobType, jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found in failed queue",
			})
			return
		}
		h.logger.Error("Failed to retry job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retry job",
		})
		return
	}

	c.JSON(http.StatusOK, job)
}

// ClearPending handles DELETE /api/v1/queues/:job_type/pending
// Drops every job waiting in the pending set
func (h *QueueHandler) ClearPending(c *gin.Context) {
	jobType := c.Param("job_type")

	h.logger.Warn("ClearPending called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_type", jobType),
	)

	if !h.requireJobType(c, jobType) {
		return
	}

	if err := h.queue.ClearPending(c.Request.Context(), jobType); err != nil {
		h.logger.Error("Failed to clear queue",
			slog.String("job_type", jobType),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to clear queue",
		})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *QueueHandler) requireJobType(c *gin.Context, jobType string) bool {
	if h.knownJobType(jobType) {
		return true
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error": "Unknown job type",
	})
	return false
}
