package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/opickel/social-recipes/internal/api/dto"
	"github.com/opickel/social-recipes/internal/domain"
)

// CreateJob handles POST /api/v1/jobs
// Submits a video URL for recipe extraction
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), req.URL)
	if err != nil {
		h.logger.Error("Failed to submit job",
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
		)
		respondDomainError(c, err, "Failed to submit job")
		return
	}

	c.JSON(http.StatusAccepted, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists all jobs that have not reached a terminal state
func (h *JobHandler) ListJobs(c *gin.Context) {
	jobs, err := h.jobs.ListActive(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}
	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: jobResponse})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves job state; a job waiting at the confirmation gate includes
// the recipe preview
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		respondDomainError(c, err, "Failed to get job")
		return
	}

	resp := dto.JobDetailResponse{JobDTO: dto.NewJobDTO(job)}
	if job.Status == domain.JobStatusAwaitingInput {
		if preview, err := h.jobs.Preview(jobID); err == nil {
			resp.Preview = &dto.PreviewDTO{
				Recipe:  preview.Recipe,
				Targets: preview.Targets,
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	if err := h.jobs.Cancel(c.Request.Context(), jobID); err != nil {
		h.logger.Error("Failed to cancel job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		respondDomainError(c, err, "Failed to cancel job")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": "cancelling",
	})
}

// ConfirmJob handles POST /api/v1/jobs/:job_id/confirm
// Resolves the pre-upload confirmation gate
func (h *JobHandler) ConfirmJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	var req dto.ConfirmJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if err := h.jobs.Confirm(c.Request.Context(), jobID, *req.Approved); err != nil {
		h.logger.Error("Failed to confirm job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		respondDomainError(c, err, "Failed to confirm job")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":   jobID,
		"approved": *req.Approved,
	})
}

// StreamJob handles GET /api/v1/jobs/:job_id/events
// Streams progress events for one job over SSE until the job reaches a
// terminal stage or the client disconnects
func (h *JobHandler) StreamJob(c *gin.Context) {
	jobID, ok := h.jobID(c)
	if !ok {
		return
	}

	// Report the current snapshot first so late subscribers are not
	// blind until the next stage transition.
	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondDomainError(c, err, "Failed to get job")
		return
	}

	events, cancel := h.hub.Subscribe(jobID)
	defer cancel()

	h.sseHeaders(c)
	c.SSEvent("progress", domain.ProgressEvent{
		JobID:      job.JobID,
		Stage:      job.Stage,
		Message:    job.StageMessage,
		Percent:    job.Progress,
		VideoTitle: job.VideoTitle,
	})
	c.Writer.Flush()

	if domain.IsTerminal(job.Status) {
		return
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-events:
			if !open {
				return false
			}
			c.SSEvent("progress", event)
			return !isTerminalStage(event.Stage)
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// StreamAll handles GET /api/v1/events
// Streams progress events for all jobs over SSE
func (h *JobHandler) StreamAll(c *gin.Context) {
	events, cancel := h.hub.SubscribeAll()
	defer cancel()

	h.sseHeaders(c)
	c.Stream(func(w io.Writer) bool {
		select {
		case event, open := <-events:
			if !open {
				return false
			}
			c.SSEvent("progress", event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *JobHandler) sseHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}

func (h *JobHandler) jobID(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

func isTerminalStage(stage string) bool {
	return stage == domain.StageComplete || stage == domain.StageError || stage == domain.StageCancelled
}
