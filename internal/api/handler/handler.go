package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opickel/social-recipes/internal/domain"
	"github.com/opickel/social-recipes/internal/pipeline"
	"github.com/opickel/social-recipes/internal/progress"
	"github.com/opickel/social-recipes/internal/store"
)

// JobService is the job lifecycle surface handlers talk to.
type JobService interface {
	Submit(ctx context.Context, url string) (*domain.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Confirm(ctx context.Context, jobID string, approved bool) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListActive(ctx context.Context) ([]domain.Job, error)
	Preview(jobID string) (*pipeline.Preview, error)
}

// HistoryStore is the history surface handlers talk to.
type HistoryStore interface {
	ListHistory(ctx context.Context, filter store.HistoryFilter) ([]domain.HistoryRecord, error)
	GetHistory(ctx context.Context, id string) (*domain.HistoryRecord, error)
	DeleteHistory(ctx context.Context, id string) error
	AppendExportTarget(ctx context.Context, id, target string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Jobs      JobService
	History   HistoryStore
	Hub       *progress.Hub
	Exporters []pipeline.Exporter

	// HealthCheck reports backing-store health. Optional; the health
	// endpoint reports healthy when unset.
	HealthCheck func(ctx context.Context) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
	hub    *progress.Hub
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
		hub:    deps.Hub,
	}
}

// HistoryHandler handles history-related HTTP requests
type HistoryHandler struct {
	logger    *slog.Logger
	history   HistoryStore
	exporters map[string]pipeline.Exporter
}

// NewHistoryHandler creates a new HistoryHandler instance
func NewHistoryHandler(deps *Dependencies) *HistoryHandler {
	exporters := make(map[string]pipeline.Exporter, len(deps.Exporters))
	for _, e := range deps.Exporters {
		exporters[e.Name()] = e
	}
	return &HistoryHandler{
		logger:    deps.Logger,
		history:   deps.History,
		exporters: exporters,
	}
}

// respondDomainError maps domain sentinel errors onto HTTP statuses.
func respondDomainError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "Job already finished"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
