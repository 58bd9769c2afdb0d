package dto

import (
	"time"

	"github.com/opickel/social-recipes/internal/domain"
)

type CreateJobRequest struct {
	URL string `json:"url" binding:"required"`
}

type ConfirmJobRequest struct {
	Approved *bool `json:"approved" binding:"required"`
}

type JobDTO struct {
	JobID        string `json:"job_id"`
	URL          string `json:"url"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	Stage        string `json:"stage,omitempty"`
	StageMessage string `json:"stage_message,omitempty"`
	VideoTitle   string `json:"video_title,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:        job.JobID,
		URL:          job.URL,
		Status:       job.Status,
		Progress:     job.Progress,
		Stage:        job.Stage,
		StageMessage: job.StageMessage,
		VideoTitle:   job.VideoTitle,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    job.UpdatedAt.Format(time.RFC3339),
	}
}

type ListJobsResponse struct {
	Jobs []JobDTO `json:"jobs"`
}

// PreviewDTO is what the client renders at the confirmation gate.
type PreviewDTO struct {
	Recipe  *domain.RecipeDocument `json:"recipe"`
	Targets []string               `json:"targets"`
}

type JobDetailResponse struct {
	JobDTO
	Preview *PreviewDTO `json:"preview,omitempty"`
}

type ListHistoryRequest struct {
	URL      string `form:"url"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type HistoryDTO struct {
	ID            string                 `json:"id"`
	JobID         string                 `json:"job_id,omitempty"`
	URL           string                 `json:"url"`
	VideoTitle    string                 `json:"video_title,omitempty"`
	RecipeName    string                 `json:"recipe_name,omitempty"`
	Recipe        *domain.RecipeDocument `json:"recipe,omitempty"`
	HasThumbnail  bool                   `json:"has_thumbnail"`
	Status        string                 `json:"status"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
	ExportTargets []string               `json:"export_targets,omitempty"`
	CreatedAt     string                 `json:"created_at"`
}

func NewHistoryDTO(rec *domain.HistoryRecord, includeRecipe bool) HistoryDTO {
	dto := HistoryDTO{
		ID:            rec.ID,
		JobID:         rec.JobID,
		URL:           rec.URL,
		VideoTitle:    rec.VideoTitle,
		RecipeName:    rec.RecipeName,
		HasThumbnail:  len(rec.Thumbnail) > 0,
		Status:        rec.Status,
		ErrorMessage:  rec.ErrorMessage,
		ExportTargets: rec.ExportTargets,
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339),
	}
	if includeRecipe {
		dto.Recipe = rec.Recipe
	}
	return dto
}

type ListHistoryResponse struct {
	History    []HistoryDTO `json:"history"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type ExportHistoryRequest struct {
	Target string `json:"target" binding:"required"`
}
