package domain

import "time"

// Job status constants
const (
	JobStatusPending       = "pending"
	JobStatusDownloading   = "downloading"
	JobStatusTranscribing  = "transcribing"
	JobStatusExtracting    = "extracting"
	JobStatusCreating      = "creating"
	JobStatusAwaitingInput = "awaiting_confirmation"
	JobStatusUploading     = "uploading"
	JobStatusCompleted     = "completed"
	JobStatusFailed        = "failed"
	JobStatusCancelled     = "cancelled"
)

// Job represents one in-flight or recently finished extraction.
type Job struct {
	JobID        string    `db:"job_id" json:"job_id"`
	URL          string    `db:"url" json:"url"`
	Status       string    `db:"status" json:"status"`
	Progress     int       `db:"progress" json:"progress"`
	Stage        string    `db:"stage" json:"stage"`
	StageMessage string    `db:"stage_message" json:"stage_message"`
	VideoTitle   string    `db:"video_title" json:"video_title,omitempty"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// ActiveStatuses lists every non-terminal status, pending included.
func ActiveStatuses() []string {
	return []string{
		JobStatusPending,
		JobStatusDownloading,
		JobStatusTranscribing,
		JobStatusExtracting,
		JobStatusCreating,
		JobStatusAwaitingInput,
		JobStatusUploading,
	}
}

// JobUpdate is a partial update applied to a job row. Nil fields are
// left untouched.
type JobUpdate struct {
	Status       *string
	Progress     *int
	Stage        *string
	StageMessage *string
	VideoTitle   *string
	ErrorMessage *string
}

func StringPtr(s string) *string { return &s }
func IntPtr(i int) *int          { return &i }
