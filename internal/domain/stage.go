package domain

// Pipeline stage names. The order here is the order stages run.
const (
	StageInfo       = "info"
	StageDownload   = "download"
	StageTranscribe = "transcribe"
	StageVisual     = "visual"
	StageImage      = "image"
	StageEvaluate   = "evaluate"
	StagePreview    = "preview"
	StageUpload     = "upload"
	StageComplete   = "complete"
	StageError      = "error"
	StageCancelled  = "cancelled"
)

// stageStatus maps a stage to the job status a client should see while
// that stage runs.
var stageStatus = map[string]string{
	StageInfo:       JobStatusDownloading,
	StageDownload:   JobStatusDownloading,
	StageTranscribe: JobStatusTranscribing,
	StageVisual:     JobStatusExtracting,
	StageImage:      JobStatusExtracting,
	StageEvaluate:   JobStatusCreating,
	StagePreview:    JobStatusAwaitingInput,
	StageUpload:     JobStatusUploading,
	StageComplete:   JobStatusCompleted,
	StageError:      JobStatusFailed,
	StageCancelled:  JobStatusCancelled,
}

// StatusForStage returns the job status corresponding to a stage name.
// Unknown stages fall back to pending so a bad publisher cannot move a
// job into a terminal state by accident.
func StatusForStage(stage string) string {
	if s, ok := stageStatus[stage]; ok {
		return s
	}
	return JobStatusPending
}

// ProgressEvent is one stage/percent/message notification for a job.
type ProgressEvent struct {
	JobID      string `json:"job_id"`
	Stage      string `json:"stage"`
	Message    string `json:"message"`
	Percent    int    `json:"percent"`
	VideoTitle string `json:"video_title,omitempty"`
}
