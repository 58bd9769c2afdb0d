package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput is returned when a submitted URL is malformed
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned when a job or history record does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyTerminal is returned when cancelling a finished job
	ErrAlreadyTerminal = errors.New("job already finished")

	// ErrInterrupted marks jobs left non-terminal by an unclean shutdown
	ErrInterrupted = errors.New("interrupted: server restarted during processing")

	// ErrNoAudio is reported by the transcriber for videos without an
	// audio stream. The pipeline treats it as an empty transcript.
	ErrNoAudio = errors.New("no audio stream")

	// ErrConfirmationTimeout ends a preview gate nobody resolved
	ErrConfirmationTimeout = errors.New("upload confirmation timed out")
)

// DownloadError wraps a fatal failure of the download stage.
type DownloadError struct {
	Err error
}

func (e *DownloadError) Error() string { return "download failed: " + e.Err.Error() }
func (e *DownloadError) Unwrap() error { return e.Err }

// TranscriptionError wraps a fatal failure of the transcribe stage.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string { return "transcription failed: " + e.Err.Error() }
func (e *TranscriptionError) Unwrap() error { return e.Err }

// SynthesisError wraps a fatal failure of recipe synthesis, covering
// malformed model output, quota errors, and timeouts alike.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return "recipe synthesis failed: " + e.Err.Error() }
func (e *SynthesisError) Unwrap() error { return e.Err }

// UploadError carries the failure detail of a single export target.
type UploadError struct {
	Target     string
	StatusCode int
	Detail     string
}

func (e *UploadError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upload to %s failed: status %d: %s", e.Target, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("upload to %s failed: %s", e.Target, e.Detail)
}

// UploadErrors aggregates per-target failures when several targets are
// configured. The job fails only when every target failed.
type UploadErrors []*UploadError

func (e UploadErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ue := range e {
		msgs[i] = ue.Error()
	}
	return strings.Join(msgs, "; ")
}
