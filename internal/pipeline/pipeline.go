package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/opickel/social-recipes/internal/domain"
)

// Progress checkpoints, apportioned across the stages the same way the
// web client renders them.
const (
	percentInfo          = 10
	percentInfoDone      = 15
	percentDownload      = 20
	percentDownloadDone  = 30
	percentTranscribe    = 35
	percentTranscribeEnd = 50
	percentVisual        = 55
	percentVisualDone    = 65
	percentImage         = 70
	percentImageDone     = 80
	percentEvaluate      = 85
	percentEvaluateDone  = 90
	percentUpload        = 95
	percentDone          = 100
)

// VideoInfo is the metadata fetched without downloading media.
type VideoInfo struct {
	ID          string
	Title       string
	Description string
}

// Download is the result of fetching media locally.
type Download struct {
	VideoID string
	Path    string
	Title   string
}

// Transcript is the speech-to-text output.
type Transcript struct {
	Text     string
	Language string
}

// Downloader acquires video metadata and media.
type Downloader interface {
	FetchInfo(ctx context.Context, url string) (*VideoInfo, error)
	Download(ctx context.Context, url string) (*Download, error)
}

// Transcriber turns a video's audio into text. A video without an
// audio stream yields domain.ErrNoAudio.
type Transcriber interface {
	Transcribe(ctx context.Context, videoPath, languageHint string) (*Transcript, error)
}

// VisualExtractor reads on-screen text and dish image candidates from
// sampled frames.
type VisualExtractor interface {
	ExtractText(ctx context.Context, videoPath string) (string, error)
	ExtractImageCandidates(ctx context.Context, videoPath string) ([]domain.ImageCandidate, error)
}

// SynthesisInput carries everything the language model needs.
type SynthesisInput struct {
	SourceURL      string
	Title          string
	Description    string
	Transcript     string
	VisualText     string
	TargetLanguage string
}

// Synthesizer produces a structured recipe from transcript and visual
// text.
type Synthesizer interface {
	Synthesize(ctx context.Context, input SynthesisInput) (*domain.RecipeDocument, error)
}

// Exporter uploads a recipe to one recipe manager target.
type Exporter interface {
	Name() string
	CreateRecipe(ctx context.Context, doc *domain.RecipeDocument) (string, error)
	UploadImage(ctx context.Context, remoteID, imagePath string) error
}

// Preview is what a human sees at the confirmation gate.
type Preview struct {
	Recipe    *domain.RecipeDocument
	ImagePath string
	Targets   []string
}

// ConfirmGate suspends the pipeline until a confirm/cancel signal bound
// to the job arrives, or times out. Returns true when approved.
type ConfirmGate interface {
	Await(ctx context.Context, jobID string, preview Preview) (bool, error)
}

// ProgressFunc reports one stage transition. The manager persists the
// snapshot before publishing so polling clients always see consistent
// state.
type ProgressFunc func(jobID, stage, message string, percent int, videoTitle string)

// Config holds pipeline behavior knobs.
type Config struct {
	TargetLanguage      string
	ConfirmBeforeUpload bool
}

// Result is the terminal outcome of a successful run.
type Result struct {
	Recipe        *domain.RecipeDocument
	Thumbnail     []byte
	ExportTargets []string
	Warning       string
}

// Pipeline runs the fixed stage sequence for one job. Stages execute
// strictly sequentially; cancellation is checked at stage boundaries
// only, never mid-collaborator-call.
type Pipeline struct {
	downloader  Downloader
	transcriber Transcriber
	visual      VisualExtractor
	synthesizer Synthesizer
	exporters   []Exporter
	gate        ConfirmGate
	config      Config
	cleanup     func(dl *Download)
	logger      *slog.Logger
}

// Deps holds everything a Pipeline needs. Cleanup, when set, runs after
// every run that produced a download, regardless of outcome.
type Deps struct {
	Downloader  Downloader
	Transcriber Transcriber
	Visual      VisualExtractor
	Synthesizer Synthesizer
	Exporters   []Exporter
	Gate        ConfirmGate
	Config      Config
	Cleanup     func(dl *Download)
	Logger      *slog.Logger
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	return &Pipeline{
		downloader:  deps.Downloader,
		transcriber: deps.Transcriber,
		visual:      deps.Visual,
		synthesizer: deps.Synthesizer,
		exporters:   deps.Exporters,
		gate:        deps.Gate,
		config:      deps.Config,
		cleanup:     deps.Cleanup,
		logger:      deps.Logger,
	}
}

// SetGate installs the confirmation gate after construction. The gate
// is usually the job manager, which itself needs the pipeline as its
// runner, so the gate cannot be supplied in Deps.
func (p *Pipeline) SetGate(gate ConfirmGate) {
	p.gate = gate
}

// Run executes all stages for the job, reporting progress after each.
// A context cancellation between stages surfaces as ctx.Err(); the
// manager maps it to the cancelled status.
func (p *Pipeline) Run(ctx context.Context, job *domain.Job, report ProgressFunc) (*Result, error) {
	log := p.logger.With(slog.String("job_id", job.JobID))

	// Stage 1: info. Metadata failures degrade the title, nothing else.
	report(job.JobID, domain.StageInfo, "Fetching video information...", percentInfo, "")
	title := ""
	description := ""
	info, err := p.downloader.FetchInfo(ctx, job.URL)
	if err != nil {
		log.Warn("Failed to fetch video info, continuing without metadata",
			slog.Any("error", err),
		)
	} else {
		title = info.Title
		description = info.Description
		report(job.JobID, domain.StageInfo, "Video: "+title, percentInfoDone, title)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 2: download. Fatal on failure.
	report(job.JobID, domain.StageDownload, "Downloading video...", percentDownload, title)
	dl, err := p.downloader.Download(ctx, job.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.DownloadError{Err: err}
	}
	if p.cleanup != nil {
		defer p.cleanup(dl)
	}
	if title == "" && dl.Title != "" {
		title = dl.Title
	}
	report(job.JobID, domain.StageDownload, "Video downloaded successfully", percentDownloadDone, title)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 3: transcribe. Fatal unless the video has no audio stream,
	// in which case on-screen text may still carry the recipe.
	report(job.JobID, domain.StageTranscribe, "Transcribing audio...", percentTranscribe, title)
	transcription := ""
	transcript, err := p.transcriber.Transcribe(ctx, dl.Path, p.config.TargetLanguage)
	switch {
	case err == nil:
		transcription = transcript.Text
	case errors.Is(err, domain.ErrNoAudio):
		log.Info("Video has no audio stream, continuing with empty transcript")
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, &domain.TranscriptionError{Err: err}
	}
	report(job.JobID, domain.StageTranscribe, "Audio transcribed", percentTranscribeEnd, title)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 4: visual text. Non-fatal.
	report(job.JobID, domain.StageVisual, "Extracting on-screen text...", percentVisual, title)
	visualText, err := p.visual.ExtractText(ctx, dl.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("Failed to extract visual text, continuing without it",
			slog.Any("error", err),
		)
		visualText = ""
	}
	report(job.JobID, domain.StageVisual, "Visual text extracted", percentVisualDone, title)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 5: dish image candidates. Non-fatal.
	report(job.JobID, domain.StageImage, "Extracting dish image...", percentImage, title)
	var images []domain.ImageCandidate
	images, err = p.visual.ExtractImageCandidates(ctx, dl.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("Failed to extract dish image, continuing without it",
			slog.Any("error", err),
		)
		images = nil
	}
	report(job.JobID, domain.StageImage, "Image extracted", percentImageDone, title)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 6: recipe synthesis. Fatal on failure.
	report(job.JobID, domain.StageEvaluate, "Creating recipe...", percentEvaluate, title)
	doc, err := p.synthesizer.Synthesize(ctx, SynthesisInput{
		SourceURL:      job.URL,
		Title:          title,
		Description:    description,
		Transcript:     transcription,
		VisualText:     visualText,
		TargetLanguage: p.config.TargetLanguage,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.SynthesisError{Err: err}
	}
	doc.SourceURL = job.URL
	doc.Images = images
	report(job.JobID, domain.StageEvaluate, "Recipe created successfully", percentEvaluateDone, title)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	imagePath := ""
	if best := doc.BestImage(); best != nil {
		imagePath = best.Path
	}

	// Stage 7: optional confirmation gate. The job keeps its execution
	// slot while suspended; the gate's timeout bounds the wait.
	if p.config.ConfirmBeforeUpload && p.gate != nil {
		report(job.JobID, domain.StagePreview, "Waiting for your confirmation...", percentEvaluateDone, title)
		approved, err := p.gate.Await(ctx, job.JobID, Preview{
			Recipe:    doc,
			ImagePath: imagePath,
			Targets:   p.targetNames(),
		})
		if err != nil {
			return nil, err
		}
		if !approved {
			return nil, context.Canceled
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage 8: upload. Per-target errors; completed when at least one
	// target succeeded.
	report(job.JobID, domain.StageUpload, "Uploading recipe...", percentUpload, title)
	exported, uploadErrs := p.upload(ctx, doc, imagePath)
	if len(exported) == 0 {
		return nil, uploadErrs
	}

	result := &Result{
		Recipe:        doc,
		Thumbnail:     readThumbnail(imagePath),
		ExportTargets: exported,
	}
	if len(uploadErrs) > 0 {
		result.Warning = uploadErrs.Error()
	}

	// The terminal report is the manager's: it persists and publishes
	// the complete event exactly once when it finalizes the job.
	return result, nil
}

func (p *Pipeline) targetNames() []string {
	names := make([]string, len(p.exporters))
	for i, e := range p.exporters {
		names[i] = e.Name()
	}
	return names
}

func (p *Pipeline) upload(ctx context.Context, doc *domain.RecipeDocument, imagePath string) ([]string, domain.UploadErrors) {
	var exported []string
	var uploadErrs domain.UploadErrors

	for _, exporter := range p.exporters {
		remoteID, err := exporter.CreateRecipe(ctx, doc)
		if err != nil {
			var ue *domain.UploadError
			if !errors.As(err, &ue) {
				ue = &domain.UploadError{Target: exporter.Name(), Detail: err.Error()}
			}
			p.logger.Error("Recipe upload failed",
				slog.String("target", exporter.Name()),
				slog.Any("error", err),
			)
			uploadErrs = append(uploadErrs, ue)
			continue
		}

		// Image upload is best-effort; the recipe already exists.
		if imagePath != "" && remoteID != "" {
			if err := exporter.UploadImage(ctx, remoteID, imagePath); err != nil {
				p.logger.Warn("Dish image upload failed",
					slog.String("target", exporter.Name()),
					slog.Any("error", err),
				)
			}
		}

		exported = append(exported, exporter.Name())
	}

	return exported, uploadErrs
}

func readThumbnail(imagePath string) []byte {
	if imagePath == "" {
		return nil
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil
	}
	return data
}

// CombineTranscripts joins audio transcription and on-screen text with
// section markers so the model can weigh them separately.
func CombineTranscripts(audio, visual string) string {
	if visual == "" {
		return audio
	}
	return fmt.Sprintf("=== AUDIO TRANSCRIPTION ===\n%s\n\n=== ON-SCREEN TEXT (ingredients, instructions, etc.) ===\n%s", audio, visual)
}
