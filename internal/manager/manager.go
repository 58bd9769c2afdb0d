package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/opickel/social-recipes/internal/domain"
	"github.com/opickel/social-recipes/internal/events"
	"github.com/opickel/social-recipes/internal/pipeline"
	"github.com/opickel/social-recipes/internal/progress"
	"github.com/opickel/social-recipes/internal/store"
)

const (
	defaultMaxConcurrent  = 3
	defaultConfirmTimeout = 5 * time.Minute
	dbWriteTimeout        = 5 * time.Second
)

// Store is the persistence surface the manager needs.
type Store interface {
	CreateJob(ctx context.Context, url string) (string, error)
	UpdateJob(ctx context.Context, jobID string, update domain.JobUpdate) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListActiveJobs(ctx context.Context) ([]domain.Job, error)
	ArchiveToHistory(ctx context.Context, job *domain.Job, outcome store.Outcome) (string, error)
}

// Runner executes the full stage sequence for one job.
type Runner interface {
	Run(ctx context.Context, job *domain.Job, report pipeline.ProgressFunc) (*pipeline.Result, error)
}

type activeJob struct {
	cancel   context.CancelFunc
	confirm  chan bool
	preview  *pipeline.Preview
	awaiting bool
}

// Config holds manager behavior knobs.
type Config struct {
	MaxConcurrent  int
	ConfirmTimeout time.Duration
}

// Manager owns the job lifecycle: admission under a concurrency bound,
// cancellation, the confirmation gate, and exactly one terminal write
// per job.
type Manager struct {
	store     Store
	runner    Runner
	hub       *progress.Hub
	publisher events.Publisher
	sem       *semaphore.Weighted
	logger    *slog.Logger

	confirmTimeout time.Duration

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	active map[string]*activeJob
}

// New creates a Manager. Zero config fields fall back to defaults.
func New(st Store, runner Runner, hub *progress.Hub, publisher events.Publisher, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &Manager{
		store:          st,
		runner:         runner,
		hub:            hub,
		publisher:      publisher,
		sem:            semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:         logger,
		confirmTimeout: cfg.ConfirmTimeout,
		baseCtx:        baseCtx,
		stop:           stop,
		active:         make(map[string]*activeJob),
	}
}

// Submit validates the URL, persists a pending job, and starts its
// worker goroutine. The worker blocks on the admission semaphore, so a
// submit beyond the concurrency bound queues rather than fails.
func (m *Manager) Submit(ctx context.Context, rawURL string) (*domain.Job, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	jobID, err := m.store.CreateJob(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	job := &domain.Job{
		JobID:  jobID,
		URL:    rawURL,
		Status: domain.JobStatusPending,
	}

	jobCtx, cancel := context.WithCancel(m.baseCtx)
	m.mu.Lock()
	m.active[jobID] = &activeJob{
		cancel:  cancel,
		confirm: make(chan bool, 1),
	}
	m.mu.Unlock()

	m.publisher.PublishJobEvent(ctx, events.JobEvent{
		Type:  events.TypeJobCreated,
		JobID: jobID,
		URL:   rawURL,
	})

	m.logger.Info("Job submitted",
		slog.String("job_id", jobID),
		slog.String("url", rawURL),
	)

	m.wg.Add(1)
	go m.run(jobCtx, job)

	return job, nil
}

func (m *Manager) run(ctx context.Context, job *domain.Job) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		if aj, ok := m.active[job.JobID]; ok {
			aj.cancel()
			delete(m.active, job.JobID)
		}
		m.mu.Unlock()
	}()

	// Hold a slot for the whole run, confirmation wait included.
	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finalize(job, nil, err)
		return
	}
	defer m.sem.Release(1)

	if err := ctx.Err(); err != nil {
		m.finalize(job, nil, err)
		return
	}

	result, err := m.runner.Run(ctx, job, m.report)
	m.finalize(job, result, err)
}

// report persists the stage snapshot before fanning it out, so a poll
// never observes a state older than the stream.
func (m *Manager) report(jobID, stage, message string, percent int, videoTitle string) {
	update := domain.JobUpdate{
		Status:       domain.StringPtr(domain.StatusForStage(stage)),
		Progress:     domain.IntPtr(percent),
		Stage:        domain.StringPtr(stage),
		StageMessage: domain.StringPtr(message),
	}
	if videoTitle != "" {
		update.VideoTitle = domain.StringPtr(videoTitle)
	}

	ctx, cancel := context.WithTimeout(context.Background(), dbWriteTimeout)
	defer cancel()
	if err := m.store.UpdateJob(ctx, jobID, update); err != nil {
		m.logger.Error("Failed to persist job progress",
			slog.String("job_id", jobID),
			slog.String("stage", stage),
			slog.Any("error", err),
		)
	}

	m.hub.Publish(domain.ProgressEvent{
		JobID:      jobID,
		Stage:      stage,
		Message:    message,
		Percent:    percent,
		VideoTitle: videoTitle,
	})
}

// finalize writes the terminal state and archives the job to history.
// It runs exactly once per job, on a fresh context: the job's own
// context may already be cancelled.
func (m *Manager) finalize(job *domain.Job, result *pipeline.Result, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbWriteTimeout)
	defer cancel()

	// Pick up the title and stage the run accumulated.
	if current, err := m.store.GetJob(ctx, job.JobID); err == nil {
		job = current
	}

	var (
		stage   string
		message string
		outcome store.Outcome
		event   events.JobEvent
	)

	switch {
	case runErr == nil:
		stage = domain.StageComplete
		message = "Recipe uploaded successfully!"
		outcome = store.Outcome{
			Status:        domain.HistoryStatusSuccess,
			Recipe:        result.Recipe,
			Thumbnail:     result.Thumbnail,
			ErrorMessage:  result.Warning,
			ExportTargets: result.ExportTargets,
		}
		event = events.JobEvent{Type: events.TypeJobCompleted, RecipeName: result.Recipe.Name}

	case errors.Is(runErr, context.Canceled):
		stage = domain.StageCancelled
		message = "Job cancelled"
		outcome = store.Outcome{Status: domain.HistoryStatusCancelled}
		event = events.JobEvent{Type: events.TypeJobCancelled}

	case errors.Is(runErr, domain.ErrConfirmationTimeout):
		stage = domain.StageCancelled
		message = "Confirmation timed out, job cancelled"
		outcome = store.Outcome{Status: domain.HistoryStatusCancelled, ErrorMessage: runErr.Error()}
		event = events.JobEvent{Type: events.TypeJobCancelled, Error: runErr.Error()}

	default:
		stage = domain.StageError
		message = runErr.Error()
		outcome = store.Outcome{Status: domain.HistoryStatusFailed, ErrorMessage: runErr.Error()}
		event = events.JobEvent{Type: events.TypeJobFailed, Error: runErr.Error()}
		m.logger.Error("Job failed",
			slog.String("job_id", job.JobID),
			slog.Any("error", runErr),
		)
	}

	update := domain.JobUpdate{
		Status:       domain.StringPtr(domain.StatusForStage(stage)),
		Stage:        domain.StringPtr(stage),
		StageMessage: domain.StringPtr(message),
	}
	if runErr == nil {
		update.Progress = domain.IntPtr(100)
	}
	if outcome.ErrorMessage != "" {
		update.ErrorMessage = domain.StringPtr(outcome.ErrorMessage)
	}
	if err := m.store.UpdateJob(ctx, job.JobID, update); err != nil {
		m.logger.Error("Failed to persist terminal job state",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}

	if _, err := m.store.ArchiveToHistory(ctx, job, outcome); err != nil {
		m.logger.Error("Failed to archive job to history",
			slog.String("job_id", job.JobID),
			slog.Any("error", err),
		)
	}

	percent := job.Progress
	if runErr == nil {
		percent = 100
	}
	m.hub.Publish(domain.ProgressEvent{
		JobID:      job.JobID,
		Stage:      stage,
		Message:    message,
		Percent:    percent,
		VideoTitle: job.VideoTitle,
	})

	event.JobID = job.JobID
	event.URL = job.URL
	event.VideoTitle = job.VideoTitle
	m.publisher.PublishJobEvent(ctx, event)
}

// Cancel requests cooperative cancellation of a job. Terminal jobs
// return ErrAlreadyTerminal, unknown jobs ErrNotFound.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	aj, running := m.active[jobID]
	m.mu.Unlock()

	if running {
		m.logger.Info("Cancelling job", slog.String("job_id", jobID))
		aj.cancel()
		return nil
	}

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if domain.IsTerminal(job.Status) {
		return domain.ErrAlreadyTerminal
	}

	// Non-terminal in the store but not running here: a row orphaned by
	// a crash. Settle it directly.
	outcome := store.Outcome{Status: domain.HistoryStatusCancelled}
	if err := m.store.UpdateJob(ctx, jobID, domain.JobUpdate{
		Status:       domain.StringPtr(domain.JobStatusCancelled),
		Stage:        domain.StringPtr(domain.StageCancelled),
		StageMessage: domain.StringPtr("Job cancelled"),
	}); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	if _, err := m.store.ArchiveToHistory(ctx, job, outcome); err != nil {
		return fmt.Errorf("failed to archive cancelled job: %w", err)
	}
	return nil
}

// Confirm resolves the confirmation gate for a suspended job. approved
// false rejects the recipe, which cancels the job.
func (m *Manager) Confirm(ctx context.Context, jobID string, approved bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	aj, running := m.active[jobID]
	if !running {
		job, err := m.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if domain.IsTerminal(job.Status) {
			return domain.ErrAlreadyTerminal
		}
		return fmt.Errorf("%w: job is not awaiting confirmation", domain.ErrInvalidInput)
	}
	if !aj.awaiting {
		return fmt.Errorf("%w: job is not awaiting confirmation", domain.ErrInvalidInput)
	}

	aj.awaiting = false
	aj.confirm <- approved
	return nil
}

// Await implements the confirmation gate: it suspends the pipeline
// until Confirm resolves it, the job is cancelled, or the timeout
// elapses. The job keeps its execution slot while suspended.
func (m *Manager) Await(ctx context.Context, jobID string, preview pipeline.Preview) (bool, error) {
	m.mu.Lock()
	aj, ok := m.active[jobID]
	if !ok {
		m.mu.Unlock()
		return false, domain.ErrNotFound
	}
	aj.preview = &preview
	aj.awaiting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		aj.preview = nil
		aj.awaiting = false
		m.mu.Unlock()
	}()

	timer := time.NewTimer(m.confirmTimeout)
	defer timer.Stop()

	select {
	case approved := <-aj.confirm:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		// Confirm can win the race against the timer: it already saw
		// awaiting, buffered its answer, and reported success to the
		// client. Settle under the lock so both sides agree: honor a
		// buffered answer, otherwise close the gate so a late Confirm
		// gets ErrInvalidInput instead of a silent success.
		m.mu.Lock()
		select {
		case approved := <-aj.confirm:
			m.mu.Unlock()
			return approved, nil
		default:
			aj.awaiting = false
			m.mu.Unlock()
			return false, domain.ErrConfirmationTimeout
		}
	}
}

// Preview returns the recipe preview for a job suspended at the
// confirmation gate, or ErrNotFound when the job is not awaiting one.
func (m *Manager) Preview(jobID string) (*pipeline.Preview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	aj, ok := m.active[jobID]
	if !ok || !aj.awaiting || aj.preview == nil {
		return nil, domain.ErrNotFound
	}
	preview := *aj.preview
	return &preview, nil
}

// GetJob returns the current snapshot of one job.
func (m *Manager) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// ListActive returns all non-terminal jobs.
func (m *Manager) ListActive(ctx context.Context) ([]domain.Job, error) {
	return m.store.ListActiveJobs(ctx)
}

// Restore settles jobs left non-terminal by an unclean shutdown. They
// cannot be resumed mid-stage, so they fail with an explanatory
// message and land in history like any other failure.
func (m *Manager) Restore(ctx context.Context) error {
	stale, err := m.store.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list interrupted jobs: %w", err)
	}

	for i := range stale {
		job := stale[i]
		message := domain.ErrInterrupted.Error()

		if err := m.store.UpdateJob(ctx, job.JobID, domain.JobUpdate{
			Status:       domain.StringPtr(domain.JobStatusFailed),
			Stage:        domain.StringPtr(domain.StageError),
			StageMessage: domain.StringPtr(message),
			ErrorMessage: domain.StringPtr(message),
		}); err != nil {
			m.logger.Error("Failed to mark interrupted job",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
			continue
		}

		if _, err := m.store.ArchiveToHistory(ctx, &job, store.Outcome{
			Status:       domain.HistoryStatusFailed,
			ErrorMessage: message,
		}); err != nil {
			m.logger.Error("Failed to archive interrupted job",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
			continue
		}

		m.publisher.PublishJobEvent(ctx, events.JobEvent{
			Type:       events.TypeJobFailed,
			JobID:      job.JobID,
			URL:        job.URL,
			VideoTitle: job.VideoTitle,
			Error:      message,
		})
		m.logger.Warn("Interrupted job marked as failed",
			slog.String("job_id", job.JobID),
			slog.String("url", job.URL),
		)
	}

	if len(stale) > 0 {
		m.logger.Info("Startup recovery finished", slog.Int("jobs", len(stale)))
	}
	return nil
}

// Shutdown cancels all running jobs and waits for their terminal
// writes, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func validateURL(rawURL string) error {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return fmt.Errorf("%w: url is required", domain.ErrInvalidInput)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, err.Error())
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: url scheme must be http or https", domain.ErrInvalidInput)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: url host is required", domain.ErrInvalidInput)
	}
	return nil
}
