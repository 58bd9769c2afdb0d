package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opickel/social-recipes/internal/domain"
	"github.com/opickel/social-recipes/internal/pipeline"
	"github.com/opickel/social-recipes/internal/progress"
	"github.com/opickel/social-recipes/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	archives map[string][]store.Outcome
	nextID   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:     make(map[string]*domain.Job),
		archives: make(map[string][]store.Outcome),
	}
}

func (s *fakeStore) CreateJob(_ context.Context, url string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("job-%d", s.nextID)
	now := time.Now().UTC()
	s.jobs[id] = &domain.Job{
		JobID:     id,
		URL:       url,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id, nil
}

func (s *fakeStore) UpdateJob(_ context.Context, jobID string, update domain.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if update.Status != nil {
		job.Status = *update.Status
	}
	if update.Progress != nil {
		job.Progress = *update.Progress
	}
	if update.Stage != nil {
		job.Stage = *update.Stage
	}
	if update.StageMessage != nil {
		job.StageMessage = *update.StageMessage
	}
	if update.VideoTitle != nil {
		job.VideoTitle = *update.VideoTitle
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = *update.ErrorMessage
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) ListActiveJobs(_ context.Context) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []domain.Job
	for _, job := range s.jobs {
		if !domain.IsTerminal(job.Status) {
			active = append(active, *job)
		}
	}
	return active, nil
}

func (s *fakeStore) ArchiveToHistory(_ context.Context, job *domain.Job, outcome store.Outcome) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives[job.JobID] = append(s.archives[job.JobID], outcome)
	return "hist-" + job.JobID, nil
}

func (s *fakeStore) jobStatus(jobID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobID]; ok {
		return job.Status
	}
	return ""
}

func (s *fakeStore) archiveCount(jobID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.archives[jobID])
}

func (s *fakeStore) lastOutcome(jobID string) (store.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcomes := s.archives[jobID]
	if len(outcomes) == 0 {
		return store.Outcome{}, false
	}
	return outcomes[len(outcomes)-1], true
}

type fakeRunner struct {
	fn func(ctx context.Context, job *domain.Job, report pipeline.ProgressFunc) (*pipeline.Result, error)
}

func (r *fakeRunner) Run(ctx context.Context, job *domain.Job, report pipeline.ProgressFunc) (*pipeline.Result, error) {
	return r.fn(ctx, job, report)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(t *testing.T, st Store, runner Runner, cfg Config) *Manager {
	t.Helper()
	m := New(st, runner, progress.NewHub(testLogger()), nil, cfg, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func successResult() *pipeline.Result {
	return &pipeline.Result{
		Recipe:        &domain.RecipeDocument{Name: "Pasta"},
		ExportTargets: []string{"mealie"},
	}
}

func waitForTerminal(t *testing.T, st *fakeStore, jobID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return domain.IsTerminal(st.jobStatus(jobID))
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFinalizePublishesSingleCompleteEvent(t *testing.T) {
	st := newFakeStore()
	hub := progress.NewHub(testLogger())

	runner := &fakeRunner{fn: func(ctx context.Context, job *domain.Job, report pipeline.ProgressFunc) (*pipeline.Result, error) {
		report(job.JobID, domain.StageUpload, "Uploading recipe...", 95, "Pasta")
		return successResult(), nil
	}}
	m := New(st, runner, hub, nil, Config{}, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	events, cancelSub := hub.SubscribeAll()
	defer cancelSub()

	job, err := m.Submit(context.Background(), "https://example.com/video")
	require.NoError(t, err)
	waitForTerminal(t, st, job.JobID)

	var stages []string
	require.Eventually(t, func() bool {
		drained := false
		for !drained {
			select {
			case ev := <-events:
				stages = append(stages, ev.Stage)
			default:
				drained = true
			}
		}
		for _, s := range stages {
			if s == domain.StageComplete {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	// Give a duplicate terminal publish time to arrive, then count.
	time.Sleep(50 * time.Millisecond)
	drained := false
	for !drained {
		select {
		case ev := <-events:
			stages = append(stages, ev.Stage)
		default:
			drained = true
		}
	}

	var uploads, completes int
	for _, s := range stages {
		switch s {
		case domain.StageUpload:
			uploads++
		case domain.StageComplete:
			completes++
		}
	}
	assert.Equal(t, 1, uploads)
	assert.Equal(t, 1, completes, "finalize owns the single terminal event")
}

func TestSubmitRejectsInvalidURL(t *testing.T) {
	st := newFakeStore()
	m := newManager(t, st, &fakeRunner{}, Config{})

	tests := []struct {
		name string
		url  string
	}{
		{name: "empty", url: ""},
		{name: "whitespace only", url: "   "},
		{name: "no scheme", url: "instagram.com/reel/abc"},
		{name: "unsupported scheme", url: "ftp://example.com/video"},
		{name: "no host", url: "https://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Submit(context.Background(), tt.url)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}

	assert.Empty(t, st.jobs)
}

func TestSubmitRunsToCompletion(t *testing.T) {
	st := newFakeStore()
	runner := &fakeRunner{fn: func(_ context.Context, job *domain.Job, report pipeline.ProgressFunc) (*pipeline.Result, error) {
		report(job.JobID, domain.StageDownload, "Downloading video...", 20, "Pasta Video")
		return successResult(), nil
	}}
	m := newManager(t, st, runner, Config{})

	job, err := m.Submit(context.Background(), "https://www.tiktok.com/@cook/video/123")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	waitForTerminal(t, st, job.JobID)

	stored, err := st.GetJob(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.Equal(t, "Pasta Video", stored.VideoTitle)

	require.Equal(t, 1, st.archiveCount(job.JobID))
	outcome, ok := st.lastOutcome(job.JobID)
	require.True(t, ok)
	assert.Equal(t, domain.HistoryStatusSuccess, outcome.Status)
	assert.Equal(t, "Pasta", outcome.Recipe.Name)
	assert.Equal(t, []string{"mealie"}, outcome.ExportTargets)
}

func TestSubmitFailureArchivesOnce(t *testing.T) {
	st := newFakeStore()
	runner := &fakeRunner{fn: func(context.Context, *domain.Job, pipeline.ProgressFunc) (*pipeline.Result, error) {
		return nil, &domain.DownloadError{Err: errors.New("video unavailable")}
	}}
	m := newManager(t, st, runner, Config{})

	job, err := m.Submit(context.Background(), "https://example.com/watch")
	require.NoError(t, err)
	waitForTerminal(t, st, job.JobID)

	assert.Equal(t, domain.JobStatusFailed, st.jobStatus(job.JobID))
	require.Equal(t, 1, st.archiveCount(job.JobID))
	outcome, _ := st.lastOutcome(job.JobID)
	assert.Equal(t, domain.HistoryStatusFailed, outcome.Status)
	assert.Contains(t, outcome.ErrorMessage, "download failed")
}

func TestConcurrencyBound(t *testing.T) {
	st := newFakeStore()
	release := make(chan struct{})
	var running, maxRunning int32

	runner := &fakeRunner{fn: func(ctx context.Context, _ *domain.Job, _ pipeline.ProgressFunc) (*pipeline.Result, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			cur := atomic.LoadInt32(&maxRunning)
			if n <= cur || atomic.CompareAndSwapInt32(&maxRunning, cur, n) {
				break
			}
		}
		defer atomic.AddInt32(&running, -1)
		select {
		case <-release:
			return successResult(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	m := newManager(t, st, runner, Config{MaxConcurrent: 2})

	var jobIDs []string
	for i := 0; i < 5; i++ {
		job, err := m.Submit(context.Background(), "https://example.com/video")
		require.NoError(t, err)
		jobIDs = append(jobIDs, job.JobID)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&running) == 2
	}, 2*time.Second, 5*time.Millisecond)

	close(release)
	for _, id := range jobIDs {
		waitForTerminal(t, st, id)
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&maxRunning))
	for _, id := range jobIDs {
		assert.Equal(t, 1, st.archiveCount(id))
	}
}

func TestCancelRunningJob(t *testing.T) {
	st := newFakeStore()
	started := make(chan struct{})
	runner := &fakeRunner{fn: func(ctx context.Context, _ *domain.Job, _ pipeline.ProgressFunc) (*pipeline.Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m := newManager(t, st, runner, Config{})

	job, err := m.Submit(context.Background(), "https://example.com/video")
	require.NoError(t, err)
	<-started

	require.NoError(t, m.Cancel(context.Background(), job.JobID))
	waitForTerminal(t, st, job.JobID)

	assert.Equal(t, domain.JobStatusCancelled, st.jobStatus(job.JobID))
	outcome, _ := st.lastOutcome(job.JobID)
	assert.Equal(t, domain.HistoryStatusCancelled, outcome.Status)
	assert.Equal(t, 1, st.archiveCount(job.JobID))

	err = m.Cancel(context.Background(), job.JobID)
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
}

func TestCancelUnknownJob(t *testing.T) {
	m := newManager(t, newFakeStore(), &fakeRunner{}, Config{})
	err := m.Cancel(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConfirmationApproved(t *testing.T) {
	st := newFakeStore()
	var m *Manager
	awaiting := make(chan struct{})

	runner := &fakeRunner{fn: func(ctx context.Context, job *domain.Job, _ pipeline.ProgressFunc) (*pipeline.Result, error) {
		close(awaiting)
		approved, err := m.Await(ctx, job.JobID, pipeline.Preview{
			Recipe:  &domain.RecipeDocument{Name: "Pasta"},
			Targets: []string{"mealie"},
		})
		if err != nil {
			return nil, err
		}
		if !approved {
			return nil, context.Canceled
		}
		return successResult(), nil
	}}
	m = newManager(t, st, runner, Config{ConfirmTimeout: 2 * time.Second})

	job, err := m.Submit(context.Background(), "https://example.com/video")
	require.NoError(t, err)
	<-awaiting

	require.Eventually(t, func() bool {
		_, err := m.Preview(job.JobID)
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	preview, err := m.Preview(job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "Pasta", preview.Recipe.Name)

	require.NoError(t, m.Confirm(context.Background(), job.JobID, true))
	waitForTerminal(t, st, job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, st.jobStatus(job.JobID))
}

func TestConfirmationRejected(t *testing.T) {
	st := newFakeStore()
	var m *Manager

	runner := &fakeRunner{fn: func(ctx context.Context, job *domain.Job, _ pipeline.ProgressFunc) (*pipeline.Result, error) {
		approved, err := m.Await(ctx, job.JobID, pipeline.Preview{Recipe: &domain.RecipeDocument{Name: "Pasta"}})
		if err != nil {
			return nil, err
		}
		if !approved {
			return nil, context.Canceled
		}
		return successResult(), nil
	}}
	m = newManager(t, st, runner, Config{ConfirmTimeout: 2 * time.Second})

	job, err := m.Submit(context.Background(), "https://example.com/video")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Confirm(context.Background(), job.JobID, false) == nil
	}, 2*time.Second, 5*time.Millisecond)

	waitForTerminal(t, st, job.JobID)
	assert.Equal(t, domain.JobStatusCancelled, st.jobStatus(job.JobID))
}

func TestConfirmationTimeout(t *testing.T) {
	st := newFakeStore()
	var m *Manager

	runner := &fakeRunner{fn: func(ctx context.Context, job *domain.Job, _ pipeline.ProgressFunc) (*pipeline.Result, error) {
		_, err := m.Await(ctx, job.JobID, pipeline.Preview{Recipe: &domain.RecipeDocument{Name: "Pasta"}})
		return nil, err
	}}
	m = newManager(t, st, runner, Config{ConfirmTimeout: 30 * time.Millisecond})

	job, err := m.Submit(context.Background(), "https://example.com/video")
	require.NoError(t, err)
	waitForTerminal(t, st, job.JobID)

	assert.Equal(t, domain.JobStatusCancelled, st.jobStatus(job.JobID))
	outcome, _ := st.lastOutcome(job.JobID)
	assert.Equal(t, domain.HistoryStatusCancelled, outcome.Status)
	assert.Contains(t, outcome.ErrorMessage, "confirmation")
}

func TestConfirmationTimeoutAgreesWithClient(t *testing.T) {
	st := newFakeStore()
	var m *Manager

	runner := &fakeRunner{fn: func(ctx context.Context, job *domain.Job, _ pipeline.ProgressFunc) (*pipeline.Result, error) {
		approved, err := m.Await(ctx, job.JobID, pipeline.Preview{Recipe: &domain.RecipeDocument{Name: "Pasta"}})
		if err != nil {
			return nil, err
		}
		if !approved {
			return nil, context.Canceled
		}
		return successResult(), nil
	}}
	// Expired timer from the start: every Confirm races the timeout.
	m = newManager(t, st, runner, Config{ConfirmTimeout: time.Nanosecond})

	job, err := m.Submit(context.Background(), "https://example.com/video")
	require.NoError(t, err)

	// Hammer Confirm until it resolves one way or the other. Whatever
	// the race decides, the client and the job must agree: a nil error
	// from Confirm means the approval was honored.
	var confirmErr error
	require.Eventually(t, func() bool {
		confirmErr = m.Confirm(context.Background(), job.JobID, true)
		return confirmErr == nil || errors.Is(confirmErr, domain.ErrAlreadyTerminal)
	}, 2*time.Second, time.Millisecond)

	waitForTerminal(t, st, job.JobID)
	if confirmErr == nil {
		assert.Equal(t, domain.JobStatusCompleted, st.jobStatus(job.JobID))
	} else {
		assert.Equal(t, domain.JobStatusCancelled, st.jobStatus(job.JobID))
	}
}

func TestConfirmNotAwaiting(t *testing.T) {
	st := newFakeStore()
	started := make(chan struct{})
	release := make(chan struct{})
	runner := &fakeRunner{fn: func(ctx context.Context, _ *domain.Job, _ pipeline.ProgressFunc) (*pipeline.Result, error) {
		close(started)
		select {
		case <-release:
			return successResult(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	m := newManager(t, st, runner, Config{})

	job, err := m.Submit(context.Background(), "https://example.com/video")
	require.NoError(t, err)
	<-started

	err = m.Confirm(context.Background(), job.JobID, true)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	close(release)
	waitForTerminal(t, st, job.JobID)

	err = m.Confirm(context.Background(), job.JobID, true)
	assert.ErrorIs(t, err, domain.ErrAlreadyTerminal)
}

func TestConfirmUnknownJob(t *testing.T) {
	m := newManager(t, newFakeStore(), &fakeRunner{}, Config{})
	err := m.Confirm(context.Background(), "nope", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRestoreFailsInterruptedJobs(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()

	id1, err := st.CreateJob(ctx, "https://example.com/a")
	require.NoError(t, err)
	require.NoError(t, st.UpdateJob(ctx, id1, domain.JobUpdate{
		Status: domain.StringPtr(domain.JobStatusTranscribing),
	}))
	id2, err := st.CreateJob(ctx, "https://example.com/b")
	require.NoError(t, err)

	id3, err := st.CreateJob(ctx, "https://example.com/c")
	require.NoError(t, err)
	require.NoError(t, st.UpdateJob(ctx, id3, domain.JobUpdate{
		Status: domain.StringPtr(domain.JobStatusCompleted),
	}))

	m := newManager(t, st, &fakeRunner{}, Config{})
	require.NoError(t, m.Restore(ctx))

	for _, id := range []string{id1, id2} {
		assert.Equal(t, domain.JobStatusFailed, st.jobStatus(id))
		outcome, ok := st.lastOutcome(id)
		require.True(t, ok)
		assert.Equal(t, domain.HistoryStatusFailed, outcome.Status)
		assert.Contains(t, outcome.ErrorMessage, "interrupted")
	}

	assert.Equal(t, domain.JobStatusCompleted, st.jobStatus(id3))
	assert.Equal(t, 0, st.archiveCount(id3))
}

func TestListActive(t *testing.T) {
	st := newFakeStore()
	ctx := context.Background()
	id, err := st.CreateJob(ctx, "https://example.com/a")
	require.NoError(t, err)

	m := newManager(t, st, &fakeRunner{}, Config{})
	active, err := m.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].JobID)
}
