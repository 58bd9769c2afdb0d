package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/opickel/social-recipes/internal/domain"
	"github.com/opickel/social-recipes/shared/postgresql"
)

// Store persists jobs and history records. All writes are synchronous;
// a crash between two stages never loses the last persisted progress.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a Store on top of the shared PostgreSQL client.
func New(pg *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		db:     pg.GetDB(),
		logger: logger,
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id        UUID PRIMARY KEY,
		url           TEXT NOT NULL,
		status        TEXT NOT NULL,
		progress      INT NOT NULL DEFAULT 0,
		stage         TEXT NOT NULL DEFAULT '',
		stage_message TEXT NOT NULL DEFAULT '',
		video_title   TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	`CREATE TABLE IF NOT EXISTS history (
		id             UUID PRIMARY KEY,
		job_id         UUID,
		url            TEXT NOT NULL,
		video_title    TEXT NOT NULL DEFAULT '',
		recipe_name    TEXT NOT NULL DEFAULT '',
		recipe         JSONB,
		thumbnail      BYTEA,
		status         TEXT NOT NULL,
		error_message  TEXT NOT NULL DEFAULT '',
		export_targets TEXT[] NOT NULL DEFAULT '{}',
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_url ON history (url)`,
	`CREATE INDEX IF NOT EXISTS idx_history_created_at ON history (created_at DESC, id DESC)`,
}

// InitSchema creates the jobs and history tables if they do not exist.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

// CreateJob inserts a pending job row and returns its identifier.
func (s *Store) CreateJob(ctx context.Context, url string) (string, error) {
	jobID := uuid.New().String()
	now := time.Now().UTC()

	query := `
		INSERT INTO jobs (job_id, url, status, progress, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)
	`

	if _, err := s.db.ExecContext(ctx, query, jobID, url, domain.JobStatusPending, now); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", jobID),
		slog.String("url", url),
	)

	return jobID, nil
}

// UpdateJob applies a partial update. Returns domain.ErrNotFound when
// the job does not exist.
func (s *Store) UpdateJob(ctx context.Context, jobID string, update domain.JobUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []interface{}{time.Now().UTC()}
	argIdx := 2

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if update.Status != nil {
		add("status", *update.Status)
	}
	if update.Progress != nil {
		add("progress", *update.Progress)
	}
	if update.Stage != nil {
		add("stage", *update.Stage)
	}
	if update.StageMessage != nil {
		add("stage_message", *update.StageMessage)
	}
	if update.VideoTitle != nil {
		add("video_title", *update.VideoTitle)
	}
	if update.ErrorMessage != nil {
		add("error_message", *update.ErrorMessage)
	}

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE job_id = $%d", strings.Join(sets, ", "), argIdx)
	args = append(args, jobID)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// GetJob fetches a single job row.
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT job_id, url, status, progress, stage, stage_message,
		       video_title, error_message, created_at, updated_at
		FROM jobs
		WHERE job_id = $1
	`

	var job domain.Job
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ListActiveJobs returns every job whose status is not terminal,
// newest first.
func (s *Store) ListActiveJobs(ctx context.Context) ([]domain.Job, error) {
	query := `
		SELECT job_id, url, status, progress, stage, stage_message,
		       video_title, error_message, created_at, updated_at
		FROM jobs
		WHERE status = ANY($1)
		ORDER BY created_at DESC, job_id DESC
	`

	var jobs []domain.Job
	if err := s.db.SelectContext(ctx, &jobs, query, pq.Array(domain.ActiveStatuses())); err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	return jobs, nil
}

// Outcome describes the terminal result archived with a job.
type Outcome struct {
	Status        string
	Recipe        *domain.RecipeDocument
	Thumbnail     []byte
	ErrorMessage  string
	ExportTargets []string
}

// ArchiveToHistory writes the immutable history record for a finished
// job and returns the history id. The caller guarantees exactly one
// terminal write per job.
func (s *Store) ArchiveToHistory(ctx context.Context, job *domain.Job, outcome Outcome) (string, error) {
	historyID := uuid.New().String()

	var recipeJSON []byte
	var recipeName string
	if outcome.Recipe != nil {
		var err error
		recipeJSON, err = json.Marshal(outcome.Recipe)
		if err != nil {
			return "", fmt.Errorf("failed to marshal recipe: %w", err)
		}
		recipeName = outcome.Recipe.Name
	}

	targets := outcome.ExportTargets
	if targets == nil {
		targets = []string{}
	}

	query := `
		INSERT INTO history (id, job_id, url, video_title, recipe_name, recipe,
		                     thumbnail, status, error_message, export_targets, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.ExecContext(ctx, query,
		historyID,
		job.JobID,
		job.URL,
		job.VideoTitle,
		recipeName,
		recipeJSON,
		outcome.Thumbnail,
		outcome.Status,
		outcome.ErrorMessage,
		pq.Array(targets),
		time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to archive job to history: %w", err)
	}

	s.logger.Info("Job archived to history",
		slog.String("job_id", job.JobID),
		slog.String("history_id", historyID),
		slog.String("status", outcome.Status),
	)

	return historyID, nil
}

// HistoryFilter narrows and paginates history listing.
type HistoryFilter struct {
	URL      string
	Status   string
	PageSize int
	Cursor   *HistoryCursor
}

// HistoryCursor is a (created_at, id) keyset position.
type HistoryCursor struct {
	CreatedAt time.Time
	ID        string
}

type historyRow struct {
	ID            string         `db:"id"`
	JobID         sql.NullString `db:"job_id"`
	URL           string         `db:"url"`
	VideoTitle    string         `db:"video_title"`
	RecipeName    string         `db:"recipe_name"`
	Recipe        []byte         `db:"recipe"`
	Thumbnail     []byte         `db:"thumbnail"`
	Status        string         `db:"status"`
	ErrorMessage  string         `db:"error_message"`
	ExportTargets pq.StringArray `db:"export_targets"`
	CreatedAt     time.Time      `db:"created_at"`
}

func (r *historyRow) toDomain() (domain.HistoryRecord, error) {
	rec := domain.HistoryRecord{
		ID:            r.ID,
		URL:           r.URL,
		VideoTitle:    r.VideoTitle,
		RecipeName:    r.RecipeName,
		Thumbnail:     r.Thumbnail,
		Status:        r.Status,
		ErrorMessage:  r.ErrorMessage,
		ExportTargets: r.ExportTargets,
		CreatedAt:     r.CreatedAt,
	}
	if r.JobID.Valid {
		rec.JobID = r.JobID.String
	}
	if len(r.Recipe) > 0 {
		var doc domain.RecipeDocument
		if err := json.Unmarshal(r.Recipe, &doc); err != nil {
			return rec, fmt.Errorf("failed to unmarshal recipe: %w", err)
		}
		rec.Recipe = &doc
	}
	return rec, nil
}

// ListHistory returns history records newest first. Failed records
// superseded by a later success for the same URL are hidden inside the
// query, before the limit, so the rule holds across pages and the
// extra-row pagination math stays exact.
func (s *Store) ListHistory(ctx context.Context, filter HistoryFilter) ([]domain.HistoryRecord, error) {
	query, args := buildHistoryQuery(filter)

	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	records := make([]domain.HistoryRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// buildHistoryQuery assembles the history listing query. The
// superseded-failure predicate mirrors domain.FilterSupersededFailures;
// one extra row is fetched so the caller can detect further pages.
func buildHistoryQuery(filter HistoryFilter) (string, []interface{}) {
	query := `
		SELECT id, job_id, url, video_title, recipe_name, recipe,
		       thumbnail, status, error_message, export_targets, created_at
		FROM history
		WHERE NOT (
			status = 'failed'
			AND EXISTS (
				SELECT 1 FROM history later
				WHERE later.url = history.url
				  AND later.status = 'success'
				  AND later.created_at > history.created_at
			)
		)
	`
	args := []interface{}{}
	argIdx := 1

	if filter.URL != "" {
		query += fmt.Sprintf(" AND url = $%d", argIdx)
		args = append(args, filter.URL)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.PageSize > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.PageSize+1)
	}

	return query, args
}

// GetHistory fetches one history record including the recipe document.
func (s *Store) GetHistory(ctx context.Context, id string) (*domain.HistoryRecord, error) {
	query := `
		SELECT id, job_id, url, video_title, recipe_name, recipe,
		       thumbnail, status, error_message, export_targets, created_at
		FROM history
		WHERE id = $1
	`

	var row historyRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get history record: %w", err)
	}

	rec, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteHistory removes one history record.
func (s *Store) DeleteHistory(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete history record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// AppendExportTarget records an additional export target after a
// re-upload. This is the only mutation allowed on a history record.
func (s *Store) AppendExportTarget(ctx context.Context, id, target string) error {
	query := `
		UPDATE history
		SET export_targets = array_append(export_targets, $1)
		WHERE id = $2 AND NOT ($1 = ANY(export_targets))
	`

	if _, err := s.db.ExecContext(ctx, query, target, id); err != nil {
		return fmt.Errorf("failed to append export target: %w", err)
	}

	return nil
}
