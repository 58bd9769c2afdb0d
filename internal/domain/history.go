package domain

import "time"

// History record outcome constants
const (
	HistoryStatusSuccess   = "success"
	HistoryStatusFailed    = "failed"
	HistoryStatusCancelled = "cancelled"
)

// HistoryRecord is the immutable outcome kept after a job leaves the
// active set. Outcome fields never change after the initial write; only
// ExportTargets may grow via an explicit re-export.
type HistoryRecord struct {
	ID            string          `db:"id" json:"id"`
	JobID         string          `db:"job_id" json:"job_id,omitempty"`
	URL           string          `db:"url" json:"url"`
	VideoTitle    string          `db:"video_title" json:"video_title,omitempty"`
	RecipeName    string          `db:"recipe_name" json:"recipe_name,omitempty"`
	Recipe        *RecipeDocument `db:"-" json:"recipe,omitempty"`
	Thumbnail     []byte          `db:"thumbnail" json:"-"`
	Status        string          `db:"status" json:"status"`
	ErrorMessage  string          `db:"error_message" json:"error_message,omitempty"`
	ExportTargets []string        `db:"-" json:"export_targets,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// FilterSupersededFailures drops failed records for URLs that also have
// a later successful record. This is a display-time filter; nothing is
// deleted. Input order (newest first or oldest first) is preserved.
func FilterSupersededFailures(records []HistoryRecord) []HistoryRecord {
	latestSuccess := make(map[string]time.Time, len(records))
	for _, r := range records {
		if r.Status != HistoryStatusSuccess {
			continue
		}
		if ts, ok := latestSuccess[r.URL]; !ok || r.CreatedAt.After(ts) {
			latestSuccess[r.URL] = r.CreatedAt
		}
	}

	out := make([]HistoryRecord, 0, len(records))
	for _, r := range records {
		if r.Status == HistoryStatusFailed {
			if ts, ok := latestSuccess[r.URL]; ok && ts.After(r.CreatedAt) {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}
