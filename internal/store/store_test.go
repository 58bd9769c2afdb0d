package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHistoryQueryHidesSupersededFailures(t *testing.T) {
	query, args := buildHistoryQuery(HistoryFilter{PageSize: 20})

	// The hiding rule must sit in the WHERE clause, before the limit,
	// so a failure superseded on an earlier page stays hidden and the
	// extra-row page detection is not skewed by dropped rows.
	assert.Contains(t, query, "status = 'failed'")
	assert.Contains(t, query, "EXISTS")
	assert.Contains(t, query, "later.status = 'success'")
	assert.Contains(t, query, "later.created_at > history.created_at")
	assert.Less(t, strings.Index(query, "EXISTS"), strings.Index(query, "LIMIT"))

	require.Len(t, args, 1)
	assert.Equal(t, 21, args[0], "one extra row for page detection")
}

func TestBuildHistoryQueryFilters(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	query, args := buildHistoryQuery(HistoryFilter{
		URL:      "https://example.com/reel/1",
		Status:   "success",
		PageSize: 10,
		Cursor:   &HistoryCursor{CreatedAt: at, ID: "abc"},
	})

	assert.Contains(t, query, "url = $1")
	assert.Contains(t, query, "status = $2")
	assert.Contains(t, query, "(created_at, id) < ($3, $4)")
	assert.Contains(t, query, "LIMIT $5")
	assert.Contains(t, query, "ORDER BY created_at DESC, id DESC")

	require.Len(t, args, 5)
	assert.Equal(t, "https://example.com/reel/1", args[0])
	assert.Equal(t, "success", args[1])
	assert.Equal(t, at, args[2])
	assert.Equal(t, "abc", args[3])
	assert.Equal(t, 11, args[4])
}

func TestBuildHistoryQueryNoPageSize(t *testing.T) {
	query, args := buildHistoryQuery(HistoryFilter{})

	assert.NotContains(t, query, "LIMIT")
	assert.Empty(t, args)
}
