package media

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opickel/social-recipes/internal/pipeline"
)

func testClient(tmpDir string) *Client {
	return NewClient(Config{TmpDir: tmpDir}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestParseInfoJSON(t *testing.T) {
	data := []byte(`{
		"id": "DHqXsAbc",
		"title": "One-Pot Creamy Pasta",
		"description": "Full recipe in the caption!",
		"ext": "mp4",
		"duration": 58.3
	}`)

	info, err := parseInfoJSON(data)
	require.NoError(t, err)
	assert.Equal(t, "DHqXsAbc", info.ID)
	assert.Equal(t, "One-Pot Creamy Pasta", info.Title)
	assert.Equal(t, "Full recipe in the caption!", info.Description)
	assert.Equal(t, "mp4", info.Ext)
}

func TestParseInfoJSONRejectsGarbage(t *testing.T) {
	_, err := parseInfoJSON([]byte("WARNING: unable to extract"))
	require.Error(t, err)

	_, err = parseInfoJSON([]byte("   "))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty output")
}

func TestFindDownloadedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	found, err := findDownloadedFile(dir)
	require.NoError(t, err)
	assert.Equal(t, path, found)

	_, err = findDownloadedFile(t.TempDir())
	require.Error(t, err)
}

func TestCleanupRemovesOnlyOwnTree(t *testing.T) {
	tmpDir := t.TempDir()
	c := testClient(tmpDir)

	jobDir := filepath.Join(tmpDir, "job-abc")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	videoPath := filepath.Join(jobDir, "video.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("x"), 0o644))

	c.Cleanup(&pipeline.Download{Path: videoPath})
	_, err := os.Stat(jobDir)
	assert.True(t, os.IsNotExist(err))

	// A path outside the client's tmp tree is left alone.
	outside := t.TempDir()
	outsideFile := filepath.Join(outside, "video.mp4")
	require.NoError(t, os.WriteFile(outsideFile, []byte("x"), 0o644))
	c.Cleanup(&pipeline.Download{Path: outsideFile})
	_, err = os.Stat(outsideFile)
	assert.NoError(t, err)

	c.Cleanup(nil)
	c.Cleanup(&pipeline.Download{})
}
