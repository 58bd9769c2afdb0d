package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opickel/social-recipes/internal/pipeline"
)

const defaultBin = "yt-dlp"

// Format selection mirrors what recipe videos actually need: a single
// mp4 the frame extractor can read without remuxing.
const downloadFormat = "mp4/best"

// Config holds the yt-dlp client settings.
type Config struct {
	BinPath string
	TmpDir  string
	Timeout time.Duration
}

// Client shells out to yt-dlp for video metadata and media downloads.
// Each download lands in its own directory under TmpDir so concurrent
// jobs never collide.
type Client struct {
	bin     string
	tmpDir  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a yt-dlp client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	bin := cfg.BinPath
	if bin == "" {
		bin = defaultBin
	}
	return &Client{
		bin:     bin,
		tmpDir:  cfg.TmpDir,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// CheckBinary verifies yt-dlp is installed and reachable.
func (c *Client) CheckBinary() error {
	if _, err := exec.LookPath(c.bin); err != nil {
		return fmt.Errorf("missing dependency: %s is not installed or not on PATH", c.bin)
	}
	return nil
}

// infoJSON is the subset of yt-dlp's -J output we care about.
type infoJSON struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Ext         string  `json:"ext"`
	Duration    float64 `json:"duration"`
}

// FetchInfo retrieves video metadata without downloading media.
func (c *Client) FetchInfo(ctx context.Context, url string) (*pipeline.VideoInfo, error) {
	args := []string{"-J", "--skip-download", "--no-playlist", url}
	stdout, err := c.run(ctx, args)
	if err != nil {
		return nil, err
	}

	info, err := parseInfoJSON(stdout)
	if err != nil {
		return nil, err
	}
	return &pipeline.VideoInfo{
		ID:          info.ID,
		Title:       info.Title,
		Description: info.Description,
	}, nil
}

// Download fetches the video into a fresh per-job directory and returns
// the local path. yt-dlp prints the final info JSON so the exact output
// file is known without globbing.
func (c *Client) Download(ctx context.Context, url string) (*pipeline.Download, error) {
	dir := filepath.Join(c.tmpDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	args := []string{
		"--no-playlist",
		"--no-progress",
		"--print-json",
		"-f", downloadFormat,
		"-o", filepath.Join(dir, "video.%(ext)s"),
		url,
	}
	stdout, err := c.run(ctx, args)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	dl := &pipeline.Download{}
	if info, perr := parseInfoJSON(stdout); perr == nil {
		dl.VideoID = info.ID
		dl.Title = info.Title
		if info.Ext != "" {
			dl.Path = filepath.Join(dir, "video."+info.Ext)
		}
	}
	if dl.Path == "" {
		path, ferr := findDownloadedFile(dir)
		if ferr != nil {
			_ = os.RemoveAll(dir)
			return nil, ferr
		}
		dl.Path = path
	}

	if _, err := os.Stat(dl.Path); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("downloaded file missing: %w", err)
	}

	c.logger.Debug("Video downloaded",
		slog.String("url", url),
		slog.String("path", dl.Path),
	)
	return dl, nil
}

// Cleanup removes the per-job download directory.
func (c *Client) Cleanup(dl *pipeline.Download) {
	if dl == nil || dl.Path == "" {
		return
	}
	dir := filepath.Dir(dl.Path)
	// Never remove anything outside our own tmp tree.
	if c.tmpDir == "" || !strings.HasPrefix(dir, filepath.Clean(c.tmpDir)+string(filepath.Separator)) {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		c.logger.Warn("Failed to remove download directory",
			slog.String("dir", dir),
			slog.Any("error", err),
		)
	}
}

func (c *Client) run(ctx context.Context, args []string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s failed: %w: %s", c.bin, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func parseInfoJSON(data []byte) (*infoJSON, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("yt-dlp returned empty output")
	}
	var info infoJSON
	if err := json.Unmarshal(trimmed, &info); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp output: %w", err)
	}
	return &info, nil
}

func findDownloadedFile(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "video.*"))
	if err != nil {
		return "", fmt.Errorf("failed to locate downloaded file: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("yt-dlp produced no output file in %s", dir)
	}
	return matches[0], nil
}
