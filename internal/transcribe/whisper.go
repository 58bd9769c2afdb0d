package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/opickel/social-recipes/internal/domain"
	"github.com/opickel/social-recipes/internal/pipeline"
)

// Config holds the paths and model for the transcription chain.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	WhisperPath string
	Model       string
	Timeout     time.Duration
}

// Client transcribes video audio with whisper.cpp. The audio track is
// first detected with ffprobe and extracted with ffmpeg into the 16kHz
// mono PCM layout whisper expects.
type Client struct {
	ffmpeg  string
	ffprobe string
	whisper string
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a transcription client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	c := &Client{
		ffmpeg:  cfg.FFmpegPath,
		ffprobe: cfg.FFprobePath,
		whisper: cfg.WhisperPath,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}
	if c.ffmpeg == "" {
		c.ffmpeg = "ffmpeg"
	}
	if c.ffprobe == "" {
		c.ffprobe = "ffprobe"
	}
	if c.whisper == "" {
		c.whisper = "whisper-cli"
	}
	return c
}

// CheckBinaries verifies the whole chain is installed.
func (c *Client) CheckBinaries() error {
	for _, bin := range []string{c.ffmpeg, c.ffprobe, c.whisper} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("missing dependency: %s is not installed or not on PATH", bin)
		}
	}
	return nil
}

// Transcribe extracts and transcribes the audio track of videoPath.
// A video without an audio stream returns domain.ErrNoAudio.
func (c *Client) Transcribe(ctx context.Context, videoPath, languageHint string) (*pipeline.Transcript, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	hasAudio, err := c.hasAudioStream(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	if !hasAudio {
		return nil, domain.ErrNoAudio
	}

	wavPath, err := c.extractAudio(ctx, videoPath)
	if err != nil {
		return nil, err
	}
	defer os.Remove(wavPath)

	text, err := c.runWhisper(ctx, wavPath, languageHint)
	if err != nil {
		return nil, err
	}

	return &pipeline.Transcript{
		Text:     text,
		Language: languageHint,
	}, nil
}

func (c *Client) hasAudioStream(ctx context.Context, videoPath string) (bool, error) {
	out, err := c.run(ctx, c.ffprobe,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		videoPath,
	)
	if err != nil {
		return false, fmt.Errorf("failed to probe audio streams: %w", err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// extractAudio writes a 16kHz mono pcm_s16le wav next to the video.
func (c *Client) extractAudio(ctx context.Context, videoPath string) (string, error) {
	wavPath := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".wav"
	_, err := c.run(ctx, c.ffmpeg,
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		wavPath,
	)
	if err != nil {
		return "", fmt.Errorf("failed to extract audio: %w", err)
	}
	return wavPath, nil
}

func (c *Client) runWhisper(ctx context.Context, wavPath, languageHint string) (string, error) {
	outBase := strings.TrimSuffix(wavPath, ".wav")
	args := []string{
		"-m", c.model,
		"-f", wavPath,
		"-otxt",
		"-of", outBase,
		"-np",
	}
	if languageHint != "" {
		args = append(args, "-l", languageHint)
	}

	if _, err := c.run(ctx, c.whisper, args...); err != nil {
		return "", fmt.Errorf("failed to run whisper: %w", err)
	}

	txtPath := outBase + ".txt"
	defer os.Remove(txtPath)
	raw, err := os.ReadFile(txtPath)
	if err != nil {
		return "", fmt.Errorf("failed to read whisper output: %w", err)
	}
	return normalizeTranscript(string(raw)), nil
}

func (c *Client) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s failed: %w: %s", bin, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// normalizeTranscript strips the per-line padding whisper emits and
// drops empty lines.
func normalizeTranscript(raw string) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
