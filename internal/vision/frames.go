package vision

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opickel/social-recipes/internal/domain"
)

const (
	defaultFrameCount = 9

	// Frames too close to the very end tend to be outros or black.
	endMarginSeconds = 0.5
)

// Model answers questions about a set of video frames.
type Model interface {
	// ReadFrameText returns any recipe-relevant on-screen text visible
	// across the frames.
	ReadFrameText(ctx context.Context, framePaths []string) (string, error)
	// SelectDishFrame returns the index of the frame that best shows
	// the finished dish.
	SelectDishFrame(ctx context.Context, framePaths []string) (int, error)
}

// Config holds the frame extraction settings.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	FrameCount  int
	Timeout     time.Duration
}

// Extractor samples frames from a video and asks a vision model about
// them. Sampling is end-weighted: cooking videos show the finished
// dish near the end, so the final third of the video gets most of the
// frames.
type Extractor struct {
	ffmpeg     string
	ffprobe    string
	frameCount int
	timeout    time.Duration
	model      Model
	logger     *slog.Logger
}

// NewExtractor creates a frame extractor backed by the given model.
func NewExtractor(cfg Config, model Model, logger *slog.Logger) *Extractor {
	e := &Extractor{
		ffmpeg:     cfg.FFmpegPath,
		ffprobe:    cfg.FFprobePath,
		frameCount: cfg.FrameCount,
		timeout:    cfg.Timeout,
		model:      model,
		logger:     logger,
	}
	if e.ffmpeg == "" {
		e.ffmpeg = "ffmpeg"
	}
	if e.ffprobe == "" {
		e.ffprobe = "ffprobe"
	}
	if e.frameCount <= 0 {
		e.frameCount = defaultFrameCount
	}
	return e
}

// ExtractText samples frames and returns the on-screen text the model
// reads from them.
func (e *Extractor) ExtractText(ctx context.Context, videoPath string) (string, error) {
	frames, cleanup, err := e.sampleFrames(ctx, videoPath)
	if err != nil {
		return "", err
	}
	defer cleanup()

	text, err := e.model.ReadFrameText(ctx, frames)
	if err != nil {
		return "", fmt.Errorf("failed to read on-screen text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// ExtractImageCandidates samples frames, asks the model which one best
// shows the finished dish, and returns the frames ranked. When the
// model cannot decide, the last frame wins: it is the most likely to
// show the plated result.
func (e *Extractor) ExtractImageCandidates(ctx context.Context, videoPath string) ([]domain.ImageCandidate, error) {
	frames, cleanup, err := e.sampleFrames(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	best, err := e.model.SelectDishFrame(ctx, frames)
	if err != nil || best < 0 || best >= len(frames) {
		if err != nil {
			e.logger.Warn("Dish frame selection failed, falling back to last frame",
				slog.Any("error", err),
			)
		}
		best = len(frames) - 1
	}

	// Keep only the winning frame on disk; persist it outside the
	// frames dir so cleanup does not race the thumbnail read.
	kept, err := persistFrame(frames[best])
	cleanup()
	if err != nil {
		return nil, err
	}

	candidates := []domain.ImageCandidate{{Path: kept, Rank: 1, IsBest: true}}
	return candidates, nil
}

func (e *Extractor) sampleFrames(ctx context.Context, videoPath string) ([]string, func(), error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	duration, err := e.probeDuration(ctx, videoPath)
	if err != nil {
		return nil, nil, err
	}

	dir, err := os.MkdirTemp(filepath.Dir(videoPath), "frames-")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create frames directory: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	timestamps := SampleTimestamps(duration, e.frameCount)
	frames := make([]string, 0, len(timestamps))
	for i, ts := range timestamps {
		framePath := filepath.Join(dir, fmt.Sprintf("frame_%02d.jpg", i))
		if err := e.extractFrame(ctx, videoPath, ts, framePath); err != nil {
			cleanup()
			return nil, nil, err
		}
		frames = append(frames, framePath)
	}
	if len(frames) == 0 {
		cleanup()
		return nil, nil, fmt.Errorf("video too short to sample frames")
	}
	return frames, cleanup, nil
}

func (e *Extractor) probeDuration(ctx context.Context, videoPath string) (float64, error) {
	out, err := e.run(ctx, e.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		videoPath,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to probe video duration: %w", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse video duration: %w", err)
	}
	return duration, nil
}

func (e *Extractor) extractFrame(ctx context.Context, videoPath string, ts float64, outPath string) error {
	_, err := e.run(ctx, e.ffmpeg,
		"-y",
		"-ss", fmt.Sprintf("%.3f", ts),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	)
	if err != nil {
		return fmt.Errorf("failed to extract frame at %.1fs: %w", ts, err)
	}
	return nil
}

func (e *Extractor) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
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

// persistFrame moves a frame out of its temporary directory so it
// survives frame cleanup.
func persistFrame(framePath string) (string, error) {
	dest := filepath.Join(filepath.Dir(filepath.Dir(framePath)), "dish.jpg")
	data, err := os.ReadFile(framePath)
	if err != nil {
		return "", fmt.Errorf("failed to read dish frame: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to persist dish frame: %w", err)
	}
	return dest, nil
}

// SampleTimestamps spreads frameCount sample points over a video of
// the given duration, weighted toward the end: a third of the frames
// cover the first two thirds of the video, the rest sample the final
// third densely. The last sample stays half a second clear of the end.
func SampleTimestamps(duration float64, frameCount int) []float64 {
	if duration <= 0 || frameCount <= 0 {
		return nil
	}

	end := duration - endMarginSeconds
	if end <= 0 {
		end = duration / 2
	}

	if frameCount == 1 {
		return []float64{end}
	}

	early := frameCount / 3
	late := frameCount - early

	var timestamps []float64
	earlyEnd := duration * 2 / 3
	for i := 0; i < early; i++ {
		timestamps = append(timestamps, earlyEnd*float64(i+1)/float64(early+1))
	}

	lateStart := earlyEnd
	if lateStart >= end {
		lateStart = 0
	}
	for i := 0; i < late; i++ {
		ts := lateStart + (end-lateStart)*float64(i)/float64(late-1)
		timestamps = append(timestamps, ts)
	}
	return timestamps
}
