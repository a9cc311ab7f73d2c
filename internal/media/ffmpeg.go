package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"voxagent/internal/command"
	"voxagent/pkg/logger"

	"go.uber.org/zap"
)

// SampleRate of the channel files fed to the recognizer
const SampleRate = 16000

const durationTimeout = 15 * time.Second

// SplitError is a failed ffmpeg split with the stderr tail
type SplitError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("ffmpeg split failed: rc=%d: %s", e.ExitCode, e.Stderr)
}

func (e *SplitError) Unwrap() error {
	return e.Err
}

// FFmpeg wraps the ffmpeg and ffprobe binaries
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	runner      command.Runner
	timeout     time.Duration
}

// NewFFmpeg uses binaries from PATH
func NewFFmpeg(runner command.Runner, timeout time.Duration) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		runner:      runner,
		timeout:     timeout,
	}
}

// SplitStereo demultiplexes a stereo file into two mono WAVs in one ffmpeg run
func (f *FFmpeg) SplitStereo(ctx context.Context, src, left, right string) error {
	for _, p := range []string{left, right} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}

	args := buildSplitArgs(src, left, right)
	res, err := f.runner.Run(ctx, f.timeout, f.ffmpegPath, args...)
	if err != nil {
		tail := command.Tail(res.Stderr, 400)
		logger.Error("ffmpeg split failed",
			zap.Int("rc", res.ExitCode),
			zap.String("stderr", tail))
		return &SplitError{ExitCode: res.ExitCode, Stderr: tail, Err: err}
	}
	return nil
}

// Duration returns the media duration in seconds, or 0 if ffprobe fails
func (f *FFmpeg) Duration(ctx context.Context, path string) float64 {
	res, err := f.runner.Run(ctx, durationTimeout, f.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nw=1:nk=1",
		path,
	)
	if err != nil {
		logger.Debug("ffprobe failed", zap.String("path", path), zap.Error(err))
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(res.Stdout), 64)
	if err != nil {
		return 0
	}
	return v
}

var ffmpegVersionRe = regexp.MustCompile(`ffmpeg\s+version\s+(\S+)`)

// Version reports the ffmpeg version, or "installed" when it cannot be parsed
func (f *FFmpeg) Version(ctx context.Context) string {
	res, err := f.runner.Run(ctx, 5*time.Second, f.ffmpegPath, "-version")
	if err != nil {
		return "unavailable"
	}
	first, _, _ := strings.Cut(res.Stdout, "\n")
	if m := ffmpegVersionRe.FindStringSubmatch(first); m != nil {
		return m[1]
	}
	return "installed"
}

func buildSplitArgs(src, left, right string) []string {
	rate := strconv.Itoa(SampleRate)
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", src,
		"-filter_complex", "[0:a]channelsplit=channel_layout=stereo[FL][FR]",
		"-map", "[FL]", "-ar", rate, "-ac", "1", left,
		"-map", "[FR]", "-ar", rate, "-ac", "1", right,
	}
}
