package whisper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"voxagent/internal/command"
	"voxagent/pkg/logger"

	"go.uber.org/zap"
)

// Format of the artifact a strategy produces
type Format string

const (
	FormatSRT Format = "srt"
	FormatTXT Format = "txt"
)

// DefaultFormats prefers timed output and falls back to plain text
var DefaultFormats = []Format{FormatSRT, FormatTXT}

const stderrTailLen = 1200

// Strategy is one invocation convention of the recognition binary
type Strategy struct {
	Name   string
	Format Format
	GPU    bool
	args   func(prefix string) []string
}

// Args returns the output and device flags for an output prefix
func (s Strategy) Args(prefix string) []string {
	args := s.args(prefix)
	if s.GPU {
		args = append(args, "--gpu", "1")
	}
	return args
}

// Artifact is the file whose existence marks success
func (s Strategy) Artifact(prefix string) string {
	return prefix + "." + string(s.Format)
}

var baseStrategies = map[Format][]Strategy{
	FormatSRT: {
		{Name: "of-osrt", Format: FormatSRT, args: func(p string) []string { return []string{"-of", p, "-osrt"} }},
		{Name: "output-srt", Format: FormatSRT, args: func(p string) []string { return []string{"--output-srt", p + ".srt"} }},
	},
	FormatTXT: {
		{Name: "of-otxt", Format: FormatTXT, args: func(p string) []string { return []string{"-of", p, "-otxt"} }},
		{Name: "of-output-txt", Format: FormatTXT, args: func(p string) []string { return []string{"-of", p, "--output-txt"} }},
		{Name: "output-file", Format: FormatTXT, args: func(p string) []string { return []string{"--output-file", p + ".txt"} }},
		{Name: "o", Format: FormatTXT, args: func(p string) []string { return []string{"-o", p + ".txt"} }},
	},
}

// Strategies returns the ordered candidates: every GPU variant first when gpu
// is set, then the CPU variants.
func Strategies(formats []Format, gpu bool) []Strategy {
	var cpu []Strategy
	for _, f := range formats {
		cpu = append(cpu, baseStrategies[f]...)
	}
	if !gpu {
		return cpu
	}
	out := make([]Strategy, 0, len(cpu)*2)
	for _, s := range cpu {
		g := s
		g.GPU = true
		g.Name = s.Name + "+gpu"
		out = append(out, g)
	}
	return append(out, cpu...)
}

// Request is one channel to transcribe
type Request struct {
	Audio     string
	OutPrefix string
	ModelPath string
	LangHint  string
	Threads   int
	Formats   []Format
}

// Result describes the variant that produced the artifact
type Result struct {
	Artifact string
	Format   Format
	Strategy string
	Attempts int
	Stderr   string
}

// Error is returned when no variant produced an artifact
type Error struct {
	Attempts     int
	LastExitCode int
	StderrTail   string
	Err          error
}

func (e *Error) Error() string {
	return fmt.Sprintf("whisper produced no output after %d variants (rc=%d): %s",
		e.Attempts, e.LastExitCode, e.StderrTail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Resolver runs the recognition binary through the strategy list
type Resolver struct {
	runner   command.Runner
	locator  *Locator
	timeout  time.Duration
	gpu      atomic.Bool
	gpuOnce sync.Once
}

func NewResolver(runner command.Runner, locator *Locator, timeout time.Duration) *Resolver {
	return &Resolver{
		runner:  runner,
		locator: locator,
		timeout: timeout,
	}
}

// DetectGPU checks for a Vulkan GPU once per process and caches the answer
func (r *Resolver) DetectGPU(ctx context.Context) bool {
	r.gpuOnce.Do(func() {
		r.gpu.Store(DetectVulkanGPU(ctx, r.runner))
		logger.Info("GPU (Vulkan) detection finished", zap.Bool("available", r.gpu.Load()))
	})
	return r.gpu.Load()
}

// SetGPU overrides detection, skipping detection
func (r *Resolver) SetGPU(v bool) {
	r.gpuOnce.Do(func() {})
	r.gpu.Store(v)
}

// UsingGPU reports whether GPU variants are tried first
func (r *Resolver) UsingGPU() bool {
	return r.gpu.Load()
}

// Transcribe tries each strategy until one leaves its artifact on disk. The
// artifact, not the exit code, decides success.
func (r *Resolver) Transcribe(ctx context.Context, req Request) (Result, error) {
	exe, err := r.locator.Find()
	if err != nil {
		return Result{}, err
	}

	if err := os.MkdirAll(filepath.Dir(req.OutPrefix), 0o755); err != nil {
		return Result{}, fmt.Errorf("failed to create output dir: %w", err)
	}

	formats := req.Formats
	if len(formats) == 0 {
		formats = DefaultFormats
	}

	base := []string{"-m", req.ModelPath, "-f", req.Audio}
	if req.LangHint != "" {
		base = append(base, "-l", req.LangHint)
	}
	if req.Threads > 0 {
		base = append(base, "-t", strconv.Itoa(req.Threads))
	}

	var (
		attempts int
		last     command.Result
		lastErr  error
	)
	for _, s := range Strategies(formats, r.UsingGPU()) {
		artifact := s.Artifact(req.OutPrefix)
		removeStale(artifact)

		args := append(append([]string{}, base...), s.Args(req.OutPrefix)...)
		res, runErr := r.runner.Run(ctx, r.timeout, exe, args...)
		attempts++

		if fileExists(artifact) {
			logger.Info("Whisper variant succeeded",
				zap.String("audio", req.Audio),
				zap.String("strategy", s.Name),
				zap.Int("attempts", attempts),
				zap.Int("rc", res.ExitCode))
			return Result{
				Artifact: artifact,
				Format:   s.Format,
				Strategy: s.Name,
				Attempts: attempts,
				Stderr:   res.Stderr,
			}, nil
		}

		logger.Debug("Whisper variant produced no output",
			zap.String("strategy", s.Name),
			zap.Int("rc", res.ExitCode),
			zap.String("cmd", exe+" "+strings.Join(args, " ")))
		last, lastErr = res, runErr

		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}

	rc := last.ExitCode
	if rc == 0 {
		rc = 2
	}
	return Result{}, &Error{
		Attempts:     attempts,
		LastExitCode: rc,
		StderrTail:   command.Tail(last.Stderr, stderrTailLen),
		Err:          lastErr,
	}
}

func removeStale(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to remove stale artifact", zap.String("path", path), zap.Error(err))
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
