package whisper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
	"voxagent/internal/command"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWhisper writes the artifact a real build would, when accept allows it.
type fakeWhisper struct {
	mu     sync.Mutex
	calls  [][]string
	accept func(args []string) bool
}

func (f *fakeWhisper) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (command.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{}, args...))
	f.mu.Unlock()

	if f.accept == nil || !f.accept(args) {
		return command.Result{ExitCode: 1, Stderr: "unknown argument"}, errors.New("exit status 1")
	}
	if p := argValue(args, "-of"); p != "" {
		ext := ".txt"
		if slices.Contains(args, "-osrt") {
			ext = ".srt"
		}
		writeFile(p+ext, "1\n00:00:00,000 --> 00:00:01,000\nhello\n")
	}
	for _, flag := range []string{"--output-srt", "--output-file", "-o"} {
		if p := argValue(args, flag); p != "" {
			writeFile(p, "hello")
		}
	}
	// some builds exit non-zero even with valid output
	return command.Result{ExitCode: 3}, errors.New("exit status 3")
}

func (f *fakeWhisper) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string{}, f.calls...)
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func writeFile(path, content string) {
	_ = os.WriteFile(path, []byte(content), 0o644)
}

func fakeBinary(t *testing.T) *Locator {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
	return &Locator{Override: bin}
}

func newRequest(t *testing.T) Request {
	dir := t.TempDir()
	return Request{
		Audio:     filepath.Join(dir, "j1_left.wav"),
		OutPrefix: filepath.Join(dir, "j1_left"),
		ModelPath: "/models/ggml-large-v3.bin",
		LangHint:  "ru",
		Threads:   8,
	}
}

func TestStrategies_Order(t *testing.T) {
	cpu := Strategies(DefaultFormats, false)
	require.Len(t, cpu, 6)
	assert.Equal(t, FormatSRT, cpu[0].Format)
	assert.Equal(t, FormatTXT, cpu[2].Format)
	for _, s := range cpu {
		assert.False(t, s.GPU)
	}

	gpu := Strategies(DefaultFormats, true)
	require.Len(t, gpu, 12)
	for i, s := range gpu {
		assert.Equal(t, i < 6, s.GPU, s.Name)
	}
	assert.Equal(t, []string{"-of", "/p", "-osrt", "--gpu", "1"}, gpu[0].Args("/p"))
	assert.Equal(t, []string{"-of", "/p", "-osrt"}, gpu[6].Args("/p"))
}

func TestTranscribe_GPUFailsThenFirstCPUVariant(t *testing.T) {
	runner := &fakeWhisper{accept: func(args []string) bool {
		return !slices.Contains(args, "--gpu")
	}}
	r := NewResolver(runner, fakeBinary(t), time.Hour)
	r.SetGPU(true)
	req := newRequest(t)

	res, err := r.Transcribe(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, req.OutPrefix+".srt", res.Artifact)
	assert.Equal(t, FormatSRT, res.Format)
	assert.Equal(t, "of-osrt", res.Strategy)
	assert.Equal(t, 7, res.Attempts)
	assert.FileExists(t, res.Artifact)

	calls := runner.Calls()
	require.Len(t, calls, 7)
	for _, c := range calls[:6] {
		assert.Contains(t, c, "--gpu")
	}
	assert.NotContains(t, calls[6], "--gpu")
	assert.Equal(t, []string{"-m", req.ModelPath, "-f", req.Audio, "-l", "ru", "-t", "8"}, calls[6][:8])
}

func TestTranscribe_NoGPUGoesStraightToCPU(t *testing.T) {
	runner := &fakeWhisper{accept: func(args []string) bool { return true }}
	r := NewResolver(runner, fakeBinary(t), time.Hour)
	r.SetGPU(false)

	res, err := r.Transcribe(context.Background(), newRequest(t))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	assert.NotContains(t, runner.Calls()[0], "--gpu")
}

func TestTranscribe_FallsBackToText(t *testing.T) {
	runner := &fakeWhisper{accept: func(args []string) bool {
		return slices.Contains(args, "--output-file")
	}}
	r := NewResolver(runner, fakeBinary(t), time.Hour)
	r.SetGPU(false)
	req := newRequest(t)

	res, err := r.Transcribe(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, FormatTXT, res.Format)
	assert.Equal(t, req.OutPrefix+".txt", res.Artifact)
	assert.Equal(t, 5, res.Attempts)
}

func TestTranscribe_RemovesStaleArtifact(t *testing.T) {
	runner := &fakeWhisper{accept: func(args []string) bool { return false }}
	r := NewResolver(runner, fakeBinary(t), time.Hour)
	r.SetGPU(false)
	req := newRequest(t)
	writeFile(req.OutPrefix+".srt", "stale")

	_, err := r.Transcribe(context.Background(), req)

	var werr *Error
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, 6, werr.Attempts)
	assert.Equal(t, 1, werr.LastExitCode)
	assert.Contains(t, werr.StderrTail, "unknown argument")
	assert.NoFileExists(t, req.OutPrefix+".srt")
}

func TestTranscribe_BinaryNotFound(t *testing.T) {
	runner := &fakeWhisper{}
	r := NewResolver(runner, &Locator{Override: "/nonexistent/whisper-cli"}, time.Hour)

	_, err := r.Transcribe(context.Background(), newRequest(t))

	assert.ErrorIs(t, err, ErrBinaryNotFound)
	assert.Empty(t, runner.Calls())
}

func TestLocator_Order(t *testing.T) {
	home := t.TempDir()
	buildDir := filepath.Join(home, "worker_agent", "whisper.cpp", "build", "bin")
	require.NoError(t, os.MkdirAll(buildDir, 0o755))
	mainBin := filepath.Join(buildDir, "main")
	require.NoError(t, os.WriteFile(mainBin, []byte("x"), 0o755))

	l := &Locator{
		Override: filepath.Join(home, "missing"),
		Home:     home,
		LookPath: func(string) (string, error) { return "", errors.New("not found") },
	}

	got, err := l.Find()
	require.NoError(t, err)
	assert.Equal(t, mainBin, got)

	cli := filepath.Join(buildDir, "whisper-cli")
	require.NoError(t, os.WriteFile(cli, []byte("x"), 0o755))
	got, err = l.Find()
	require.NoError(t, err)
	assert.Equal(t, cli, got)
}

func TestLocator_SkipsNonExecutable(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(bin, []byte("x"), 0o644))

	_, err := (&Locator{Override: bin}).Find()
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

func TestHasVulkanGPU(t *testing.T) {
	assert.True(t, hasVulkanGPU("VULKANINFO\n deviceType = PHYSICAL_DEVICE_TYPE_INTEGRATED_GPU"))
	assert.False(t, hasVulkanGPU("VULKANINFO\n deviceType = PHYSICAL_DEVICE_TYPE_CPU\n deviceName = llvmpipe"))
	assert.False(t, hasVulkanGPU("PHYSICAL_DEVICE_TYPE_DISCRETE_GPU"))
}
