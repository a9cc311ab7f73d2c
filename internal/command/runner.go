package command

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
	"voxagent/pkg/logger"

	"go.uber.org/zap"
)

// ExitTimeout is reported when a command is killed by its deadline
const ExitTimeout = 124

// Result captures one external command invocation
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution for testability
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)
}

// ExecRunner executes commands via os/exec
type ExecRunner struct{}

// Run executes one command with a timeout and captures output and exit code.
// A non-zero exit is returned as an error together with the filled Result.
func (ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger.Debug("Running command",
		zap.String("cmd", name),
		zap.String("args", strings.Join(args, " ")))

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// children that inherit the pipes must not hold Wait past the kill
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	result := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result.ExitCode = ExitTimeout
		}
		return result, err
	}

	return result, nil
}

// Tail returns the last n bytes of s
func Tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
