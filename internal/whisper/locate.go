package whisper

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrBinaryNotFound means no whisper.cpp executable could be located
var ErrBinaryNotFound = errors.New("whisper binary not found (set WHISPER_BIN or build whisper-cli)")

// Locator finds the recognition binary: explicit override, known build
// locations under home, then PATH.
type Locator struct {
	Override string
	Home     string
	LookPath func(file string) (string, error)
}

// NewLocator uses the current user's home directory and exec.LookPath
func NewLocator(override string) *Locator {
	home, _ := os.UserHomeDir()
	return &Locator{
		Override: override,
		Home:     home,
		LookPath: exec.LookPath,
	}
}

// Candidates lists the paths in the order they are tried
func (l *Locator) Candidates() []string {
	var out []string
	if l.Override != "" {
		out = append(out, l.Override)
	}
	buildDir := filepath.Join(l.Home, "worker_agent", "whisper.cpp", "build", "bin")
	if l.Home != "" {
		out = append(out, filepath.Join(buildDir, "whisper-cli"))
	}
	if l.LookPath != nil {
		if p, err := l.LookPath("whisper-cli"); err == nil {
			out = append(out, p)
		}
	}
	if l.Home != "" {
		out = append(out, filepath.Join(buildDir, "main"))
	}
	return out
}

// Find returns the first executable candidate
func (l *Locator) Find() (string, error) {
	for _, c := range l.Candidates() {
		if isExecutable(c) {
			return c, nil
		}
	}
	return "", ErrBinaryNotFound
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
