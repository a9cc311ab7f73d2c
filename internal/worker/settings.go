package worker

import (
	"strings"
	"sync"
	"voxagent/pkg/model"
)

// Settings are the recognition parameters that can change at runtime
type Settings struct {
	mu           sync.RWMutex
	threads      int
	langHint     string
	modelPath    string
	fallbackPath string
}

// SettingsSnapshot is a consistent copy taken at job start
type SettingsSnapshot struct {
	Threads      int
	LangHint     string
	ModelPath    string
	FallbackPath string
}

func NewSettings(threads int, langHint, modelPath, fallbackPath string) *Settings {
	return &Settings{
		threads:      threads,
		langHint:     langHint,
		modelPath:    modelPath,
		fallbackPath: fallbackPath,
	}
}

func (s *Settings) Snapshot() SettingsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SettingsSnapshot{
		Threads:      s.threads,
		LangHint:     s.langHint,
		ModelPath:    s.modelPath,
		FallbackPath: s.fallbackPath,
	}
}

func (s *Settings) Threads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threads
}

// SetThreads ignores non-positive values
func (s *Settings) SetThreads(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.threads = n
	s.mu.Unlock()
}

// Apply merges a control.set_config frame. Absent fields are kept.
func (s *Settings) Apply(sc model.SetConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc.Threads != nil && *sc.Threads > 0 {
		s.threads = *sc.Threads
	}
	if sc.LangHint != nil {
		s.langHint = strings.TrimSpace(*sc.LangHint)
	}
}

// ModelConfig is the model section of registration and heartbeats
func (s *Settings) ModelConfig() model.ModelConfig {
	snap := s.Snapshot()
	return model.ModelConfig{
		ModelPath: snap.ModelPath,
		Threads:   snap.Threads,
		LangHint:  snap.LangHint,
	}
}
