package worker

import (
	"sync"
	"time"
	"voxagent/pkg/model"
)

// JobSnapshot is a copy of the in-flight job as seen by heartbeats
type JobSnapshot struct {
	ID          string
	Since       time.Time
	AudioLeftS  *float64
	AudioRightS *float64
	ModelPath   string
	Threads     int
}

// State is the single job slot of the worker. Readers get value snapshots
// and never hold the lock across I/O.
type State struct {
	mu  sync.Mutex
	job *JobSnapshot
}

func NewState() *State {
	return &State{}
}

// TryBegin claims the slot for jobID. It returns false and changes nothing
// when a job is already running.
func (s *State) TryBegin(jobID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job != nil {
		return false
	}
	s.job = &JobSnapshot{ID: jobID, Since: now}
	return true
}

// Update mutates the snapshot of jobID if it still holds the slot
func (s *State) Update(jobID string, fn func(*JobSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job != nil && s.job.ID == jobID {
		fn(s.job)
	}
}

// SetAudioDurations records the per-channel durations in seconds
func (s *State) SetAudioDurations(jobID string, left, right float64) {
	s.Update(jobID, func(j *JobSnapshot) {
		j.AudioLeftS = model.Seconds(left)
		j.AudioRightS = model.Seconds(right)
	})
}

// End releases the slot held by jobID
func (s *State) End(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job != nil && s.job.ID == jobID {
		s.job = nil
	}
}

// Snapshot returns a copy of the current job, if any
func (s *State) Snapshot() (JobSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.job == nil {
		return JobSnapshot{}, false
	}
	snap := *s.job
	snap.AudioLeftS = copySeconds(s.job.AudioLeftS)
	snap.AudioRightS = copySeconds(s.job.AudioRightS)
	return snap, true
}

func (s *State) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job != nil
}

func (s *State) Status() model.WorkerStatus {
	if s.Busy() {
		return model.WorkerStatusBusy
	}
	return model.WorkerStatusIdle
}

// JobStatus renders the heartbeat job section, nil when idle
func (s *State) JobStatus(now time.Time, usingGPU bool) *model.JobStatus {
	snap, ok := s.Snapshot()
	if !ok {
		return nil
	}
	return &model.JobStatus{
		ID:          snap.ID,
		SinceTS:     snap.Since.Unix(),
		ElapsedS:    int64(now.Sub(snap.Since).Seconds()),
		UsingGPU:    usingGPU,
		AudioLeftS:  snap.AudioLeftS,
		AudioRightS: snap.AudioRightS,
		Threads:     snap.Threads,
		Model:       snap.ModelPath,
	}
}

func copySeconds(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return model.Seconds(*p)
}
