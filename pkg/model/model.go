package model

import (
	"errors"
	"strings"
)

// WorkerStatus is reported in every heartbeat
type WorkerStatus string

const (
	WorkerStatusIdle WorkerStatus = "idle"
	WorkerStatusBusy WorkerStatus = "busy"
)

// JobStage is a step of the job pipeline
type JobStage string

const (
	JobStageAccepted     JobStage = "accepted"
	JobStageDownloading  JobStage = "downloading"
	JobStageSplitting    JobStage = "splitting"
	JobStageTranscribing JobStage = "transcribing"
	JobStageAssembling   JobStage = "assembling"
	JobStagePublishing   JobStage = "publishing"
	JobStageDone         JobStage = "done"
	JobStageError        JobStage = "error"
)

// IsTerminal returns true if no further stage follows
func (s JobStage) IsTerminal() bool {
	return s == JobStageDone || s == JobStageError
}

// Channel sides of a stereo recording
const (
	ChannelLeft  = "left"
	ChannelRight = "right"
)

// Speaker roles a channel can be mapped to
const (
	RoleOperator = "operator"
	RoleClient   = "client"
)

// ErrNoAudioSource is returned when a job names neither a URL nor a file
var ErrNoAudioSource = errors.New("neither audio_url nor input.file provided")

// JobInput is the input section of a job assignment
type JobInput struct {
	File         string            `json:"file,omitempty"`
	Channels     []string          `json:"channels,omitempty"`
	ChannelRoles map[string]string `json:"channel_roles,omitempty"`
}

// Job is a transcription request as accepted from the coordinator
type Job struct {
	ID       string   `json:"job_id"`
	AudioURL string   `json:"audio_url,omitempty"`
	Input    JobInput `json:"input"`
}

// Validate checks that the job can be routed to a source
func (j *Job) Validate() error {
	if strings.TrimSpace(j.AudioURL) == "" && strings.TrimSpace(j.Input.File) == "" {
		return ErrNoAudioSource
	}
	return nil
}

// Roles returns the lowercased channel to role mapping, defaulting to
// positional left/right.
func (j *Job) Roles() map[string]string {
	if len(j.Input.ChannelRoles) == 0 {
		return map[string]string{ChannelLeft: ChannelLeft, ChannelRight: ChannelRight}
	}
	roles := make(map[string]string, len(j.Input.ChannelRoles))
	for side, role := range j.Input.ChannelRoles {
		side = strings.ToLower(side)
		if role == "" {
			role = side
		}
		roles[side] = strings.ToLower(role)
	}
	return roles
}

// SpeakerFor resolves the speaker role of a channel side.
// Positional names and their short forms map to operator (left) and client (right).
func (j *Job) SpeakerFor(side string) string {
	v := strings.ToLower(side)
	if role, ok := j.Roles()[v]; ok && role != "" {
		v = role
	}
	switch v {
	case RoleOperator, RoleClient:
		return v
	case "left", "l":
		return RoleOperator
	case "right", "r":
		return RoleClient
	}
	return v
}

// Segment is a span of recognized text attributed to one speaker.
// Start and End are nil when the engine produced no timing.
type Segment struct {
	Speaker string   `json:"speaker"`
	Text    string   `json:"text"`
	Start   *float64 `json:"start"`
	End     *float64 `json:"end"`
}

// Timed reports whether both timestamps are present
func (s Segment) Timed() bool {
	return s.Start != nil && s.End != nil
}

// Seconds returns a pointer to v, for building timed segments
func Seconds(v float64) *float64 {
	return &v
}
