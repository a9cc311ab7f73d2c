package model

import "encoding/json"

// Control frame types exchanged with the coordinator
const (
	TypeRegistration   = "registration"
	TypeRegistrationOK = "registration.ok"
	TypeJobAssign      = "job.assign"
	TypeJobAck         = "job.ack"
	TypeJobError       = "job.error"
	TypeJobResult      = "job.result"
	TypeJobDone        = "job.done"
	TypeHeartbeat      = "heartbeat"
	TypeControlPing    = "control.ping"
	TypeControlPong    = "control.pong"
	TypeControlAck     = "control.ack"
	TypeSetConfig      = "control.set_config"
	TypeServerError    = "error"
)

// Job error codes
const (
	ErrCodeBusy           = "busy"
	ErrCodeNoInput        = "no_input"
	ErrCodeDownloadFailed = "download_failed"
	ErrCodeSplitFailed    = "ffmpeg_split_failed"
	ErrCodeSplitEmpty     = "split_empty_output"
	ErrCodeWhisperFailed  = "whisper_failed"
	ErrCodeBinaryMissing  = "whisper_binary_missing"
	ErrCodeException      = "exception"
)

// Envelope is the common part of every inbound frame
type Envelope struct {
	Type     string `json:"type"`
	WorkerID string `json:"worker_id,omitempty"`
}

// InboundFrame is a decoded frame with its raw body kept for typed decoding
type InboundFrame struct {
	Envelope
	Raw json.RawMessage `json:"-"`
}

// DecodeFrame parses a text frame
func DecodeFrame(data []byte) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f.Envelope); err != nil {
		return InboundFrame{}, err
	}
	f.Raw = append(json.RawMessage(nil), data...)
	return f, nil
}

// JobAssign is the coordinator's job.assign frame
type JobAssign struct {
	Type string `json:"type"`
	Job
}

// SetConfig is a control.set_config frame; absent fields keep current values
type SetConfig struct {
	Type     string  `json:"type"`
	Threads  *int    `json:"threads,omitempty"`
	LangHint *string `json:"lang_hint,omitempty"`
}

// ModelConfig describes the recognition setup of the worker
type ModelConfig struct {
	ModelPath string `json:"model_path"`
	Threads   int    `json:"threads"`
	LangHint  string `json:"lang_hint"`
}

// DeviceInfo describes the host
type DeviceInfo struct {
	Model          string `json:"model"`
	CPUCores       int    `json:"cpu_cores"`
	RAMMB          int64  `json:"ram_mb"`
	StorageTotalMB int64  `json:"storage_total_mb"`
}

// SoftwareInfo lists versions of the tools the worker relies on
type SoftwareInfo struct {
	FFmpeg     string `json:"ffmpeg"`
	Go         string `json:"go"`
	WhisperCLI string `json:"whisper_cli,omitempty"`
}

// NetworkInfo is the worker's view of its connectivity
type NetworkInfo struct {
	IP    string  `json:"ip"`
	RTTMs float64 `json:"rtt_ms"`
}

// Capabilities advertised at registration
type Capabilities struct {
	SupportsModels []string `json:"supports_models"`
	GPU            bool     `json:"gpu"`
}

// Registration is the first frame of every connection
type Registration struct {
	Type         string       `json:"type"`
	WorkerID     string       `json:"worker_id"`
	Device       DeviceInfo   `json:"device"`
	Software     SoftwareInfo `json:"software"`
	Capabilities Capabilities `json:"capabilities"`
	ModelConfig  ModelConfig  `json:"model_config"`
	Network      NetworkInfo  `json:"network"`
	Token        string       `json:"token,omitempty"`
}

// HostMetrics is a best-effort system sample; nil fields failed to collect
type HostMetrics struct {
	CPUPercent *float64 `json:"cpu_percent"`
	MemTotalKB *int64   `json:"mem_total_kb"`
	MemFreeKB  *int64   `json:"mem_free_kb"`
	TempC      *float64 `json:"temp_c"`
	UptimeS    *int64   `json:"uptime_s"`
	DiskFreeMB *int64   `json:"disk_free_mb"`
}

// JobStatus is the heartbeat view of the in-flight job
type JobStatus struct {
	ID          string   `json:"id"`
	SinceTS     int64    `json:"since_ts"`
	ElapsedS    int64    `json:"elapsed_s"`
	UsingGPU    bool     `json:"using_gpu"`
	AudioLeftS  *float64 `json:"audio_left_s"`
	AudioRightS *float64 `json:"audio_right_s"`
	Threads     int      `json:"threads"`
	Model       string   `json:"model"`
}

// Heartbeat is the periodic liveness frame
type Heartbeat struct {
	Type        string       `json:"type"`
	WorkerID    string       `json:"worker_id"`
	TS          int64        `json:"ts"`
	Status      WorkerStatus `json:"status"`
	Metrics     HostMetrics  `json:"metrics"`
	Software    SoftwareInfo `json:"software"`
	Network     NetworkInfo  `json:"network"`
	ModelConfig ModelConfig  `json:"model_config"`
	// Job is an empty object when idle
	Job *JobStatus `json:"job"`
}

// MarshalJSON renders an idle job as {} rather than null
func (h Heartbeat) MarshalJSON() ([]byte, error) {
	type plain Heartbeat
	aux := struct {
		plain
		Job any `json:"job"`
	}{plain: plain(h), Job: struct{}{}}
	if h.Job != nil {
		aux.Job = h.Job
	}
	return json.Marshal(aux)
}

// JobRef is used by job.ack and job.done
type JobRef struct {
	Type     string `json:"type"`
	JobID    string `json:"job_id"`
	WorkerID string `json:"worker_id"`
}

// JobErrorDetail is the error body of job.error
type JobErrorDetail struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// JobError reports a terminal job failure or a rejected assignment
type JobError struct {
	Type     string         `json:"type"`
	JobID    string         `json:"job_id"`
	WorkerID string         `json:"worker_id"`
	Error    JobErrorDetail `json:"error"`
}

// WorkerRef is used by control.pong and control.ack
type WorkerRef struct {
	Type     string `json:"type"`
	WorkerID string `json:"worker_id"`
}

// JobMetrics are stage timings and real-time factors of one job
type JobMetrics struct {
	DownloadMs   int64   `json:"download_ms"`
	SplitMs      int64   `json:"split_ms"`
	WhisperMs    int64   `json:"whisper_ms"`
	TotalMs      int64   `json:"total_ms"`
	SourceDurS   float64 `json:"mp3_duration_s"`
	LeftDurS     float64 `json:"dur_left_s"`
	RightDurS    float64 `json:"dur_right_s"`
	RTFLeft      float64 `json:"rtf_left"`
	RTFRight     float64 `json:"rtf_right"`
	RTFAvg       float64 `json:"rtf_avg"`
	UsedFallback bool    `json:"used_fallback,omitempty"`
}

// ResultMeta carries segments and provenance of a result
type ResultMeta struct {
	Segments     []Segment `json:"segments"`
	AudioSHA256  string    `json:"audio_sha256"`
	ModelPath    string    `json:"model_path"`
	LangHint     string    `json:"lang_hint"`
	Threads      int       `json:"threads"`
	ResultID     string    `json:"result_id"`
	LeftSRTPath  string    `json:"left_srt_path,omitempty"`
	RightSRTPath string    `json:"right_srt_path,omitempty"`
}

// JobResult is POSTed to the coordinator's result endpoint
type JobResult struct {
	Type     string     `json:"type"`
	JobID    string     `json:"job_id"`
	WorkerID string     `json:"worker_id"`
	Status   string     `json:"status"`
	Metrics  JobMetrics `json:"metrics"`
	Text     string     `json:"text"`
	Meta     ResultMeta `json:"meta"`
}

// NewJobError builds a job.error frame
func NewJobError(workerID, jobID, code, detail string) JobError {
	return JobError{
		Type:     TypeJobError,
		JobID:    jobID,
		WorkerID: workerID,
		Error:    JobErrorDetail{Code: code, Detail: detail},
	}
}
