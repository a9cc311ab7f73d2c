package session

import (
	"context"
	"path/filepath"
	"time"
	"voxagent/internal/sysinfo"
	"voxagent/internal/worker"
	"voxagent/pkg/logger"
	"voxagent/pkg/model"

	"go.uber.org/zap"
)

// Host builds the registration and heartbeat frames
type Host interface {
	Registration(ctx context.Context) model.Registration
	Heartbeat(ctx context.Context) model.Heartbeat
}

type Sampler interface {
	Metrics(ctx context.Context) model.HostMetrics
	Device(ctx context.Context, modelName string) model.DeviceInfo
	Network(ctx context.Context, serverURL string) model.NetworkInfo
}

type GPU interface {
	DetectGPU(ctx context.Context) bool
	UsingGPU() bool
}

type HostConfig struct {
	WorkerID     string
	Token        string
	IncludeToken bool
	DeviceModel  string
	ServerURL    string
	Software     model.SoftwareInfo
	Thermal      sysinfo.ThermalPolicy
}

// HostReporter describes this worker from live samples, the job slot and
// the runtime settings
type HostReporter struct {
	cfg      HostConfig
	sampler  Sampler
	gpu      GPU
	state    *worker.State
	settings *worker.Settings
	now      func() time.Time
}

func NewHostReporter(cfg HostConfig, sampler Sampler, gpu GPU, state *worker.State, settings *worker.Settings) *HostReporter {
	return &HostReporter{
		cfg:      cfg,
		sampler:  sampler,
		gpu:      gpu,
		state:    state,
		settings: settings,
		now:      time.Now,
	}
}

// Registration detects the GPU on first use; later connections reuse the answer.
func (h *HostReporter) Registration(ctx context.Context) model.Registration {
	mc := h.settings.ModelConfig()
	reg := model.Registration{
		Type:     model.TypeRegistration,
		WorkerID: h.cfg.WorkerID,
		Device:   h.sampler.Device(ctx, h.cfg.DeviceModel),
		Software: h.cfg.Software,
		Capabilities: model.Capabilities{
			SupportsModels: []string{filepath.Base(mc.ModelPath)},
			GPU:            h.gpu.DetectGPU(ctx),
		},
		ModelConfig: mc,
		Network:     h.sampler.Network(ctx, h.cfg.ServerURL),
	}
	if h.cfg.IncludeToken {
		reg.Token = h.cfg.Token
	}
	return reg
}

// Heartbeat samples the host and applies the thermal policy before reading
// the model config, so the frame carries the thread count in effect.
func (h *HostReporter) Heartbeat(ctx context.Context) model.Heartbeat {
	metrics := h.sampler.Metrics(ctx)
	if metrics.TempC != nil {
		current := h.settings.Threads()
		if next, changed := h.cfg.Thermal.Adjust(*metrics.TempC, current); changed {
			h.settings.SetThreads(next)
			logger.Info("Thermal policy changed threads",
				zap.Float64("temp_c", *metrics.TempC),
				zap.Int("from", current),
				zap.Int("to", next))
		}
	}

	now := h.now()
	return model.Heartbeat{
		Type:        model.TypeHeartbeat,
		WorkerID:    h.cfg.WorkerID,
		TS:          now.Unix(),
		Status:      h.state.Status(),
		Metrics:     metrics,
		Software:    h.cfg.Software,
		Network:     h.sampler.Network(ctx, h.cfg.ServerURL),
		ModelConfig: h.settings.ModelConfig(),
		Job:         h.state.JobStatus(now, h.gpu.UsingGPU()),
	}
}
