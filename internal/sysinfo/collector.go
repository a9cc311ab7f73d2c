package sysinfo

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
	"voxagent/internal/command"
	"voxagent/pkg/logger"
	"voxagent/pkg/model"
	"voxagent/pkg/resilience"

	"go.uber.org/zap"
)

const minCPUSample = 200 * time.Millisecond

// Collector samples the host. Every sample is best effort: a failed sample
// leaves its field empty and never fails the caller.
type Collector struct {
	procRoot     string
	thermalZones []string
	diskPath     string
	cpuSample    time.Duration
	runner       command.Runner
	started      time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

type Option func(*Collector)

// WithProcRoot replaces /proc, for tests
func WithProcRoot(root string) Option {
	return func(c *Collector) { c.procRoot = root }
}

// WithThermalZones replaces the thermal zone candidates
func WithThermalZones(paths ...string) Option {
	return func(c *Collector) { c.thermalZones = paths }
}

func NewCollector(runner command.Runner, diskPath string, cpuSample time.Duration, opts ...Option) *Collector {
	if cpuSample < minCPUSample {
		cpuSample = minCPUSample
	}
	c := &Collector{
		procRoot: "/proc",
		thermalZones: []string{
			"/sys/class/thermal/thermal_zone0/temp",
			"/sys/class/thermal/thermal_zone1/temp",
			"/sys/devices/virtual/thermal/thermal_zone0/temp",
		},
		diskPath:  diskPath,
		cpuSample: cpuSample,
		runner:    runner,
		started:   time.Now(),
		sleep:     resilience.Sleep,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Metrics takes one sample. It blocks for the CPU sampling window.
func (c *Collector) Metrics(ctx context.Context) model.HostMetrics {
	var m model.HostMetrics

	if v, ok := c.cpuPercent(ctx); ok {
		m.CPUPercent = &v
	}
	if data, err := c.readProc("meminfo"); err == nil {
		if total, avail, ok := ParseMeminfo(data); ok {
			m.MemTotalKB = &total
			m.MemFreeKB = &avail
		}
	}
	if v, ok := c.Temperature(); ok {
		m.TempC = &v
	}

	uptime := int64(time.Since(c.started).Seconds())
	if data, err := c.readProc("uptime"); err == nil {
		if v, ok := ParseUptime(data); ok {
			uptime = v
		}
	}
	m.UptimeS = &uptime

	if free, _, err := DiskUsageMB(c.diskPath); err == nil {
		m.DiskFreeMB = &free
	}
	return m
}

func (c *Collector) cpuPercent(ctx context.Context) (float64, bool) {
	before, err := c.readCPU()
	if err == nil {
		if err := c.sleep(ctx, c.cpuSample); err != nil {
			return 0, false
		}
		after, err := c.readCPU()
		if err == nil {
			return CPUPercent(before, after), true
		}
	}

	data, err := c.readProc("loadavg")
	if err != nil {
		return 0, false
	}
	return LoadPercent(data, runtime.NumCPU())
}

func (c *Collector) readCPU() (CPUTimes, error) {
	data, err := c.readProc("stat")
	if err != nil {
		return CPUTimes{}, err
	}
	return ParseCPUStat(data)
}

// Temperature returns the first readable thermal zone in degrees Celsius
func (c *Collector) Temperature() (float64, bool) {
	for _, p := range c.thermalZones {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if v, ok := ParseThermal(string(data)); ok {
			return v, true
		}
	}
	return 0, false
}

// Device describes the host. modelName wins over the getprop lookup.
func (c *Collector) Device(ctx context.Context, modelName string) model.DeviceInfo {
	info := model.DeviceInfo{Model: modelName}
	if info.Model == "" {
		if res, err := c.runner.Run(ctx, 3*time.Second, "getprop", "ro.product.model"); err == nil {
			info.Model = strings.TrimSpace(res.Stdout)
		}
	}
	if info.Model == "" {
		info.Model = "unknown"
	}

	if data, err := c.readProc("cpuinfo"); err == nil {
		info.CPUCores = CountProcessors(data)
	}
	if info.CPUCores == 0 {
		info.CPUCores = runtime.NumCPU()
	}

	if data, err := c.readProc("meminfo"); err == nil {
		if total, _, ok := ParseMeminfo(data); ok {
			info.RAMMB = total / 1024
		}
	}
	if _, total, err := DiskUsageMB(c.diskPath); err == nil {
		info.StorageTotalMB = total
	}
	return info
}

// Network resolves the outbound address and the round trip to the
// coordinator host.
func (c *Collector) Network(ctx context.Context, serverURL string) model.NetworkInfo {
	info := model.NetworkInfo{IP: "0.0.0.0"}

	if res, err := c.runner.Run(ctx, 2*time.Second, "ip", "-4", "route", "get", "1.1.1.1"); err == nil {
		if ip, ok := ParseRouteSrc(res.Stdout); ok {
			info.IP = ip
		}
	}

	host := ""
	if u, err := url.Parse(serverURL); err == nil {
		host = u.Hostname()
	}
	if host == "" {
		return info
	}
	res, err := c.runner.Run(ctx, 2*time.Second, "ping", "-c", "1", "-W", "1", host)
	if err != nil {
		logger.Debug("ping failed", zap.String("host", host), zap.Error(err))
		return info
	}
	if rtt, ok := ParsePingRTT(res.Stdout); ok {
		info.RTTMs = rtt
	}
	return info
}

// Software reports tool versions. ffmpegVersion and whisperCLI come from the
// media and whisper packages.
func Software(ffmpegVersion, whisperCLI string) model.SoftwareInfo {
	return model.SoftwareInfo{
		FFmpeg:     ffmpegVersion,
		Go:         runtime.Version(),
		WhisperCLI: whisperCLI,
	}
}

func (c *Collector) readProc(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(c.procRoot, name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
