package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"voxagent/internal/command"
	"voxagent/internal/config"
	"voxagent/internal/media"
	"voxagent/internal/publish"
	"voxagent/internal/session"
	"voxagent/internal/storage"
	"voxagent/internal/sysinfo"
	"voxagent/internal/whisper"
	"voxagent/internal/worker"
	"voxagent/pkg/cache"
	"voxagent/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	// Initialize logger
	if err := logger.Init(cfg.Log.Level, cfg.LogFile()); err != nil {
		panic("Failed to init logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("Starting transcription worker agent", zap.String("worker_id", cfg.Worker.ID))

	wsURL, err := cfg.WSURL()
	if err != nil {
		logger.Fatal("Invalid control channel URL", zap.Error(err))
		return
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := command.ExecRunner{}
	ffmpeg := media.NewFFmpeg(runner, cfg.Whisper.Timeout)

	locator := whisper.NewLocator(cfg.Whisper.Bin)
	resolver := whisper.NewResolver(runner, locator, cfg.Whisper.Timeout)
	if !cfg.Whisper.GPUDetect {
		resolver.SetGPU(false)
	}
	whisperCLI := ""
	if bin, err := locator.Find(); err != nil {
		logger.Warn("Whisper binary not found, jobs will fail until it is installed", zap.Error(err))
	} else {
		whisperCLI = filepath.Base(bin)
		logger.Info("Whisper binary located", zap.String("path", bin))
	}

	diskCache, err := cache.NewDiskCache(cfg.Cache.Dir, cfg.Cache.MaxMB)
	if err != nil {
		logger.Fatal("Failed to initialize cache", zap.Error(err))
		return
	}
	logger.Info("Cache initialized",
		zap.String("dir", diskCache.Dir()),
		zap.Int64("max_mb", cfg.Cache.MaxMB))

	// S3 is optional; a nil source makes s3:// jobs fail with a clear error
	var s3Source storage.Downloader
	if cfg.S3Enabled() {
		src, err := storage.NewS3Source(ctx, cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Region)
		if err != nil {
			logger.Fatal("Failed to initialize S3 source", zap.Error(err))
			return
		}
		s3Source = src
		logger.Info("S3 source initialized", zap.String("endpoint", cfg.S3.Endpoint))
	}

	fetcher := storage.NewFetcher(
		storage.NewHTTPDownloader(cfg.Download.Timeout),
		storage.NewYandexDisk(cfg.YandexDisk.APIURL, cfg.YandexDisk.OAuthToken, cfg.Download.Timeout),
		s3Source,
	)

	publisher := publish.NewHTTPPublisher(publish.Config{
		URL:           cfg.Server.API,
		Token:         cfg.Worker.Token,
		WorkerID:      cfg.Worker.ID,
		GzipThreshold: cfg.Publish.GzipThreshold,
		Timeout:       cfg.Publish.Timeout,
	})

	state := worker.NewState()
	settings := worker.NewSettings(cfg.Model.Threads, cfg.Model.LangHint, cfg.Model.Path, cfg.Model.FallbackPath)

	pipeline := worker.NewPipeline(worker.PipelineConfig{
		WorkerID:    cfg.Worker.ID,
		MinWAVBytes: cfg.Transcript.MinWAVBytes,
		MergeGap:    cfg.Transcript.MergeGapS,
		MaxTextLen:  cfg.Transcript.MaxTextLen,
		NoiseTokens: cfg.Transcript.NoiseTokens,
	}, worker.Deps{
		Fetcher:     fetcher,
		Splitter:    ffmpeg,
		Transcriber: resolver,
		Publisher:   publisher,
		Cache:       diskCache,
		Settings:    settings,
		State:       state,
	})
	gate := worker.NewGate(ctx, cfg.Worker.ID, state, pipeline)

	collector := sysinfo.NewCollector(runner, cfg.Worker.BaseDir, cfg.Heartbeat.CPUSample)
	host := session.NewHostReporter(session.HostConfig{
		WorkerID:     cfg.Worker.ID,
		Token:        cfg.Worker.Token,
		IncludeToken: cfg.Worker.RegIncludeToken,
		DeviceModel:  cfg.Worker.DeviceModel,
		ServerURL:    cfg.Server.WS,
		Software:     sysinfo.Software(ffmpeg.Version(ctx), whisperCLI),
		Thermal: sysinfo.ThermalPolicy{
			HighC:       cfg.Thermal.HighC,
			MidC:        cfg.Thermal.MidC,
			LowC:        cfg.Thermal.LowC,
			HighThreads: cfg.Thermal.HighThreads,
			MidThreads:  cfg.Thermal.MidThreads,
			BaseThreads: cfg.Model.Threads,
		},
	}, collector, resolver, state, settings)

	manager := session.NewManager(session.Config{
		URL:               wsURL,
		Token:             cfg.Worker.Token,
		WorkerID:          cfg.Worker.ID,
		HandshakeTimeout:  cfg.Server.HandshakeTimeout,
		HeartbeatInterval: cfg.Heartbeat.Interval,
		HeartbeatOnReady:  cfg.Heartbeat.OnReady,
		PingInterval:      cfg.Server.PingInterval,
		PongWait:          cfg.Server.PongWait,
	}, session.WSDialer{
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		ReadLimit:        session.DefaultReadLimit,
	}, host, gate, settings)

	if err := manager.Run(ctx); err != nil {
		logger.Error("Session manager failed", zap.Error(err))
	}

	logger.Info("Waiting for the running job to finish")
	gate.Wait()

	logger.Info("Worker agent shutdown complete")
}
