package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"
	"voxagent/internal/command"
	"voxagent/internal/transcript"
	"voxagent/internal/whisper"
	"voxagent/pkg/cache"
	"voxagent/pkg/logger"
	"voxagent/pkg/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const stderrDetailLen = 400

type Fetcher interface {
	Fetch(ctx context.Context, job model.Job, dst string) error
}

type Splitter interface {
	SplitStereo(ctx context.Context, src, left, right string) error
	Duration(ctx context.Context, path string) float64
}

type Transcriber interface {
	Transcribe(ctx context.Context, req whisper.Request) (whisper.Result, error)
}

type Publisher interface {
	Publish(ctx context.Context, result model.JobResult) error
}

type PipelineConfig struct {
	WorkerID    string
	MinWAVBytes int64
	MergeGap    float64
	MaxTextLen  int
	NoiseTokens []string
}

type Deps struct {
	Fetcher     Fetcher
	Splitter    Splitter
	Transcriber Transcriber
	Publisher   Publisher
	Cache       cache.Store
	Settings    *Settings
	State       *State
}

// Pipeline runs one job from download to result delivery
type Pipeline struct {
	cfg     PipelineConfig
	deps    Deps
	cleaner *transcript.Cleaner
	now     func() time.Time
}

func NewPipeline(cfg PipelineConfig, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		deps:    deps,
		cleaner: transcript.NewCleaner(cfg.NoiseTokens),
		now:     time.Now,
	}
}

// jobFiles are the scratch paths of one job inside the cache directory
type jobFiles struct {
	source      string
	leftWAV     string
	rightWAV    string
	leftPrefix  string
	rightPrefix string
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func (p *Pipeline) filesFor(jobID string) jobFiles {
	name := unsafeName.ReplaceAllString(jobID, "_")
	if name == "" {
		name = "job"
	}
	return jobFiles{
		source:      p.deps.Cache.Path(name + ".mp3"),
		leftWAV:     p.deps.Cache.Path(name + "_left.wav"),
		rightWAV:    p.deps.Cache.Path(name + "_right.wav"),
		leftPrefix:  p.deps.Cache.Path(name + "_left"),
		rightPrefix: p.deps.Cache.Path(name + "_right"),
	}
}

// reporter sends the frames of one job and remembers whether a terminal
// frame went out
type reporter struct {
	out      Sender
	workerID string
	jobID    string
	terminal bool
}

func (r *reporter) send(v any) {
	if err := r.out.Send(v); err != nil {
		logger.Warn("Failed to send job frame", zap.String("job_id", r.jobID), zap.Error(err))
	}
}

func (r *reporter) fail(code, detail string) {
	if r.terminal {
		return
	}
	r.terminal = true
	r.send(model.NewJobError(r.workerID, r.jobID, code, detail))
}

func (r *reporter) done() {
	if r.terminal {
		return
	}
	r.terminal = true
	r.send(model.JobRef{Type: model.TypeJobDone, JobID: r.jobID, WorkerID: r.workerID})
}

// Run executes the job and reports exactly one terminal outcome. Scratch
// files are removed and the cache quota enforced on every path.
func (p *Pipeline) Run(ctx context.Context, out Sender, job model.Job) {
	rep := &reporter{out: out, workerID: p.cfg.WorkerID, jobID: job.ID}
	files := p.filesFor(job.ID)
	started := p.now()

	defer p.cleanup(job.ID, files)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			rep.fail(model.ErrCodeException, fmt.Sprint(r))
		}
	}()

	logger.Info("Job accepted", zap.String("job_id", job.ID))
	rep.send(model.JobRef{Type: model.TypeJobAck, JobID: job.ID, WorkerID: p.cfg.WorkerID})

	result, err := p.execute(ctx, job, files, started)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			logger.Error("Job failed",
				zap.String("job_id", job.ID),
				zap.String("stage", string(se.Stage)),
				zap.String("code", se.Code),
				zap.Error(se.Err))
			rep.fail(se.Code, se.Detail)
			return
		}
		logger.Error("Job failed unexpectedly", zap.String("job_id", job.ID), zap.Error(err))
		rep.fail(model.ErrCodeException, err.Error())
		return
	}

	p.publish(ctx, result)
	rep.done()

	logger.Info("Job completed",
		zap.String("job_id", job.ID),
		zap.Int("segments", len(result.Meta.Segments)),
		zap.Int64("total_ms", result.Metrics.TotalMs))
}

// publish delivers the result at most once. A failed POST is logged and the
// job still completes.
func (p *Pipeline) publish(ctx context.Context, result model.JobResult) {
	if err := p.deps.Publisher.Publish(ctx, result); err != nil {
		logger.Error("Failed to deliver result",
			zap.String("job_id", result.JobID),
			zap.String("result_id", result.Meta.ResultID),
			zap.Error(err))
	}
}

func (p *Pipeline) execute(ctx context.Context, job model.Job, files jobFiles, started time.Time) (model.JobResult, error) {
	var metrics model.JobMetrics
	settings := p.deps.Settings.Snapshot()
	p.deps.State.Update(job.ID, func(j *JobSnapshot) {
		j.ModelPath = settings.ModelPath
		j.Threads = settings.Threads
	})

	// download
	if err := job.Validate(); err != nil {
		return model.JobResult{}, stageError(model.JobStageDownloading, model.ErrCodeNoInput, err.Error(), err)
	}
	t := p.now()
	if err := p.deps.Fetcher.Fetch(ctx, job, files.source); err != nil {
		if errors.Is(err, model.ErrNoAudioSource) {
			return model.JobResult{}, stageError(model.JobStageDownloading, model.ErrCodeNoInput, err.Error(), err)
		}
		return model.JobResult{}, stageError(model.JobStageDownloading, model.ErrCodeDownloadFailed, err.Error(), err)
	}
	metrics.DownloadMs = p.since(t)

	// split
	t = p.now()
	if err := p.deps.Splitter.SplitStereo(ctx, files.source, files.leftWAV, files.rightWAV); err != nil {
		return model.JobResult{}, stageError(model.JobStageSplitting, model.ErrCodeSplitFailed, err.Error(), err)
	}
	metrics.SplitMs = p.since(t)
	if !p.largeEnough(files.leftWAV) || !p.largeEnough(files.rightWAV) {
		return model.JobResult{}, stageError(model.JobStageSplitting, model.ErrCodeSplitEmpty,
			"channel file below "+strconv.FormatInt(p.cfg.MinWAVBytes, 10)+" bytes", nil)
	}

	metrics.SourceDurS = p.deps.Splitter.Duration(ctx, files.source)
	metrics.LeftDurS = p.deps.Splitter.Duration(ctx, files.leftWAV)
	metrics.RightDurS = p.deps.Splitter.Duration(ctx, files.rightWAV)
	p.deps.State.SetAudioDurations(job.ID, metrics.LeftDurS, metrics.RightDurS)

	// transcribe
	t = p.now()
	runs, usedModel, err := p.transcribe(ctx, job.ID, files, settings)
	metrics.WhisperMs = p.since(t)
	if err != nil {
		return model.JobResult{}, err
	}
	metrics.UsedFallback = usedModel != settings.ModelPath
	metrics.RTFLeft = rtf(runs[0].elapsed, metrics.LeftDurS)
	metrics.RTFRight = rtf(runs[1].elapsed, metrics.RightDurS)
	metrics.RTFAvg = average(metrics.RTFLeft, metrics.RTFRight)

	// assemble
	outputs := make([]transcript.ChannelOutput, 0, len(runs))
	for _, r := range runs {
		data, err := os.ReadFile(r.result.Artifact)
		if err != nil {
			return model.JobResult{}, stageError(model.JobStageAssembling, model.ErrCodeWhisperFailed, err.Error(), err)
		}
		outputs = append(outputs, transcript.ChannelOutput{
			Speaker: job.SpeakerFor(r.side),
			Timed:   r.result.Format == whisper.FormatSRT,
			Content: string(data),
		})
	}
	segments, text := transcript.Assemble(outputs, transcript.Options{
		MergeGap:   p.cfg.MergeGap,
		MaxTextLen: p.cfg.MaxTextLen,
		Cleaner:    p.cleaner,
	})
	if segments == nil {
		segments = []model.Segment{}
	}

	audioSum, err := sha256File(files.source)
	if err != nil {
		logger.Warn("Failed to hash source audio", zap.String("job_id", job.ID), zap.Error(err))
	}

	meta := model.ResultMeta{
		Segments:    segments,
		AudioSHA256: audioSum,
		ModelPath:   usedModel,
		LangHint:    settings.LangHint,
		Threads:     settings.Threads,
		ResultID:    ResultID(p.cfg.WorkerID, job.ID, usedModel, text, len(segments)),
	}
	for _, r := range runs {
		if r.result.Format != whisper.FormatSRT {
			continue
		}
		if r.side == model.ChannelLeft {
			meta.LeftSRTPath = r.result.Artifact
		} else {
			meta.RightSRTPath = r.result.Artifact
		}
	}

	metrics.TotalMs = p.since(started)
	return model.JobResult{
		Type:     model.TypeJobResult,
		JobID:    job.ID,
		WorkerID: p.cfg.WorkerID,
		Status:   "ok",
		Metrics:  metrics,
		Text:     text,
		Meta:     meta,
	}, nil
}

// channelRun is the outcome of one channel transcription
type channelRun struct {
	side    string
	wav     string
	prefix  string
	result  whisper.Result
	elapsed time.Duration
	err     error
}

// transcribe runs both channels concurrently. When either fails, both are
// retried once with the fallback model if one is configured.
func (p *Pipeline) transcribe(ctx context.Context, jobID string, files jobFiles, s SettingsSnapshot) ([]channelRun, string, error) {
	runs, err := p.transcribeWith(ctx, files, s, s.ModelPath)
	if err == nil {
		return runs, s.ModelPath, nil
	}
	if errors.Is(err, whisper.ErrBinaryNotFound) {
		return nil, "", stageError(model.JobStageTranscribing, model.ErrCodeBinaryMissing, err.Error(), err)
	}

	if s.FallbackPath != "" && s.FallbackPath != s.ModelPath && ctx.Err() == nil {
		logger.Warn("Transcription failed, retrying with fallback model",
			zap.String("job_id", jobID),
			zap.String("fallback", s.FallbackPath),
			zap.Error(err))
		p.deps.State.Update(jobID, func(j *JobSnapshot) { j.ModelPath = s.FallbackPath })

		runs, err = p.transcribeWith(ctx, files, s, s.FallbackPath)
		if err == nil {
			return runs, s.FallbackPath, nil
		}
		if errors.Is(err, whisper.ErrBinaryNotFound) {
			return nil, "", stageError(model.JobStageTranscribing, model.ErrCodeBinaryMissing, err.Error(), err)
		}
	}

	return nil, "", stageError(model.JobStageTranscribing, model.ErrCodeWhisperFailed, whisperDetail(runs), err)
}

// transcribeWith returns the runs even on failure so the caller can report
// per-channel exit codes
func (p *Pipeline) transcribeWith(ctx context.Context, files jobFiles, s SettingsSnapshot, modelPath string) ([]channelRun, error) {
	runs := []channelRun{
		{side: model.ChannelLeft, wav: files.leftWAV, prefix: files.leftPrefix},
		{side: model.ChannelRight, wav: files.rightWAV, prefix: files.rightPrefix},
	}

	var panicked any
	var panicOnce sync.Once

	g, gctx := errgroup.WithContext(ctx)
	for i := range runs {
		r := &runs[i]
		g.Go(func() (err error) {
			// re-raised on the job goroutine, where it is reported
			defer func() {
				if rec := recover(); rec != nil {
					panicOnce.Do(func() { panicked = rec })
					err = fmt.Errorf("%s channel panicked", r.side)
				}
			}()
			t := p.now()
			r.result, r.err = p.deps.Transcriber.Transcribe(gctx, whisper.Request{
				Audio:     r.wav,
				OutPrefix: r.prefix,
				ModelPath: modelPath,
				LangHint:  s.LangHint,
				Threads:   s.Threads,
			})
			r.elapsed = p.now().Sub(t)
			if r.err != nil {
				return fmt.Errorf("%s channel: %w", r.side, r.err)
			}
			return nil
		})
	}
	err := g.Wait()
	if panicked != nil {
		panic(panicked)
	}
	return runs, err
}

func whisperDetail(runs []channelRun) string {
	detail := ""
	for _, r := range runs {
		rc := 0
		tail := ""
		var we *whisper.Error
		if errors.As(r.err, &we) {
			rc = we.LastExitCode
			tail = command.Tail(we.StderrTail, stderrDetailLen)
		} else if r.err != nil {
			tail = r.err.Error()
		}
		if detail != "" {
			detail += "; "
		}
		detail += fmt.Sprintf("%s rc=%d %s", r.side, rc, tail)
	}
	return detail
}

func (p *Pipeline) cleanup(jobID string, files jobFiles) {
	p.deps.Cache.Remove(files.source, files.leftWAV, files.rightWAV)
	evicted, err := p.deps.Cache.EnforceQuota()
	if err != nil {
		logger.Warn("Cache quota enforcement failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if len(evicted) > 0 {
		logger.Info("Cache entries evicted", zap.String("job_id", jobID), zap.Int("count", len(evicted)))
	}
}

func (p *Pipeline) largeEnough(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() >= p.cfg.MinWAVBytes
}

func (p *Pipeline) since(t time.Time) int64 {
	return p.now().Sub(t).Milliseconds()
}

// ResultID identifies a result for duplicate detection downstream
func ResultID(workerID, jobID, modelPath, text string, segments int) string {
	sum := sha256.Sum256([]byte(workerID + jobID + modelPath +
		strconv.Itoa(utf8.RuneCountInString(text)) + strconv.Itoa(segments)))
	return hex.EncodeToString(sum[:])
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// rtf is processing time over audio time, 0 when the duration is unknown
func rtf(elapsed time.Duration, durS float64) float64 {
	if durS <= 0 {
		return 0
	}
	return elapsed.Seconds() / durS
}

func average(vals ...float64) float64 {
	var sum float64
	n := 0
	for _, v := range vals {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
