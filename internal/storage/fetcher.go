package storage

import (
	"context"
	"errors"
	"strings"
	"voxagent/pkg/logger"
	"voxagent/pkg/model"

	"go.uber.org/zap"
)

var ErrS3NotConfigured = errors.New("s3 source is not configured")

// Downloader fetches one remote object into a local file
type Downloader interface {
	Download(ctx context.Context, src, dst string) error
}

// Fetcher routes a job to the source that holds its audio. audio_url takes
// precedence over input.file; input.file is an s3:// URI or a Yandex Disk path.
type Fetcher struct {
	url  Downloader
	disk Downloader
	s3   Downloader
}

// NewFetcher wires the sources. s3 may be nil when no object store is configured.
func NewFetcher(url, disk, s3 Downloader) *Fetcher {
	return &Fetcher{url: url, disk: disk, s3: s3}
}

// Fetch downloads the job audio into dst
func (f *Fetcher) Fetch(ctx context.Context, job model.Job, dst string) error {
	audioURL := strings.TrimSpace(job.AudioURL)
	file := strings.TrimSpace(job.Input.File)

	switch {
	case audioURL != "":
		if file != "" {
			logger.Warn("Job names both audio_url and input.file, using audio_url",
				zap.String("job_id", job.ID))
		}
		return f.url.Download(ctx, audioURL, dst)
	case strings.HasPrefix(file, s3Scheme):
		if f.s3 == nil {
			return ErrS3NotConfigured
		}
		return f.s3.Download(ctx, file, dst)
	case file != "":
		return f.disk.Download(ctx, file, dst)
	}
	return model.ErrNoAudioSource
}
