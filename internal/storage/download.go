package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"voxagent/pkg/logger"

	"go.uber.org/zap"
)

const errBodyLimit = 500

// StatusError is a non-2xx answer from a storage endpoint
type StatusError struct {
	Code       int
	Body       string
	retryAfter time.Duration
	hasHint    bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status=%d, body=%s", e.Code, e.Body)
}

// RetryAfter exposes the server's Retry-After hint in seconds, if any
func (e *StatusError) RetryAfter() (time.Duration, bool) {
	return e.retryAfter, e.hasHint
}

func newStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
	e := &StatusError{Code: resp.StatusCode, Body: string(body)}
	if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
			e.retryAfter = time.Duration(secs) * time.Second
			e.hasHint = true
		}
	}
	return e
}

// HTTPDownloader fetches direct audio links
type HTTPDownloader struct {
	client *http.Client
}

func NewHTTPDownloader(timeout time.Duration) *HTTPDownloader {
	return &HTTPDownloader{
		client: &http.Client{Timeout: timeout},
	}
}

// Download streams rawURL into dst
func (d *HTTPDownloader) Download(ctx context.Context, rawURL, dst string) error {
	logger.Info("Downloading audio", zap.String("url", RedactURL(rawURL)), zap.String("dst", dst))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", redactError(err))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", redactError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to download file: %w", newStatusError(resp))
	}

	n, err := writeFile(dst, resp.Body)
	if err != nil {
		return err
	}

	logger.Debug("Audio downloaded", zap.String("dst", dst), zap.Int64("size", n))
	return nil
}

// RedactURL keeps scheme, host and path. Query strings and user info of
// signed links carry credentials and never reach logs or job errors.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String()
}

// redactError strips credentials from the URL net/http embeds in its errors
func redactError(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	return &url.Error{Op: ue.Op, URL: RedactURL(ue.URL), Err: ue.Err}
}

// writeFile streams r into a sibling temp file and renames it into place, so a
// failed transfer never leaves a truncated dst behind.
func writeFile(dst string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create dir: %w", err)
	}
	part := dst + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("failed to rename file: %w", err)
	}
	return n, nil
}
