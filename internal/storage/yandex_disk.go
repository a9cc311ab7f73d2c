package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"voxagent/pkg/logger"
	"voxagent/pkg/resilience"

	"go.uber.org/zap"
)

const DefaultYandexDiskAPI = "https://cloud-api.yandex.net/v1/disk"

var ErrNoDiskToken = errors.New("YADISK_OAUTH_TOKEN is not set")

type hrefResponse struct {
	Href string `json:"href"`
}

// YandexDisk downloads files from a Yandex Disk account through the REST API
type YandexDisk struct {
	apiURL  string
	token   string
	client  *http.Client
	meta    *http.Client
	retry   *resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
}

// New Yandex Disk client. timeout bounds the file transfer; metadata
// requests use a shorter one.
func NewYandexDisk(apiURL, token string, timeout time.Duration) *YandexDisk {
	if apiURL == "" {
		apiURL = DefaultYandexDiskAPI
	}
	return &YandexDisk{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
		meta:   &http.Client{Timeout: 30 * time.Second},
		retry: &resilience.RetryConfig{
			MaxAttempts:     5,
			InitialInterval: 800 * time.Millisecond,
			MaxInterval:     8 * time.Second,
			Multiplier:      2.0,
		},
		// an outage of the API fails jobs fast; a missing file does not count
		breaker: resilience.NewCircuitBreaker(3, time.Minute).WithIgnore(isClientError),
		limiter: resilience.NewRateLimiter(10, 100*time.Millisecond),
	}
}

func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && !retryableStatus(se.Code)
}

// NormalizeDiskPath converts "/calls/a.mp3" or "calls/a.mp3" to "disk:/calls/a.mp3"
func NormalizeDiskPath(remotePath string) (string, error) {
	p := strings.TrimSpace(remotePath)
	if p == "" {
		return "", errors.New("empty remote path")
	}
	if strings.HasPrefix(p, "disk:/") {
		return p, nil
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "disk:" + p, nil
}

// ResolveHref asks for a direct download link, retrying rate limits and
// server errors. Repeated exhausted retries open the breaker and later calls
// fail with resilience.ErrCircuitOpen until it cools down.
func (y *YandexDisk) ResolveHref(ctx context.Context, diskPath string) (string, error) {
	var href string
	err := y.breaker.Execute(func() error {
		return resilience.RetryWithExponentialBackoff(ctx, y.retry, func() error {
			if err := y.limiter.Wait(ctx); err != nil {
				return resilience.Permanent(err)
			}
			var err error
			href, err = y.requestHref(ctx, diskPath)
			if err != nil {
				logger.Warn("Yandex Disk href request failed",
					zap.String("path", diskPath),
					zap.Error(err))
			}
			return err
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to resolve download link: %w", err)
	}
	return href, nil
}

func (y *YandexDisk) requestHref(ctx context.Context, diskPath string) (string, error) {
	u := y.apiURL + "/resources/download?" + url.Values{"path": {diskPath}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", resilience.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "OAuth "+y.token)

	resp, err := y.meta.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var body hrefResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", resilience.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		if body.Href == "" {
			return "", resilience.Permanent(errors.New("resources/download returned no href"))
		}
		return body.Href, nil
	case retryableStatus(resp.StatusCode):
		return "", newStatusError(resp)
	default:
		return "", resilience.Permanent(newStatusError(resp))
	}
}

// Download resolves remotePath and streams it into dst
func (y *YandexDisk) Download(ctx context.Context, remotePath, dst string) error {
	if y.token == "" {
		return ErrNoDiskToken
	}
	diskPath, err := NormalizeDiskPath(remotePath)
	if err != nil {
		return err
	}

	href, err := y.ResolveHref(ctx, diskPath)
	if err != nil {
		return err
	}

	logger.Info("Downloading from Yandex Disk", zap.String("path", diskPath), zap.String("dst", dst))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, href, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", redactError(err))
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", redactError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to download file: %w", newStatusError(resp))
	}

	_, err = writeFile(dst, resp.Body)
	return err
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
