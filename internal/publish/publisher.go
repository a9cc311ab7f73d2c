package publish

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"voxagent/pkg/logger"
	"voxagent/pkg/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const bodyHeadLimit = 500

// StatusError is returned for a non-2xx answer of the result endpoint
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("result endpoint returned status=%d, body=%s", e.Code, e.Body)
}

// Publisher delivers job results to the coordinator
type Publisher interface {
	Publish(ctx context.Context, result model.JobResult) error
}

type Config struct {
	URL      string
	Token    string
	WorkerID string
	// GzipThreshold is the body size in bytes above which the payload is compressed
	GzipThreshold int
	Timeout       time.Duration
}

type HTTPPublisher struct {
	cfg    Config
	client *http.Client
}

func NewHTTPPublisher(cfg Config) *HTTPPublisher {
	return &HTTPPublisher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Publish POSTs the result once. Failures are returned, not retried.
func (p *HTTPPublisher) Publish(ctx context.Context, result model.JobResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	gzipped := false
	if p.cfg.GzipThreshold > 0 && len(body) > p.cfg.GzipThreshold {
		body, err = compress(body)
		if err != nil {
			return err
		}
		gzipped = true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.Token)
	req.Header.Set("X-Worker-Id", p.cfg.WorkerID)
	req.Header.Set("X-Request-Id", requestID)
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}

	logger.Info("Posting result",
		zap.String("job_id", result.JobID),
		zap.String("request_id", requestID),
		zap.Int("bytes", len(body)),
		zap.Bool("gzip", gzipped))

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post result: %w", err)
	}
	defer resp.Body.Close()

	head, _ := io.ReadAll(io.LimitReader(resp.Body, bodyHeadLimit))
	logger.Info("Result endpoint answered",
		zap.String("job_id", result.JobID),
		zap.Int("status", resp.StatusCode),
		zap.String("body", string(head)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: string(head)}
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to gzip result: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to gzip result: %w", err)
	}
	return buf.Bytes(), nil
}
