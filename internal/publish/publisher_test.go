package publish

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"voxagent/pkg/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	header http.Header
	result model.JobResult
}

func newServer(t *testing.T, status int) (*httptest.Server, chan captured) {
	t.Helper()
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body io.Reader = r.Body
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer zr.Close()
			body = zr
		}
		var res model.JobResult
		if err := json.NewDecoder(body).Decode(&res); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got <- captured{header: r.Header.Clone(), result: res}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func sampleResult(text string) model.JobResult {
	return model.JobResult{
		Type:     model.TypeJobResult,
		JobID:    "job-1",
		WorkerID: "w-1",
		Status:   "done",
		Text:     text,
		Meta:     model.ResultMeta{ResultID: "abc"},
	}
}

func TestPublish_PlainBody(t *testing.T) {
	srv, got := newServer(t, http.StatusOK)
	p := NewHTTPPublisher(Config{URL: srv.URL, Token: "tok", WorkerID: "w-1", GzipThreshold: 100000, Timeout: 5 * time.Second})

	require.NoError(t, p.Publish(context.Background(), sampleResult("короткий текст")))

	c := <-got
	assert.Equal(t, "Bearer tok", c.header.Get("Authorization"))
	assert.Equal(t, "w-1", c.header.Get("X-Worker-Id"))
	assert.Empty(t, c.header.Get("Content-Encoding"))
	_, err := uuid.Parse(c.header.Get("X-Request-Id"))
	assert.NoError(t, err)
	assert.Equal(t, "короткий текст", c.result.Text)
}

func TestPublish_GzipAboveThreshold(t *testing.T) {
	srv, got := newServer(t, http.StatusAccepted)
	p := NewHTTPPublisher(Config{URL: srv.URL, Token: "tok", WorkerID: "w-1", GzipThreshold: 1000, Timeout: 5 * time.Second})

	text := strings.Repeat("слово ", 1000)
	require.NoError(t, p.Publish(context.Background(), sampleResult(text)))

	c := <-got
	assert.Equal(t, "gzip", c.header.Get("Content-Encoding"))
	assert.Equal(t, text, c.result.Text)
}

func TestPublish_NonSuccessStatus(t *testing.T) {
	srv, got := newServer(t, http.StatusBadGateway)
	p := NewHTTPPublisher(Config{URL: srv.URL, WorkerID: "w-1", Timeout: 5 * time.Second})

	err := p.Publish(context.Background(), sampleResult("x"))
	<-got

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Contains(t, se.Body, "ok")
}
