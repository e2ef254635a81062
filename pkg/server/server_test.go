package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/store"
	"github.com/mikeboe/deep-research/pkg/workflow"
)

type topicAnswer struct {
	Topic string `json:"topic"`
}

type topicOutput struct {
	Topic string `json:"topic"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ask := workflow.NewStep("ask", func(ctx context.Context, c workflow.Call[workflow.None, topicOutput, topicAnswer, workflow.None]) workflow.Outcome[topicOutput, workflow.None] {
		if c.Resume == nil {
			return c.Suspend(workflow.None{})
		}
		c.Logger.Info("Got topic", "topic", c.Resume.Topic)
		return c.Complete(topicOutput{Topic: c.Resume.Topic})
	})
	wf := workflow.New("main-workflow").Then(ask).Commit()

	runs, err := store.OpenSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	svc := NewService(workflow.NewRunner(wf, runs), runs, nil, slog.New(slog.DiscardHandler))
	return NewRouter(NewHandler(svc)), svc
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRunLifecycle(t *testing.T) {
	r, svc := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/runs", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var started workflow.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.Equal(t, workflow.StatusSuspended, started.Status)
	require.NotNil(t, started.Suspended)
	assert.Equal(t, []string{"ask"}, started.Suspended.Path)
	assert.Nil(t, started.State)

	w = do(r, http.MethodPost, "/api/runs/"+started.RunID+"/resume", ResumeRequest{
		Step: "main-workflow.ask",
		Data: json.RawMessage(`{"topic":"shotput"}`),
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	svc.Wait()

	w = do(r, http.MethodGet, "/api/runs/"+started.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st workflow.RunState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, workflow.StatusSuccess, st.Status)
	assert.JSONEq(t, `{"topic":"shotput"}`, string(st.Output))

	w = do(r, http.MethodGet, "/api/runs/"+started.RunID+"/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var logs []database.LogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	var messages []string
	for _, l := range logs {
		messages = append(messages, l.Message)
		assert.Equal(t, started.RunID, l.RunID)
	}
	assert.Contains(t, messages, "Starting workflow run")
	assert.Contains(t, messages, "Got topic")

	w = do(r, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summaries []store.RunSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, workflow.StatusSuccess, summaries[0].Status)

	// A finished run cannot be resumed again.
	w = do(r, http.MethodPost, "/api/runs/"+started.RunID+"/resume", ResumeRequest{Step: "ask"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResumeErrors(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/runs/missing/resume", ResumeRequest{Step: "ask"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/runs", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var started workflow.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))

	w = do(r, http.MethodPost, "/api/runs/"+started.RunID+"/resume", ResumeRequest{Step: "research-workflow.approval"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/runs/"+started.RunID+"/resume", map[string]any{"data": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "step is required")

	w = do(r, http.MethodGet, "/api/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(r, http.MethodGet, "/api/runs/missing/logs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = do(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth_FailingCheck(t *testing.T) {
	r, svc := newTestRouter(t)
	svc.Checks = map[string]func(context.Context) error{
		"database": func(context.Context) error { return errors.New("connection refused") },
		"cache":    func(context.Context) error { return nil },
	}

	w := do(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unavailable","failed":{"database":"connection refused"}}`, w.Body.String())
}

func TestServiceRejectsConcurrentResume(t *testing.T) {
	_, svc := newTestRouter(t)
	require.True(t, svc.claim("run-1"))
	_, err := svc.ResumeRun(context.Background(), "run-1", ResumeRequest{Step: "ask"})
	assert.ErrorIs(t, err, ErrRunBusy)
	svc.release("run-1")
}

func TestSplitStep(t *testing.T) {
	assert.Equal(t, []string{"research-workflow", "approval"}, splitStep("research-workflow.approval"))
	assert.Equal(t, []string{"ask"}, splitStep(" ask "))
	assert.Nil(t, splitStep(""))
}

func TestRunLogHandler_CarriesAttrsAndGroups(t *testing.T) {
	logs := NewMemoryLogStore()
	logger := slog.New(NewRunLogHandler(logs, "run-1", nil)).With("run_id", "run-1").WithGroup("step")
	logger.Info("Processing query", "query", "shotput", "error", errors.New("boom"))

	entries, err := logs.RunLogs(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "Processing query", e.Message)
	assert.Equal(t, "INFO", e.Level)
	assert.Equal(t, "run-1", e.Metadata["run_id"])
	assert.Equal(t, "shotput", e.Metadata["step.query"])
	assert.Equal(t, "boom", e.Metadata["step.error"])
	assert.WithinDuration(t, time.Now(), e.Timestamp, time.Minute)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(workflow.ErrRunNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(workflow.ErrNotSuspended))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("db down")))
}
