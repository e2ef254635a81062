package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/store"
	"github.com/mikeboe/deep-research/pkg/workflow"
)

// ErrRunBusy is returned when a resume is requested for a run that is
// already executing in the background.
var ErrRunBusy = errors.New("run is already executing")

// RunLister lists stored runs.
type RunLister interface {
	List(ctx context.Context, limit int) ([]store.RunSummary, error)
}

// Service exposes workflow runs over HTTP. Resumes execute in the
// background; clients poll the run for its next suspension.
type Service struct {
	Runner *workflow.Runner
	Runs   RunLister
	Logs   LogStore
	Logger *slog.Logger
	// Checks are run by the health endpoint, keyed by dependency name.
	Checks map[string]func(context.Context) error

	wg       sync.WaitGroup
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewService(runner *workflow.Runner, runs RunLister, logs LogStore, logger *slog.Logger) *Service {
	if logs == nil {
		logs = NewMemoryLogStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Runner:   runner,
		Runs:     runs,
		Logs:     logs,
		Logger:   logger,
		inflight: map[string]struct{}{},
	}
}

// ResumeRequest answers the suspension at Step, a dotted path such as
// "research-workflow.approval".
type ResumeRequest struct {
	Step string          `json:"step" binding:"required"`
	Data json.RawMessage `json:"data"`
}

// Accepted is returned when a resume has been queued.
type Accepted struct {
	RunID  string          `json:"runId"`
	Status workflow.Status `json:"status"`
}

// StartRun creates a run of the main workflow. It returns once the run
// first suspends, which needs no model calls.
func (s *Service) StartRun(ctx context.Context) (*workflow.Result, error) {
	runID := uuid.NewString()
	ctx = workflow.ContextWithLogger(ctx, s.runLogger(runID))
	res, err := s.Runner.StartWithID(ctx, runID, workflow.None{})
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	return res, nil
}

// ResumeRun validates the request and continues the run in the background.
func (s *Service) ResumeRun(ctx context.Context, runID string, req ResumeRequest) (*Accepted, error) {
	path := splitStep(req.Step)
	if !s.claim(runID) {
		return nil, fmt.Errorf("%w: %s", ErrRunBusy, runID)
	}
	if err := s.Runner.CanResume(ctx, runID, path); err != nil {
		s.release(runID)
		return nil, err
	}

	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(runID)

		logger := s.runLogger(runID)
		bg := workflow.ContextWithLogger(context.WithoutCancel(ctx), logger)
		res, err := s.Runner.Resume(bg, runID, path, data)
		if err != nil {
			logger.Error("Resume failed", "error", err)
			return
		}
		logger.Info("Run paused or finished", "status", res.Status)
	}()

	return &Accepted{RunID: runID, Status: workflow.StatusRunning}, nil
}

// GetRun returns the stored state of a run.
func (s *Service) GetRun(ctx context.Context, runID string) (*workflow.RunState, error) {
	return s.Runner.Get(ctx, runID)
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error) {
	if s.Runs == nil {
		return []store.RunSummary{}, nil
	}
	return s.Runs.List(ctx, limit)
}

// Health runs every check and returns the failures by name.
func (s *Service) Health(ctx context.Context) map[string]string {
	failed := map[string]string{}
	for name, check := range s.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	return failed
}

// RunLogs returns the log lines of a run, or ErrRunNotFound.
func (s *Service) RunLogs(ctx context.Context, runID string) ([]database.LogEntry, error) {
	if _, err := s.Runner.Get(ctx, runID); err != nil {
		return nil, err
	}
	return s.Logs.RunLogs(ctx, runID)
}

// Wait blocks until background resumes have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) runLogger(runID string) *slog.Logger {
	return slog.New(NewRunLogHandler(s.Logs, runID, s.Logger.Handler())).With("run_id", runID)
}

func (s *Service) claim(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[runID]; busy {
		return false
	}
	s.inflight[runID] = struct{}{}
	return true
}

func (s *Service) release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, runID)
}

func splitStep(step string) []string {
	var path []string
	for _, p := range strings.Split(step, ".") {
		if p = strings.TrimSpace(p); p != "" {
			path = append(path, p)
		}
	}
	return path
}
