package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

type loggerKey struct{}

// ContextWithLogger attaches a run-scoped logger that the Runner hands to
// every step it executes.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func loggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// Result is what Start and Resume return to the caller.
type Result struct {
	RunID     string          `json:"runId"`
	Status    Status          `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Suspended *Suspension     `json:"suspended,omitempty"`
	Error     string          `json:"error,omitempty"`
	State     *RunState       `json:"state,omitempty"`
}

// Runner drives a root workflow against a Store. Start and Resume are
// independent calls: all they share is the stored RunState.
type Runner struct {
	wf     *Workflow
	store  Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Runner) { r.newID = gen }
}

// NewRunner creates a Runner for wf. A nil store means an in-memory store.
func NewRunner(wf *Workflow, store Store, opts ...Option) *Runner {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Runner{
		wf:     wf,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start creates a run and executes from the first step until the run
// suspends, succeeds or fails.
func (r *Runner) Start(ctx context.Context, input any) (*Result, error) {
	return r.StartWithID(ctx, r.newID(), input)
}

// StartWithID is Start with a caller-chosen run id, for callers that need the
// id before the first step runs. Reusing an existing id is an error.
func (r *Runner) StartWithID(ctx context.Context, runID string, input any) (*Result, error) {
	if runID == "" {
		return nil, errors.New("run id must not be empty")
	}
	if _, err := r.store.Load(ctx, runID); err == nil {
		return nil, fmt.Errorf("run %s already exists", runID)
	} else if !errors.Is(err, ErrRunNotFound) {
		return nil, fmt.Errorf("check run %s: %w", runID, err)
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode workflow input: %w", err)
	}
	now := r.now()
	st := &RunState{
		RunID:      runID,
		WorkflowID: r.wf.id,
		Status:     StatusRunning,
		Input:      raw,
		Frame:      &Frame{Workflow: r.wf.id, Input: raw},
		Steps:      []StepRecord{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("save new run: %w", err)
	}
	metrics.RunsStarted.WithLabelValues(r.wf.id).Inc()
	loggerFromContext(ctx, r.logger).Info("Starting workflow run", "workflow", r.wf.id, "run_id", st.RunID)
	return r.drive(ctx, st, nil)
}

// Resume re-invokes the suspended step of runID with data as its resume
// input and continues the sequence from there. path may include the root
// workflow id.
func (r *Runner) Resume(ctx context.Context, runID string, path []string, data any) (*Result, error) {
	st, err := r.loadSuspended(ctx, runID, path)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode resume data: %w", err)
	}

	want := st.Suspended.Path
	loggerFromContext(ctx, r.logger).Info("Resuming workflow run", "run_id", runID, "step", st.Suspended.Step())
	st.Status = StatusRunning
	st.Suspended = nil
	return r.drive(ctx, st, &resumeTarget{path: slices.Clone(want), data: raw})
}

// CanResume reports the error Resume would return before executing any step.
func (r *Runner) CanResume(ctx context.Context, runID string, path []string) error {
	_, err := r.loadSuspended(ctx, runID, path)
	return err
}

func (r *Runner) loadSuspended(ctx context.Context, runID string, path []string) (*RunState, error) {
	st, err := r.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st.Status.Terminal() {
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunFinished, runID, st.Status)
	}
	if st.Status != StatusSuspended || st.Suspended == nil {
		return nil, fmt.Errorf("%w: run %s is %s", ErrNotSuspended, runID, st.Status)
	}

	got := path
	if len(got) > 0 && got[0] == r.wf.id {
		got = got[1:]
	}
	if !slices.Equal(got, st.Suspended.Path) {
		return nil, fmt.Errorf("%w: %q, run %s is suspended at %q",
			ErrUnknownSuspension, strings.Join(path, "."), runID, st.Suspended.Step())
	}
	return st, nil
}

// Get loads the stored state of a run.
func (r *Runner) Get(ctx context.Context, runID string) (*RunState, error) {
	return r.store.Load(ctx, runID)
}

func (r *Runner) drive(ctx context.Context, st *RunState, rt *resumeTarget) (*Result, error) {
	x := &execution{
		state:  st,
		store:  r.store,
		logger: loggerFromContext(ctx, r.logger),
		now:    r.now,
	}

	res := x.runWorkflow(ctx, r.wf, st.Frame, nil, rt)
	switch res.Status {
	case StatusSuspended:
		st.Status = StatusSuspended
		metrics.Suspensions.WithLabelValues(st.Suspended.Step()).Inc()
		x.logger.Info("Workflow run suspended", "run_id", st.RunID, "step", st.Suspended.Step())
	case StatusSuccess:
		st.Status = StatusSuccess
		st.Output = res.Output
		x.logger.Info("Workflow run completed", "run_id", st.RunID)
	default:
		st.Status = StatusFailed
		st.Error = failureMessage(st.FailedStep, res.Err)
		x.logger.Error("Workflow run failed", "run_id", st.RunID, "step", st.FailedStep, "error", res.Err)
	}
	if st.Status.Terminal() {
		metrics.RunsFinished.WithLabelValues(st.WorkflowID, string(st.Status)).Inc()
	}

	if err := x.save(ctx); err != nil {
		return nil, err
	}
	if x.saveErr != nil {
		return nil, x.saveErr
	}

	return &Result{
		RunID:     st.RunID,
		Status:    st.Status,
		Output:    st.Output,
		Suspended: st.Suspended,
		Error:     st.Error,
		State:     st,
	}, nil
}

func failureMessage(step string, err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if step == "" {
		return msg
	}
	return fmt.Sprintf("step %s: %s", step, msg)
}

type resumeTarget struct {
	path []string
	data json.RawMessage
}

func (rt *resumeTarget) enter(id string) (*resumeTarget, bool) {
	if len(rt.path) == 0 || rt.path[0] != id {
		return nil, false
	}
	return &resumeTarget{path: rt.path[1:], data: rt.data}, true
}

type execution struct {
	state   *RunState
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	saveErr error
}

func (x *execution) runWorkflow(ctx context.Context, wf *Workflow, fr *Frame, prefix []string, rt *resumeTarget) StepResult {
	for fr.Cursor < len(wf.nodes) {
		n := wf.nodes[fr.Cursor]
		path := append(slices.Clone(prefix), n.step.ID())

		var res StepResult
		if rt != nil {
			next, ok := rt.enter(n.step.ID())
			if !ok {
				return x.fail(path, fmt.Errorf("%w: %s", ErrUnknownSuspension, strings.Join(rt.path, ".")))
			}
			res = x.runNode(ctx, n, fr, path, next)
			rt = nil
		} else {
			res = x.runNode(ctx, n, fr, path, nil)
		}
		if res.Status != StatusSuccess {
			return res
		}

		if n.loop != nil {
			again, err := n.loop(res.Output)
			if err != nil {
				return x.fail(path, err)
			}
			if again {
				fr.Iteration++
				fr.Child = nil
				x.logger.Info("Repeating step", "run_id", x.state.RunID, "step", strings.Join(path, "."), "iteration", fr.Iteration)
				continue
			}
		}

		fr.Input = res.Output
		fr.Cursor++
		fr.Iteration = 0
		fr.Child = nil
	}
	return StepResult{Status: StatusSuccess, Output: fr.Input}
}

func (x *execution) runNode(ctx context.Context, n node, fr *Frame, path []string, rt *resumeTarget) StepResult {
	if sub, ok := n.step.(*Workflow); ok {
		if rt != nil {
			if len(rt.path) == 0 || fr.Child == nil {
				return x.fail(path, fmt.Errorf("%w: %s", ErrUnknownSuspension, strings.Join(path, ".")))
			}
		} else {
			fr.Child = &Frame{Workflow: sub.id, Input: fr.Input}
		}
		return x.runWorkflow(ctx, sub, fr.Child, path, rt)
	}

	var resume json.RawMessage
	if rt != nil {
		if len(rt.path) != 0 {
			return x.fail(path, fmt.Errorf("%w: %s", ErrUnknownSuspension, strings.Join(slices.Concat(path, rt.path), ".")))
		}
		resume = rt.data
		if resume == nil {
			resume = json.RawMessage("null")
		}
	}
	return x.runLeaf(ctx, n.step, fr, path, resume)
}

func (x *execution) runLeaf(ctx context.Context, s Step, fr *Frame, path []string, resume json.RawMessage) StepResult {
	idx := x.beginStep(path, fr.Iteration, fr.Input, resume)
	sc := StepContext{
		RunID:      x.state.RunID,
		Path:       path,
		Iteration:  fr.Iteration,
		Input:      fr.Input,
		ResumeData: resume,
		Logger:     x.logger.With("run_id", x.state.RunID, "step", strings.Join(path, ".")),
	}
	res := safeExecute(ctx, s, sc)
	x.finishStep(ctx, idx, s.ID(), res)
	return res
}

func safeExecute(ctx context.Context, s Step, sc StepContext) (res StepResult) {
	defer func() {
		if r := recover(); r != nil {
			res = StepResult{Status: StatusFailed, Err: fmt.Errorf("step panicked: %v", r)}
		}
	}()
	return s.Execute(ctx, sc)
}

func (x *execution) fail(path []string, err error) StepResult {
	x.state.FailedStep = strings.Join(path, ".")
	return StepResult{Status: StatusFailed, Err: err}
}

// beginStep reuses the suspended record of a resumed step so the history
// holds one entry per execution.
func (x *execution) beginStep(path []string, iteration int, input, resume json.RawMessage) int {
	if resume != nil {
		for i := len(x.state.Steps) - 1; i >= 0; i-- {
			rec := &x.state.Steps[i]
			if rec.Status == StatusSuspended && rec.Iteration == iteration && slices.Equal(rec.Path, path) {
				rec.Status = StatusRunning
				rec.ResumeData = resume
				return i
			}
		}
	}
	x.state.Steps = append(x.state.Steps, StepRecord{
		Path:       slices.Clone(path),
		Iteration:  iteration,
		Status:     StatusRunning,
		Input:      input,
		ResumeData: resume,
		StartedAt:  x.now(),
	})
	return len(x.state.Steps) - 1
}

func (x *execution) finishStep(ctx context.Context, idx int, stepID string, res StepResult) {
	rec := &x.state.Steps[idx]
	rec.Status = res.Status
	rec.EndedAt = x.now()
	switch res.Status {
	case StatusSuccess:
		rec.Output = res.Output
	case StatusSuspended:
		rec.Suspend = res.Payload
		x.state.Suspended = &Suspension{Path: slices.Clone(rec.Path), Payload: res.Payload}
	case StatusFailed:
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		x.state.FailedStep = strings.Join(rec.Path, ".")
	}
	metrics.StepExecutions.WithLabelValues(stepID, string(res.Status)).Inc()

	if err := x.save(ctx); err != nil && x.saveErr == nil {
		x.saveErr = err
		x.logger.Error("Failed to persist run state", "run_id", x.state.RunID, "error", err)
	}
}

func (x *execution) save(ctx context.Context) error {
	x.state.UpdatedAt = x.now()
	if x.store == nil {
		return nil
	}
	if err := x.store.Save(ctx, x.state); err != nil {
		return fmt.Errorf("save run state: %w", err)
	}
	return nil
}
