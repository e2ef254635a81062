package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

type askPayload struct {
	Question string `json:"question"`
}

type answer struct {
	Value string `json:"value"`
}

type echoed struct {
	Value string `json:"value"`
	Seen  int    `json:"seen"`
}

func askStep(id string) Step {
	return NewStep(id, func(ctx context.Context, c Call[None, echoed, answer, askPayload]) Outcome[echoed, askPayload] {
		if c.Resume == nil {
			return c.Suspend(askPayload{Question: "what?"})
		}
		return c.Complete(echoed{Value: c.Resume.Value})
	})
}

func countStep(id string) Step {
	return NewStep(id, func(ctx context.Context, c Call[echoed, echoed, None, None]) Outcome[echoed, None] {
		out := c.Input
		out.Seen++
		return c.Complete(out)
	})
}

func TestRunner_SuspendAndResume(t *testing.T) {
	wf := New("root").Then(askStep("ask")).Then(countStep("count")).Commit()
	r := NewRunner(wf, nil)
	ctx := context.Background()

	res, err := r.Start(ctx, None{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, res.Status)
	require.NotNil(t, res.Suspended)
	assert.Equal(t, []string{"ask"}, res.Suspended.Path)
	assert.JSONEq(t, `{"question":"what?"}`, string(res.Suspended.Payload))
	require.Len(t, res.State.Steps, 1)
	assert.Equal(t, StatusSuspended, res.State.Steps[0].Status)

	res, err = r.Resume(ctx, res.RunID, []string{"root", "ask"}, answer{Value: "hi"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.JSONEq(t, `{"value":"hi","seen":1}`, string(res.Output))

	// The resumed step reuses its history entry.
	require.Len(t, res.State.Steps, 2)
	assert.Equal(t, StatusSuccess, res.State.Steps[0].Status)
	assert.JSONEq(t, `{"value":"hi"}`, string(res.State.Steps[0].ResumeData))
}

func TestRunner_ResumeFromFreshRunner(t *testing.T) {
	store := NewMemoryStore()
	build := func() *Runner {
		wf := New("root").Then(askStep("ask")).Then(countStep("count")).Commit()
		return NewRunner(wf, store)
	}
	ctx := context.Background()

	res, err := build().Start(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, res.Status)

	// A different runner instance only shares the store.
	res, err = build().Resume(ctx, res.RunID, []string{"ask"}, answer{Value: "later"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.JSONEq(t, `{"value":"later","seen":1}`, string(res.Output))

	stored, err := store.Load(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, stored.Status)
}

func TestRunner_NestedDoWhile(t *testing.T) {
	inner := New("inner").Then(askStep("ask")).Then(countStep("count")).Commit()
	root := New("root").
		DoWhile(inner, While(func(out echoed) bool { return out.Value != "stop" })).
		Then(countStep("finish")).
		Commit()
	r := NewRunner(root, nil)
	ctx := context.Background()

	res, err := r.Start(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"inner", "ask"}, res.Suspended.Path)
	assert.Equal(t, "inner.ask", res.Suspended.Step())

	for _, v := range []string{"again", "again"} {
		res, err = r.Resume(ctx, res.RunID, []string{"inner", "ask"}, answer{Value: v})
		require.NoError(t, err)
		require.Equal(t, StatusSuspended, res.Status)
	}

	res, err = r.Resume(ctx, res.RunID, []string{"root", "inner", "ask"}, answer{Value: "stop"})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	assert.JSONEq(t, `{"value":"stop","seen":2}`, string(res.Output))

	asks := 0
	for _, rec := range res.State.Steps {
		if rec.Path[len(rec.Path)-1] == "ask" {
			asks++
		}
	}
	assert.Equal(t, 3, asks)
}

func TestRunner_UnknownSuspensionLeavesRunUntouched(t *testing.T) {
	wf := New("root").Then(askStep("ask")).Commit()
	store := NewMemoryStore()
	r := NewRunner(wf, store)
	ctx := context.Background()

	res, err := r.Start(ctx, nil)
	require.NoError(t, err)

	_, err = r.Resume(ctx, res.RunID, []string{"other"}, answer{})
	require.ErrorIs(t, err, ErrUnknownSuspension)

	stored, err := store.Load(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, stored.Status)
	assert.Equal(t, []string{"ask"}, stored.Suspended.Path)
}

func TestRunner_ResumeErrors(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(New("root").Then(countStep("count")).Commit(), nil)

	_, err := r.Resume(ctx, "missing", []string{"count"}, nil)
	assert.ErrorIs(t, err, ErrRunNotFound)

	res, err := r.Start(ctx, echoed{})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)

	_, err = r.Resume(ctx, res.RunID, []string{"count"}, nil)
	assert.ErrorIs(t, err, ErrRunFinished)
}

func TestRunner_StepFailure(t *testing.T) {
	boom := NewStep("boom", func(ctx context.Context, c Call[None, None, None, None]) Outcome[None, None] {
		return c.Fail(errors.New("kaput"))
	})
	after := 0
	never := NewStep("after", func(ctx context.Context, c Call[None, None, None, None]) Outcome[None, None] {
		after++
		return c.Complete(None{})
	})
	r := NewRunner(New("root").Then(boom).Then(never).Commit(), nil)

	before := testutil.ToFloat64(metrics.StepExecutions.WithLabelValues("boom", string(StatusFailed)))

	res, err := r.Start(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "step boom: kaput", res.Error)
	assert.Equal(t, "boom", res.State.FailedStep)
	assert.Zero(t, after)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.StepExecutions.WithLabelValues("boom", string(StatusFailed))))
}

func TestRunner_PanicBecomesFailure(t *testing.T) {
	bad := NewStep("bad", func(ctx context.Context, c Call[None, None, None, None]) Outcome[None, None] {
		panic("nil map")
	})
	res, err := NewRunner(New("root").Then(bad).Commit(), nil).Start(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "step panicked: nil map")
}

func TestRunner_UndecodableInputFails(t *testing.T) {
	wf := New("root").Then(countStep("count")).Commit()
	res, err := NewRunner(wf, nil).Start(context.Background(), json.RawMessage(`{"seen":"many"}`))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "decode input")
}

func TestRunState_RoundTripsThroughJSON(t *testing.T) {
	inner := New("inner").Then(askStep("ask")).Commit()
	r := NewRunner(New("root").DoWhile(inner, While(func(echoed) bool { return false })).Commit(), nil)
	res, err := r.Start(context.Background(), nil)
	require.NoError(t, err)

	clone, err := res.State.Clone()
	require.NoError(t, err)
	require.NotNil(t, clone.Frame)
	require.NotNil(t, clone.Frame.Child)
	assert.Equal(t, "inner", clone.Frame.Child.Workflow)
	assert.Equal(t, res.State.Suspended.Path, clone.Suspended.Path)
}

func TestCommitRejectsDuplicateIDs(t *testing.T) {
	assert.Panics(t, func() {
		New("root").Then(countStep("a")).Then(countStep("a")).Commit()
	})
}

func TestWorkflow_DirectExecuteFails(t *testing.T) {
	inner := New("inner").Then(askStep("ask")).Commit()
	res := inner.Execute(context.Background(), StepContext{})
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorContains(t, res.Err, "through the Runner")

	// Nested under a Runner the same workflow suspends normally.
	r := NewRunner(New("root").Then(inner).Commit(), nil)
	started, err := r.Start(context.Background(), None{})
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, started.Status)
	assert.Equal(t, []string{"inner", "ask"}, started.Suspended.Path)
}

func TestRunner_StartWithID(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(New("root").Then(askStep("ask")).Commit(), nil)

	res, err := r.StartWithID(ctx, "run-fixed", None{})
	require.NoError(t, err)
	assert.Equal(t, "run-fixed", res.RunID)

	_, err = r.StartWithID(ctx, "run-fixed", None{})
	assert.ErrorContains(t, err, "already exists")

	_, err = r.StartWithID(ctx, "", None{})
	assert.Error(t, err)
}

func TestRunner_CanResume(t *testing.T) {
	ctx := context.Background()
	r := NewRunner(New("root").Then(askStep("ask")).Commit(), nil)

	res, err := r.Start(ctx, None{})
	require.NoError(t, err)

	assert.NoError(t, r.CanResume(ctx, res.RunID, []string{"ask"}))
	assert.NoError(t, r.CanResume(ctx, res.RunID, []string{"root", "ask"}))
	assert.ErrorIs(t, r.CanResume(ctx, res.RunID, []string{"other"}), ErrUnknownSuspension)
	assert.ErrorIs(t, r.CanResume(ctx, "missing", []string{"ask"}), ErrRunNotFound)

	stored, err := r.Get(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, stored.Status, "checking does not change the run")
}

func TestRunner_ClockAndIDGenerator(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	wf := New("root").Then(askStep("ask")).Commit()
	r := NewRunner(wf, nil,
		WithClock(func() time.Time { return at }),
		WithIDGenerator(func() string { return "fixed-id" }))

	res, err := r.Start(context.Background(), None{})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", res.RunID)
	assert.True(t, res.State.CreatedAt.Equal(at))
	assert.True(t, res.State.UpdatedAt.Equal(at))
	require.Len(t, res.State.Steps, 1)
	assert.True(t, res.State.Steps[0].StartedAt.Equal(at))
}
