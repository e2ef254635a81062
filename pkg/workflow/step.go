package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Status is the lifecycle state of a step or a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further execution can happen.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// StepResult is the serialized outcome of one step execution. Exactly one of
// Output, Payload or Err is meaningful, selected by Status.
type StepResult struct {
	Status  Status
	Output  json.RawMessage
	Payload json.RawMessage
	Err     error
}

// StepContext is what the machine hands to a step. ResumeData is nil on the
// first entry and set when the step is re-invoked after a suspension.
type StepContext struct {
	RunID      string
	Path       []string
	Iteration  int
	Input      json.RawMessage
	ResumeData json.RawMessage
	Logger     *slog.Logger
}

// Step is a named unit of work.
type Step interface {
	ID() string
	Execute(ctx context.Context, sc StepContext) StepResult
}

// None marks an absent contract (no input, no resume data, no suspend payload).
type None struct{}

// Call is the typed view of a StepContext. Resume is non-nil only when the
// step is being resumed.
type Call[In, Out, R, S any] struct {
	RunID     string
	Iteration int
	Input     In
	Resume    *R
	Logger    *slog.Logger
}

// Complete finishes the step with out.
func (c Call[In, Out, R, S]) Complete(out Out) Outcome[Out, S] {
	return Outcome[Out, S]{status: StatusSuccess, output: out}
}

// Suspend pauses the step and hands payload to the caller.
func (c Call[In, Out, R, S]) Suspend(payload S) Outcome[Out, S] {
	return Outcome[Out, S]{status: StatusSuspended, payload: payload}
}

// Fail ends the step, and the run, with err.
func (c Call[In, Out, R, S]) Fail(err error) Outcome[Out, S] {
	if err == nil {
		err = errors.New("step failed")
	}
	return Outcome[Out, S]{status: StatusFailed, err: err}
}

// Outcome is the typed tagged result of a step: completed with an output,
// suspended with a payload, or failed with an error.
type Outcome[Out, S any] struct {
	status  Status
	output  Out
	payload S
	err     error
}

// StepFunc is the body of a typed step.
type StepFunc[In, Out, R, S any] func(ctx context.Context, c Call[In, Out, R, S]) Outcome[Out, S]

type typedStep[In, Out, R, S any] struct {
	id string
	fn StepFunc[In, Out, R, S]
}

// NewStep declares a step with separate input, output, resume and suspend
// contracts. Values cross the step boundary as JSON so the run state stays
// serializable.
func NewStep[In, Out, R, S any](id string, fn StepFunc[In, Out, R, S]) Step {
	return &typedStep[In, Out, R, S]{id: id, fn: fn}
}

func (s *typedStep[In, Out, R, S]) ID() string { return s.id }

func (s *typedStep[In, Out, R, S]) Execute(ctx context.Context, sc StepContext) StepResult {
	call := Call[In, Out, R, S]{
		RunID:     sc.RunID,
		Iteration: sc.Iteration,
		Logger:    sc.Logger,
	}
	if call.Logger == nil {
		call.Logger = slog.Default()
	}
	if !isEmptyJSON(sc.Input) {
		if err := json.Unmarshal(sc.Input, &call.Input); err != nil {
			return StepResult{Status: StatusFailed, Err: fmt.Errorf("decode input: %w", err)}
		}
	}
	if sc.ResumeData != nil {
		var r R
		if !isEmptyJSON(sc.ResumeData) {
			if err := json.Unmarshal(sc.ResumeData, &r); err != nil {
				return StepResult{Status: StatusFailed, Err: fmt.Errorf("decode resume data: %w", err)}
			}
		}
		call.Resume = &r
	}

	out := s.fn(ctx, call)

	switch out.status {
	case StatusSuccess:
		raw, err := json.Marshal(out.output)
		if err != nil {
			return StepResult{Status: StatusFailed, Err: fmt.Errorf("encode output: %w", err)}
		}
		return StepResult{Status: StatusSuccess, Output: raw}
	case StatusSuspended:
		raw, err := json.Marshal(out.payload)
		if err != nil {
			return StepResult{Status: StatusFailed, Err: fmt.Errorf("encode suspend payload: %w", err)}
		}
		return StepResult{Status: StatusSuspended, Payload: raw}
	case StatusFailed:
		return StepResult{Status: StatusFailed, Err: out.err}
	default:
		return StepResult{Status: StatusFailed, Err: errors.New("step returned no outcome")}
	}
}

func isEmptyJSON(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
