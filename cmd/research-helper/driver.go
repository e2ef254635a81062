package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mikeboe/deep-research/pkg/pipeline"
	"github.com/mikeboe/deep-research/pkg/workflow"
)

// Prompter answers the suspensions of the main workflow.
type Prompter interface {
	AskQuery(p pipeline.QueryPrompt) (map[string]string, error)
	AskApproval(p pipeline.ApprovalPrompt) (pipeline.ApprovalAnswer, error)
	WithSpinner(message string, fn func() error) error
}

// Resumer is the part of the runner the driver needs.
type Resumer interface {
	Resume(ctx context.Context, runID string, path []string, data any) (*workflow.Result, error)
}

// drive answers suspensions until the run reaches a terminal status.
func drive(ctx context.Context, runner Resumer, res *workflow.Result, p Prompter) (*workflow.Result, error) {
	for res.Status == workflow.StatusSuspended {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var (
			data    any
			message string
		)
		switch pipeline.Classify(res.Suspended) {
		case pipeline.SuspendedForQuery:
			answer, err := p.AskQuery(pipeline.DecodeQueryPrompt(res.Suspended.Payload))
			if err != nil {
				return res, err
			}
			data, message = answer, fmt.Sprintf("Researching %q...", answer["query"])
		case pipeline.SuspendedForApproval:
			answer, err := p.AskApproval(pipeline.DecodeApprovalPrompt(res.Suspended.Payload))
			if err != nil {
				return res, err
			}
			data, message = answer, "Continuing..."
			if answer.Approved {
				message = "Writing report..."
			}
		default:
			return res, fmt.Errorf("run %s is waiting at %q, which this client cannot answer; use `resume`",
				res.RunID, res.Suspended.Step())
		}

		path := res.Suspended.Path
		runID := res.RunID
		err := p.WithSpinner(message, func() error {
			next, err := runner.Resume(ctx, runID, path, data)
			if err != nil {
				return err
			}
			res = next
			return nil
		})
		if err != nil {
			return res, fmt.Errorf("resume %s: %w", runID, err)
		}
	}
	return res, nil
}

// reportOutput decodes the output of a successful main workflow run.
func reportOutput(res *workflow.Result) (pipeline.ReportOutput, error) {
	var out pipeline.ReportOutput
	if len(res.Output) == 0 {
		return out, fmt.Errorf("run %s has no output", res.RunID)
	}
	if err := json.Unmarshal(res.Output, &out); err != nil {
		return out, fmt.Errorf("decode output of run %s: %w", res.RunID, err)
	}
	return out, nil
}
