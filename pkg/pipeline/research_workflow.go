package pipeline

import (
	"context"

	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/workflow"
)

const (
	ResearchWorkflowID = "research-workflow"

	StepGetUserQuery = "get-user-query"
	StepResearch     = "research"
	StepApproval     = "approval"

	QueryPromptText   = "What would you like to research?"
	DepthPromptText   = "Please provide the depth of the research [1-5]: "
	BreadthPromptText = "Please provide the breadth of the research [1-5]: "
	ApprovalQuestion  = "Is this research sufficient? [y/n]"
)

// Researcher runs one research pass. *research.Engine implements it.
type Researcher interface {
	Run(ctx context.Context, p research.Parameters) *research.Record
}

// QueryPrompt is what get-user-query suspends with.
type QueryPrompt struct {
	Message QueryMessages `json:"message"`
}

type QueryMessages struct {
	Query   string `json:"query"`
	Depth   string `json:"depth"`
	Breadth string `json:"breadth"`
}

// QueryAnswer is the resume input of get-user-query.
type QueryAnswer struct {
	Query   string  `json:"query"`
	Depth   FlexInt `json:"depth"`
	Breadth FlexInt `json:"breadth"`
}

// ResearchOutput is the output of the research step.
type ResearchOutput struct {
	ResearchData *research.Record `json:"researchData"`
	Summary      string           `json:"summary"`
}

// ApprovalPrompt is what the approval step suspends with.
type ApprovalPrompt struct {
	Summary string `json:"summary"`
	Message string `json:"message"`
}

// ApprovalAnswer is the resume input of the approval step.
type ApprovalAnswer struct {
	Approved FlexBool `json:"approved"`
}

// ApprovalOutput is the output of the approval step and of the research
// workflow as a whole.
type ApprovalOutput struct {
	Approved     bool             `json:"approved"`
	ResearchData *research.Record `json:"researchData"`
}

func getUserQueryStep() workflow.Step {
	return workflow.NewStep(StepGetUserQuery,
		func(ctx context.Context, c workflow.Call[workflow.None, research.Parameters, QueryAnswer, QueryPrompt]) workflow.Outcome[research.Parameters, QueryPrompt] {
			if c.Resume == nil {
				return c.Suspend(QueryPrompt{Message: QueryMessages{
					Query:   QueryPromptText,
					Depth:   DepthPromptText,
					Breadth: BreadthPromptText,
				}})
			}
			p := research.Parameters{
				Query:   c.Resume.Query,
				Depth:   int(c.Resume.Depth),
				Breadth: int(c.Resume.Breadth),
			}.Normalize()
			c.Logger.Info("Received research parameters", "query", p.Query, "depth", p.Depth, "breadth", p.Breadth)
			return c.Complete(p)
		})
}

func researchStep(r Researcher) workflow.Step {
	return workflow.NewStep(StepResearch,
		func(ctx context.Context, c workflow.Call[research.Parameters, ResearchOutput, workflow.None, workflow.None]) workflow.Outcome[ResearchOutput, workflow.None] {
			record := r.Run(ctx, c.Input)
			if record == nil {
				record = research.NewRecord(c.Input.Query)
				record.Error = "research produced no data"
			}
			if record.Error != "" {
				c.Logger.Warn("Research finished with an error", "error", record.Error)
			}
			return c.Complete(ResearchOutput{ResearchData: record, Summary: research.Summarize(record)})
		})
}

func approvalStep() workflow.Step {
	return workflow.NewStep(StepApproval,
		func(ctx context.Context, c workflow.Call[ResearchOutput, ApprovalOutput, ApprovalAnswer, ApprovalPrompt]) workflow.Outcome[ApprovalOutput, ApprovalPrompt] {
			if c.Resume == nil {
				return c.Suspend(ApprovalPrompt{Summary: c.Input.Summary, Message: ApprovalQuestion})
			}
			c.Logger.Info("Received approval decision", "approved", bool(c.Resume.Approved))
			return c.Complete(ApprovalOutput{
				Approved:     bool(c.Resume.Approved),
				ResearchData: c.Input.ResearchData,
			})
		})
}

// NewResearchWorkflow builds get-user-query, research, approval.
func NewResearchWorkflow(r Researcher) *workflow.Workflow {
	return workflow.New(ResearchWorkflowID).
		Then(getUserQueryStep()).
		Then(researchStep(r)).
		Then(approvalStep()).
		Commit()
}
