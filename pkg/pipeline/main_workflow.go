package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/report"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/workflow"
)

const (
	MainWorkflowID = "main-workflow"

	StepProcessResearchResult = "process-research-result"

	DefaultReportPath = "report.md"
)

// Archiver stores approved research for later recall.
type Archiver interface {
	Archive(ctx context.Context, record *research.Record, reportText string) error
}

// ReportOutput is the final output of the main workflow.
type ReportOutput struct {
	Completed  bool   `json:"completed"`
	ReportPath string `json:"reportPath,omitempty"`
}

// Deps are the collaborators of the main workflow.
type Deps struct {
	Researcher Researcher
	Writer     report.Writer
	// Archiver is optional.
	Archiver   Archiver
	ReportPath string
}

// NewMainWorkflow repeats the research workflow until the research is
// approved, then writes the report.
func NewMainWorkflow(deps Deps) *workflow.Workflow {
	if deps.ReportPath == "" {
		deps.ReportPath = DefaultReportPath
	}
	return workflow.New(MainWorkflowID).
		DoWhile(NewResearchWorkflow(deps.Researcher), workflow.While(func(out ApprovalOutput) bool {
			return !out.Approved
		})).
		Then(processResearchResultStep(deps)).
		Commit()
}

func processResearchResultStep(deps Deps) workflow.Step {
	return workflow.NewStep(StepProcessResearchResult,
		func(ctx context.Context, c workflow.Call[ApprovalOutput, ReportOutput, workflow.None, workflow.None]) workflow.Outcome[ReportOutput, workflow.None] {
			if !c.Input.Approved || c.Input.ResearchData == nil {
				c.Logger.Info("Research not approved or incomplete, ending workflow")
				return c.Complete(ReportOutput{Completed: false})
			}

			path, err := WriteReport(ctx, deps, c.Input.ResearchData, c.Logger)
			if err != nil {
				metrics.CollaboratorFailures.WithLabelValues("report").Inc()
				c.Logger.Error("Error generating report", "error", err)
				return c.Complete(ReportOutput{Completed: false})
			}
			return c.Complete(ReportOutput{Completed: true, ReportPath: path})
		})
}

// WriteReport writes the report for record to deps.ReportPath and archives
// it when an Archiver is set. Archive failures are logged, not returned.
func WriteReport(ctx context.Context, deps Deps, record *research.Record, logger *slog.Logger) (string, error) {
	if deps.ReportPath == "" {
		deps.ReportPath = DefaultReportPath
	}
	logger.Info("Generating report", "topic", record.Query)
	text, err := deps.Writer.Write(ctx, record)
	if err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}

	if dir := filepath.Dir(deps.ReportPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(deps.ReportPath, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	logger.Info("Report generated successfully", "path", deps.ReportPath, "length", len(text))

	if deps.Archiver != nil {
		if err := deps.Archiver.Archive(ctx, record, text); err != nil {
			metrics.CollaboratorFailures.WithLabelValues("archive").Inc()
			logger.Warn("Failed to archive research", "error", err)
		}
	}
	return deps.ReportPath, nil
}
