package pipeline

import (
	"encoding/json"

	"github.com/mikeboe/deep-research/pkg/workflow"
)

// Paths of the two suspension points, relative to the main workflow.
var (
	QueryPath    = []string{ResearchWorkflowID, StepGetUserQuery}
	ApprovalPath = []string{ResearchWorkflowID, StepApproval}
)

// SuspensionKind classifies where a run is waiting.
type SuspensionKind int

const (
	SuspendedUnknown SuspensionKind = iota
	SuspendedForQuery
	SuspendedForApproval
)

// Classify tells drivers which answer a suspension needs. Only the last path
// element is compared so a bare research workflow classifies the same way.
func Classify(s *workflow.Suspension) SuspensionKind {
	if s == nil || len(s.Path) == 0 {
		return SuspendedUnknown
	}
	switch s.Path[len(s.Path)-1] {
	case StepGetUserQuery:
		return SuspendedForQuery
	case StepApproval:
		return SuspendedForApproval
	}
	return SuspendedUnknown
}

// DecodeQueryPrompt reads a get-user-query payload, falling back to the
// standard prompt texts for anything missing.
func DecodeQueryPrompt(payload json.RawMessage) QueryPrompt {
	var p QueryPrompt
	_ = json.Unmarshal(payload, &p)
	if p.Message.Query == "" {
		p.Message.Query = QueryPromptText
	}
	if p.Message.Depth == "" {
		p.Message.Depth = DepthPromptText
	}
	if p.Message.Breadth == "" {
		p.Message.Breadth = BreadthPromptText
	}
	return p
}

// DecodeApprovalPrompt reads an approval payload with the same fallback.
func DecodeApprovalPrompt(payload json.RawMessage) ApprovalPrompt {
	var p ApprovalPrompt
	_ = json.Unmarshal(payload, &p)
	if p.Message == "" {
		p.Message = ApprovalQuestion
	}
	return p
}
