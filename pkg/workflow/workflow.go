package workflow

import (
	"context"
	"encoding/json"
	"fmt"
)

// Condition decides, from a step's output, whether a do-while node runs again.
type Condition func(output json.RawMessage) (bool, error)

// While adapts a typed predicate into a Condition.
func While[T any](pred func(T) bool) Condition {
	return func(output json.RawMessage) (bool, error) {
		var v T
		if !isEmptyJSON(output) {
			if err := json.Unmarshal(output, &v); err != nil {
				return false, fmt.Errorf("decode loop output: %w", err)
			}
		}
		return pred(v), nil
	}
}

type node struct {
	step Step
	loop Condition
}

// Workflow is an ordered sequence of steps. A Workflow is itself a Step, so
// workflows nest.
type Workflow struct {
	id        string
	nodes     []node
	committed bool
}

// New starts a workflow definition.
func New(id string) *Workflow {
	return &Workflow{id: id}
}

// Then appends a step that runs once.
func (w *Workflow) Then(s Step) *Workflow {
	w.mustBeOpen()
	w.nodes = append(w.nodes, node{step: s})
	return w
}

// DoWhile appends a step that is re-executed, with the same input, for as
// long as cond reports true for its latest output.
func (w *Workflow) DoWhile(s Step, cond Condition) *Workflow {
	w.mustBeOpen()
	w.nodes = append(w.nodes, node{step: s, loop: cond})
	return w
}

// Commit freezes the definition.
func (w *Workflow) Commit() *Workflow {
	seen := make(map[string]bool, len(w.nodes))
	for _, n := range w.nodes {
		if seen[n.step.ID()] {
			panic(fmt.Sprintf("workflow %s: duplicate step id %q", w.id, n.step.ID()))
		}
		seen[n.step.ID()] = true
	}
	w.committed = true
	return w
}

func (w *Workflow) mustBeOpen() {
	if w.committed {
		panic(fmt.Sprintf("workflow %s: already committed", w.id))
	}
}

// ID returns the workflow id.
func (w *Workflow) ID() string { return w.id }

// Execute satisfies Step so a workflow can be nested with Then or DoWhile.
// Nested workflows keep their own frame in the run state, so they only run
// through a Runner; a direct call fails.
func (w *Workflow) Execute(_ context.Context, _ StepContext) StepResult {
	return StepResult{
		Status: StatusFailed,
		Err:    fmt.Errorf("workflow %s: nested workflows run through the Runner", w.id),
	}
}
