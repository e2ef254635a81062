package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrRunNotFound       = errors.New("workflow run not found")
	ErrNotSuspended      = errors.New("workflow run is not suspended")
	ErrRunFinished       = errors.New("workflow run already finished")
	ErrUnknownSuspension = errors.New("unrecognized suspension point")
)

// Frame is the resumable position inside one workflow: which node is
// current, how many times a do-while node has looped, the input fed to the
// current node, and the frame of a nested workflow that is mid-flight.
type Frame struct {
	Workflow  string          `json:"workflow"`
	Cursor    int             `json:"cursor"`
	Iteration int             `json:"iteration"`
	Input     json.RawMessage `json:"input,omitempty"`
	Child     *Frame          `json:"child,omitempty"`
}

// Suspension identifies the suspended step and what it asked for.
type Suspension struct {
	Path    []string        `json:"path"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Step returns the dotted path, e.g. "research-workflow.approval".
func (s Suspension) Step() string {
	return strings.Join(s.Path, ".")
}

// StepRecord is one entry of the run history.
type StepRecord struct {
	Path       []string        `json:"path"`
	Iteration  int             `json:"iteration"`
	Status     Status          `json:"status"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Suspend    json.RawMessage `json:"suspendPayload,omitempty"`
	ResumeData json.RawMessage `json:"resumeData,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	EndedAt    time.Time       `json:"endedAt,omitempty"`
}

// RunState is the durable record of a workflow run. Everything resume needs
// lives here.
type RunState struct {
	RunID      string          `json:"runId"`
	WorkflowID string          `json:"workflowId"`
	Status     Status          `json:"status"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	FailedStep string          `json:"failedStep,omitempty"`
	Frame      *Frame          `json:"frame,omitempty"`
	Suspended  *Suspension     `json:"suspended,omitempty"`
	Steps      []StepRecord    `json:"steps"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy through the JSON encoding.
func (s *RunState) Clone() (*RunState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out RunState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Store persists run states keyed by run id.
type Store interface {
	Save(ctx context.Context, state *RunState) error
	Load(ctx context.Context, runID string) (*RunState, error)
}

// MemoryStore keeps serialized run states in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]byte)}
}

func (m *MemoryStore) Save(_ context.Context, state *RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode run state: %w", err)
	}
	m.mu.Lock()
	m.runs[state.RunID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, runID string) (*RunState, error) {
	m.mu.RLock()
	data, ok := m.runs[runID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode run state: %w", err)
	}
	return &state, nil
}
