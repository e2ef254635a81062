package server

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mikeboe/deep-research/pkg/database"
)

// LogStore persists the log lines of a run.
type LogStore interface {
	InsertLog(ctx context.Context, e database.LogEntry) error
	RunLogs(ctx context.Context, runID string) ([]database.LogEntry, error)
}

// RunLogHandler is a slog.Handler that records every line for one run and
// forwards it to next, if set.
type RunLogHandler struct {
	store  LogStore
	runID  string
	next   slog.Handler
	attrs  []slog.Attr
	prefix string
}

func NewRunLogHandler(store LogStore, runID string, next slog.Handler) *RunLogHandler {
	return &RunLogHandler{store: store, runID: runID, next: next}
}

func (h *RunLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *RunLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.next != nil && h.next.Enabled(ctx, r.Level) {
		_ = h.next.Handle(ctx, r.Clone())
	}

	meta := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		meta[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		meta[h.prefix+a.Key] = a.Value.Resolve().Any()
		return true
	})
	for k, v := range meta {
		if err, ok := v.(error); ok {
			meta[k] = err.Error()
		}
	}

	// The request that triggered the run may already be gone.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return h.store.InsertLog(insertCtx, database.LogEntry{
		RunID:     h.runID,
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  meta,
	})
}

func (h *RunLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	if h.next != nil {
		c.next = h.next.WithAttrs(attrs)
	}
	return &c
}

func (h *RunLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	if h.next != nil {
		c.next = h.next.WithGroup(name)
	}
	return &c
}

// MemoryLogStore keeps run logs in process, for backends without a
// workflow_logs table.
type MemoryLogStore struct {
	mu     sync.Mutex
	nextID int
	logs   map[string][]database.LogEntry
}

func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{logs: map[string][]database.LogEntry{}}
}

func (m *MemoryLogStore) InsertLog(_ context.Context, e database.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	m.logs[e.RunID] = append(m.logs[e.RunID], e)
	return nil
}

func (m *MemoryLogStore) RunLogs(_ context.Context, runID string) ([]database.LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]database.LogEntry{}, m.logs[runID]...), nil
}
