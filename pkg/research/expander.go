package research

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

const recallLimit = 5

// Expander turns a topic into the first frontier of search queries.
type Expander struct {
	synth  Synthesizer
	recall Recaller
	logger *slog.Logger
}

// NewExpander creates an Expander. recall may be nil.
func NewExpander(synth Synthesizer, recall Recaller, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{synth: synth, recall: recall, logger: logger}
}

// Expand returns at most breadth distinct queries for topic that record has
// not completed yet. Learnings already in record, plus anything recalled from
// earlier research, are passed to the synthesizer as context. An error means
// the synthesizer could not produce queries at all.
func (x *Expander) Expand(ctx context.Context, topic string, record *Record, breadth int) ([]string, error) {
	known := make([]string, 0, len(record.Learnings))
	for _, l := range record.Learnings {
		known = append(known, l.Learning)
	}
	if x.recall != nil {
		prior, err := x.recall.Recall(ctx, topic, recallLimit)
		if err != nil {
			x.logger.Warn("Recall failed, continuing without prior learnings", "topic", topic, "error", err)
		} else {
			known = append(known, prior...)
		}
	}

	queries, err := x.synth.GenerateQueries(ctx, topic, known, breadth)
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues("expander").Inc()
		x.logger.Error("Query generation failed", "topic", topic, "error", err)
		return nil, fmt.Errorf("generate queries: %w", err)
	}

	out := make([]string, 0, min(breadth, len(queries)))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || record.IsCompleted(q) || slices.Contains(out, q) {
			continue
		}
		if len(out) == breadth {
			break
		}
		out = append(out, q)
	}
	x.logger.Info("Generated queries", "topic", topic, "queries", out)
	return out, nil
}
