package research

import (
	"context"
	"log/slog"
	"slices"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

const (
	evaluationExcerptRunes = 500

	reasonAlreadyProcessed = "URL already processed"
	reasonEvaluationError  = "Error in evaluation"
)

// Evaluator decides whether a search result is worth extracting from.
type Evaluator struct {
	synth  Synthesizer
	logger *slog.Logger
}

func NewEvaluator(synth Synthesizer, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{synth: synth, logger: logger}
}

// Evaluate never fails: a result whose URL is in existingURLs is rejected
// without asking the synthesizer, and a synthesizer error counts as
// irrelevant.
func (v *Evaluator) Evaluate(ctx context.Context, query string, result SearchResult, existingURLs []string) EvaluationOutcome {
	if slices.Contains(existingURLs, result.URL) {
		return EvaluationOutcome{IsRelevant: false, Reason: reasonAlreadyProcessed}
	}

	outcome, err := v.synth.JudgeRelevance(ctx, query, result, excerpt(result.Content, evaluationExcerptRunes))
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues("evaluator").Inc()
		v.logger.Warn("Error evaluating result", "query", query, "url", result.URL, "error", err)
		return EvaluationOutcome{IsRelevant: false, Reason: reasonEvaluationError}
	}
	return outcome
}

// excerpt truncates on rune boundaries to keep the text valid UTF-8.
func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
