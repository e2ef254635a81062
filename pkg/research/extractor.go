package research

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

const (
	extractionExcerptRunes = 1500
	maxFollowUps           = 3

	// ExtractionFailed is the learning recorded when extraction fails.
	ExtractionFailed = "Error extracting information"
)

// Extractor pulls one learning and its follow-up questions out of a result.
type Extractor struct {
	synth  Synthesizer
	logger *slog.Logger
}

func NewExtractor(synth Synthesizer, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{synth: synth, logger: logger}
}

// Extract never fails. On synthesizer error it returns the ExtractionFailed
// sentinel with no follow-ups.
func (x *Extractor) Extract(ctx context.Context, query string, result SearchResult) Learning {
	l, err := x.synth.ExtractLearning(ctx, query, result, excerpt(result.Content, extractionExcerptRunes))
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues("extractor").Inc()
		x.logger.Warn("Error extracting learnings", "query", query, "url", result.URL, "error", err)
		return Learning{Learning: ExtractionFailed, FollowUpQuestions: []string{}}
	}

	followUps := make([]string, 0, maxFollowUps)
	for _, q := range l.FollowUpQuestions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if len(followUps) == maxFollowUps {
			break
		}
		followUps = append(followUps, q)
	}
	l.FollowUpQuestions = followUps
	return l
}
