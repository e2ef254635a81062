// Package archive stores approved research in a vector collection and
// recalls related learnings for later runs.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/splitter"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

const (
	KindReport   = "report"
	KindLearning = "learning"
)

// VectorStore is the subset of the pgvector store the archive needs.
type VectorStore interface {
	AddDocuments(ctx context.Context, docs []vectorstore.Document) error
	SimilaritySearch(ctx context.Context, embedding []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Match, error)
	Delete(ctx context.Context, filter vectorstore.Filter) (int64, error)
}

// Archive implements both archiving of approved research and recall of
// learnings from earlier runs.
type Archive struct {
	embedder embeddings.Embedder
	store    VectorStore
	report   *splitter.TextSplitter
	learning *splitter.TextSplitter
	logger   *slog.Logger
	now      func() time.Time
}

func New(embedder embeddings.Embedder, store VectorStore, chunkSize, chunkOverlap int, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{
		embedder: embedder,
		store:    store,
		report:   splitter.NewMarkdownTextSplitter(chunkSize, chunkOverlap),
		learning: splitter.NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap),
		logger:   logger,
		now:      time.Now,
	}
}

// Archive replaces any earlier archive of the same topic with the report
// chunks and the learnings of record.
func (a *Archive) Archive(ctx context.Context, record *research.Record, reportText string) error {
	if record == nil {
		return fmt.Errorf("no research to archive")
	}
	topic := record.Query
	archivedAt := a.now().UTC().Format(time.RFC3339Nano)

	var docs []vectorstore.Document
	chunks, err := a.report.SplitText(reportText)
	if err != nil {
		return fmt.Errorf("split report: %w", err)
	}
	for i, chunk := range chunks {
		docs = append(docs, vectorstore.Document{
			Content: chunk,
			Metadata: map[string]any{
				"topic": topic, "kind": KindReport, "chunk": i, "archivedAt": archivedAt,
			},
		})
	}
	for _, l := range record.Learnings {
		if l.Learning == research.ExtractionFailed {
			continue
		}
		parts, err := a.learning.SplitText(l.Learning)
		if err != nil {
			return fmt.Errorf("split learning: %w", err)
		}
		for _, p := range parts {
			docs = append(docs, vectorstore.Document{
				Content:  p,
				Metadata: map[string]any{"topic": topic, "kind": KindLearning, "archivedAt": archivedAt},
			})
		}
	}
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vecs, err := a.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed archive: %w", err)
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vecs), len(docs))
	}
	for i := range docs {
		docs[i].Embedding = vecs[i]
	}

	// Insert before removing the older archive so a failed insert keeps it.
	if err := a.store.AddDocuments(ctx, docs); err != nil {
		return fmt.Errorf("store archive: %w", err)
	}
	removed, err := a.store.Delete(ctx, vectorstore.Filter{
		"topic": topic,
		"$not":  map[string]any{"archivedAt": archivedAt},
	})
	if err != nil {
		return fmt.Errorf("clear previous archive: %w", err)
	}
	a.logger.Info("Archived research", "topic", topic, "documents", len(docs), "replaced", removed)
	return nil
}

// Recall returns up to limit archived learnings closest to topic.
func (a *Archive) Recall(ctx context.Context, topic string, limit int) ([]string, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" || limit <= 0 {
		return nil, nil
	}
	vecs, err := a.embedder.EmbedTexts(ctx, []string{topic})
	if err != nil {
		return nil, fmt.Errorf("embed topic: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil
	}
	matches, err := a.store.SimilaritySearch(ctx, vecs[0], limit, vectorstore.Filter{"kind": KindLearning})
	if err != nil {
		return nil, fmt.Errorf("search archive: %w", err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Document.Content)
	}
	return out, nil
}
