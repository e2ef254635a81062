package research

import "context"

// SearchProvider runs a web or literature search.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// Synthesizer answers the three structured questions the engine asks of a
// language model.
type Synthesizer interface {
	// GenerateQueries decomposes topic into at most n search queries.
	// learnings carries what is already known and may be empty.
	GenerateQueries(ctx context.Context, topic string, learnings []string, n int) ([]string, error)
	JudgeRelevance(ctx context.Context, query string, result SearchResult, excerpt string) (EvaluationOutcome, error)
	ExtractLearning(ctx context.Context, query string, result SearchResult, excerpt string) (Learning, error)
}

// Recaller returns prior learnings related to a topic, e.g. from the archive.
type Recaller interface {
	Recall(ctx context.Context, topic string, limit int) ([]string, error)
}
