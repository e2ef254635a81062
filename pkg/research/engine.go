package research

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

const (
	DefaultDepth   = 2
	DefaultBreadth = 2
)

// Normalize substitutes the defaults for depth or breadth below 1.
func (p Parameters) Normalize() Parameters {
	if p.Depth < 1 {
		p.Depth = DefaultDepth
	}
	if p.Breadth < 1 {
		p.Breadth = DefaultBreadth
	}
	return p
}

// Progress is reported after every completed level.
type Progress struct {
	Level     int
	Depth     int
	Queries   int
	Learnings int
}

// Engine runs iterative-deepening research over a query frontier.
type Engine struct {
	expander  *Expander
	evaluator *Evaluator
	extractor *Extractor
	search    SearchProvider
	logger    *slog.Logger

	concurrency     int
	resultsPerQuery int

	OnProgress func(Progress)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithConcurrency bounds how many queries of one level run at once.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithResultsPerQuery sets how many search results of each query are used.
func WithResultsPerQuery(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.resultsPerQuery = n
		}
	}
}

// WithRecall lets the expander draw on prior learnings.
func WithRecall(r Recaller) EngineOption {
	return func(e *Engine) { e.expander.recall = r }
}

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
		e.expander.logger = l
		e.evaluator.logger = l
		e.extractor.logger = l
	}
}

func NewEngine(synth Synthesizer, search SearchProvider, opts ...EngineOption) *Engine {
	logger := slog.Default()
	e := &Engine{
		expander:        NewExpander(synth, nil, logger),
		evaluator:       NewEvaluator(synth, logger),
		extractor:       NewExtractor(synth, logger),
		search:          search,
		logger:          logger,
		concurrency:     1,
		resultsPerQuery: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type queryOutcome struct {
	results   []SearchResult
	learnings []Learning
}

// Run researches p and returns the record. It does not fail: collaborator
// errors degrade single items, and a failure to produce the first frontier
// is reported through Record.Error.
func (e *Engine) Run(ctx context.Context, p Parameters) *Record {
	p = p.Normalize()
	start := time.Now()
	defer func() { metrics.ResearchDuration.Observe(time.Since(start).Seconds()) }()

	record := NewRecord(p.Query)
	e.logger.Info("Starting research", "topic", p.Query, "depth", p.Depth, "breadth", p.Breadth)

	frontier, err := e.expander.Expand(ctx, p.Query, record, p.Breadth)
	if err != nil {
		record.Error = err.Error()
		return record
	}

	claims := newURLClaims(record.URLs())
	for level := 0; level < p.Depth; level++ {
		if err := ctx.Err(); err != nil {
			record.Error = fmt.Sprintf("research interrupted at level %d: %v", level, err)
			break
		}

		pending := pendingQueries(record, frontier)
		if len(pending) == 0 {
			e.logger.Info("Frontier exhausted", "level", level)
			break
		}
		e.logger.Info("Starting level", "level", level, "queries", len(pending))

		outcomes := e.runLevel(ctx, pending, claims)

		// Single writer: merge in frontier order.
		for i, q := range pending {
			record.addQuery(q)
			record.SearchResults = append(record.SearchResults, outcomes[i].results...)
			record.Learnings = append(record.Learnings, outcomes[i].learnings...)
			record.markCompleted(q)
			metrics.LearningsExtracted.Add(float64(len(outcomes[i].learnings)))
		}

		var next []string
	collect:
		for _, o := range outcomes {
			for _, l := range o.learnings {
				for _, q := range l.FollowUpQuestions {
					if len(next) == p.Breadth {
						break collect
					}
					if record.IsCompleted(q) || slices.Contains(next, q) {
						continue
					}
					next = append(next, q)
				}
			}
		}
		frontier = next

		if e.OnProgress != nil {
			e.OnProgress(Progress{
				Level:     level,
				Depth:     p.Depth,
				Queries:   len(record.CompletedQueries),
				Learnings: len(record.Learnings),
			})
		}
	}

	e.logger.Info("Research complete",
		"topic", p.Query,
		"queries", len(record.CompletedQueries),
		"results", len(record.SearchResults),
		"learnings", len(record.Learnings))
	return record
}

func pendingQueries(record *Record, frontier []string) []string {
	pending := make([]string, 0, len(frontier))
	for _, q := range frontier {
		if record.IsCompleted(q) || slices.Contains(pending, q) {
			continue
		}
		pending = append(pending, q)
	}
	return pending
}

func (e *Engine) runLevel(ctx context.Context, queries []string, claims *urlClaims) []queryOutcome {
	outcomes := make([]queryOutcome, len(queries))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, q := range queries {
		g.Go(func() error {
			outcomes[i] = e.processQuery(ctx, q, claims)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (e *Engine) processQuery(ctx context.Context, query string, claims *urlClaims) queryOutcome {
	defer metrics.QueriesProcessed.Inc()

	results, err := e.search.Search(ctx, query)
	if err != nil {
		metrics.CollaboratorFailures.WithLabelValues("search").Inc()
		e.logger.Error("Search failed", "query", query, "error", err)
		return queryOutcome{}
	}
	if len(results) > e.resultsPerQuery {
		results = results[:e.resultsPerQuery]
	}

	out := queryOutcome{results: results}
	for _, r := range results {
		existing := claims.claim(r.URL)
		outcome := e.evaluator.Evaluate(ctx, query, r, existing)
		if !outcome.IsRelevant {
			e.logger.Info("Skipping result", "query", query, "url", r.URL, "reason", outcome.Reason)
			continue
		}
		out.learnings = append(out.learnings, e.extractor.Extract(ctx, query, r))
	}
	return out
}

// urlClaims is the set of URLs seen so far, shared by the queries of a run.
type urlClaims struct {
	mu   sync.Mutex
	urls []string
}

func newURLClaims(initial []string) *urlClaims {
	return &urlClaims{urls: slices.Clone(initial)}
}

// claim records url and returns the URLs known before it.
func (c *urlClaims) claim(url string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	known := slices.Clone(c.urls)
	if !slices.Contains(c.urls, url) {
		c.urls = append(c.urls, url)
	}
	return known
}
