package research

import "slices"

// SearchResult represents a single search result
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Learning is one finding extracted from a relevant result, with the
// questions worth pursuing next.
type Learning struct {
	Learning          string   `json:"learning"`
	FollowUpQuestions []string `json:"followUpQuestions"`
}

// EvaluationOutcome is the relevance verdict for one result.
type EvaluationOutcome struct {
	IsRelevant bool   `json:"isRelevant"`
	Reason     string `json:"reason"`
}

// Parameters are the research topic and its bounds.
type Parameters struct {
	Query   string `json:"query"`
	Depth   int    `json:"depth"`
	Breadth int    `json:"breadth"`
}

// Record accumulates everything one research run found.
type Record struct {
	Query            string         `json:"query"`
	Queries          []string       `json:"queries"`
	SearchResults    []SearchResult `json:"searchResults"`
	Learnings        []Learning     `json:"learnings"`
	CompletedQueries []string       `json:"completedQueries"`
	Error            string         `json:"error,omitempty"`
}

// NewRecord returns an empty record for topic.
func NewRecord(topic string) *Record {
	return &Record{
		Query:            topic,
		Queries:          []string{},
		SearchResults:    []SearchResult{},
		Learnings:        []Learning{},
		CompletedQueries: []string{},
	}
}

// IsCompleted reports whether q has already been processed.
func (r *Record) IsCompleted(q string) bool {
	return slices.Contains(r.CompletedQueries, q)
}

// URLs returns the URLs of every recorded search result.
func (r *Record) URLs() []string {
	urls := make([]string, 0, len(r.SearchResults))
	for _, sr := range r.SearchResults {
		urls = append(urls, sr.URL)
	}
	return urls
}

func (r *Record) addQuery(q string) {
	if !slices.Contains(r.Queries, q) {
		r.Queries = append(r.Queries, q)
	}
}

func (r *Record) markCompleted(q string) {
	if !r.IsCompleted(q) {
		r.CompletedQueries = append(r.CompletedQueries, q)
	}
}
