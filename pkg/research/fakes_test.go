package research

import (
	"context"
	"errors"
	"sync"
)

// scriptedSynth answers from closures and counts calls.
type scriptedSynth struct {
	mu sync.Mutex

	queries    []string
	queriesErr error
	judge      func(call int, query string, r SearchResult) (EvaluationOutcome, error)
	extract    func(query string, r SearchResult) (Learning, error)

	generateCalls int
	judgeCalls    int
	extractCalls  int
	excerpts      []string
	learningsSeen []string
}

func (s *scriptedSynth) GenerateQueries(_ context.Context, _ string, learnings []string, _ int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generateCalls++
	s.learningsSeen = append(s.learningsSeen, learnings...)
	return s.queries, s.queriesErr
}

func (s *scriptedSynth) JudgeRelevance(_ context.Context, query string, r SearchResult, excerpt string) (EvaluationOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.judgeCalls++
	s.excerpts = append(s.excerpts, excerpt)
	if s.judge == nil {
		return EvaluationOutcome{IsRelevant: true, Reason: "ok"}, nil
	}
	return s.judge(s.judgeCalls, query, r)
}

func (s *scriptedSynth) ExtractLearning(_ context.Context, query string, r SearchResult, excerpt string) (Learning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extractCalls++
	s.excerpts = append(s.excerpts, excerpt)
	if s.extract == nil {
		return Learning{Learning: "learned from " + r.URL, FollowUpQuestions: []string{}}, nil
	}
	return s.extract(query, r)
}

// stubSearch returns results built by fn and records every query issued.
type stubSearch struct {
	mu    sync.Mutex
	fn    func(query string) ([]SearchResult, error)
	calls []string
}

func (s *stubSearch) Search(_ context.Context, query string) ([]SearchResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, query)
	s.mu.Unlock()
	return s.fn(query)
}

func singleResult(query string) ([]SearchResult, error) {
	return []SearchResult{{Title: query, URL: "https://example.com/" + query, Content: "about " + query}}, nil
}

type stubRecall struct {
	learnings []string
	err       error
}

func (r stubRecall) Recall(context.Context, string, int) ([]string, error) {
	return r.learnings, r.err
}

var errUnavailable = errors.New("synthesizer unavailable")
