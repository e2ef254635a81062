package research

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_SkipsKnownURLWithoutCallingSynthesizer(t *testing.T) {
	synth := &scriptedSynth{}
	v := NewEvaluator(synth, nil)

	got := v.Evaluate(context.Background(), "q", SearchResult{URL: "https://a"}, []string{"https://b", "https://a"})

	assert.Equal(t, EvaluationOutcome{IsRelevant: false, Reason: "URL already processed"}, got)
	assert.Zero(t, synth.judgeCalls)
}

func TestEvaluator_FailureIsNotRelevant(t *testing.T) {
	synth := &scriptedSynth{judge: func(int, string, SearchResult) (EvaluationOutcome, error) {
		return EvaluationOutcome{IsRelevant: true}, errUnavailable
	}}
	got := NewEvaluator(synth, nil).Evaluate(context.Background(), "q", SearchResult{URL: "https://a"}, nil)
	assert.Equal(t, EvaluationOutcome{IsRelevant: false, Reason: "Error in evaluation"}, got)
}

func TestEvaluator_ExcerptIsBounded(t *testing.T) {
	synth := &scriptedSynth{}
	content := strings.Repeat("é", 2000)
	NewEvaluator(synth, nil).Evaluate(context.Background(), "q", SearchResult{URL: "u", Content: content}, nil)

	require.Len(t, synth.excerpts, 1)
	assert.Equal(t, 500, utf8.RuneCountInString(synth.excerpts[0]))
	assert.True(t, utf8.ValidString(synth.excerpts[0]))
}

func TestExtractor(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string, SearchResult) (Learning, error)
		want Learning
	}{
		{
			name: "failure yields sentinel",
			fn: func(string, SearchResult) (Learning, error) {
				return Learning{}, errUnavailable
			},
			want: Learning{Learning: "Error extracting information", FollowUpQuestions: []string{}},
		},
		{
			name: "follow-ups capped at three",
			fn: func(string, SearchResult) (Learning, error) {
				return Learning{Learning: "x", FollowUpQuestions: []string{"a", " ", "b", "c", "d"}}, nil
			},
			want: Learning{Learning: "x", FollowUpQuestions: []string{"a", "b", "c"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synth := &scriptedSynth{extract: tt.fn}
			got := NewExtractor(synth, nil).Extract(context.Background(), "q", SearchResult{Content: strings.Repeat("a", 3000)})
			assert.Equal(t, tt.want, got)
			require.Len(t, synth.excerpts, 1)
			assert.Len(t, synth.excerpts[0], 1500)
		})
	}
}

func TestExpander(t *testing.T) {
	record := NewRecord("topic")
	record.CompletedQueries = []string{"done"}
	record.Learnings = []Learning{{Learning: "known fact"}}

	synth := &scriptedSynth{queries: []string{"done", "a", " ", "a", "b", "c"}}
	x := NewExpander(synth, stubRecall{learnings: []string{"archived fact"}}, nil)

	got, err := x.Expand(context.Background(), "topic", record, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, []string{"known fact", "archived fact"}, synth.learningsSeen)
}

func TestExpander_RecallFailureIsIgnored(t *testing.T) {
	synth := &scriptedSynth{queries: []string{"a"}}
	x := NewExpander(synth, stubRecall{err: errUnavailable}, nil)

	got, err := x.Expand(context.Background(), "topic", NewRecord("topic"), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
}

func TestExpander_SynthesizerFailure(t *testing.T) {
	synth := &scriptedSynth{queriesErr: errUnavailable}
	got, err := NewExpander(synth, nil, nil).Expand(context.Background(), "topic", NewRecord("topic"), 3)
	require.ErrorIs(t, err, errUnavailable)
	assert.Empty(t, got)
}

func TestSummarize(t *testing.T) {
	r := NewRecord("shotput training")
	r.Queries = []string{"q"}
	s := Summarize(r)
	assert.True(t, strings.HasPrefix(s, `Research completed on "shotput training":`))
	assert.Contains(t, s, `"queries": [`)

	r.Error = "generate queries: boom"
	assert.Equal(t, "Error: generate queries: boom", Summarize(r))
	assert.Equal(t, "Error: no research data", Summarize(nil))
}

func TestParametersNormalize(t *testing.T) {
	assert.Equal(t, Parameters{Query: "x", Depth: 2, Breadth: 2}, Parameters{Query: "x"}.Normalize())
	assert.Equal(t, Parameters{Query: "x", Depth: 4, Breadth: 2}, Parameters{Query: "x", Depth: 4, Breadth: -1}.Normalize())
}
