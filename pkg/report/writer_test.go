package report

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/research"
)

type stubModel struct {
	content string
	err     error
	prompt  string
}

func (m *stubModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if len(messages) > 0 && len(messages[0].Parts) > 0 {
		if tc, ok := messages[0].Parts[0].(llms.TextContent); ok {
			m.prompt = tc.Text
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.content}}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLLMWriter_Write(t *testing.T) {
	m := &stubModel{content: "# Shotput\n\nFindings."}
	rec := research.NewRecord("shotput training")
	rec.Learnings = []research.Learning{{Learning: "Spin technique adds distance", FollowUpQuestions: []string{}}}

	got, err := NewLLMWriter(m, nil).Write(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "# Shotput\n\nFindings.", got)
	assert.Contains(t, m.prompt, `"shotput training"`)
	assert.Contains(t, m.prompt, "Spin technique adds distance")
}

func TestLLMWriter_Errors(t *testing.T) {
	_, err := NewLLMWriter(&stubModel{}, nil).Write(context.Background(), nil)
	assert.Error(t, err)

	_, err = NewLLMWriter(&stubModel{err: errors.New("down")}, nil).Write(context.Background(), research.NewRecord("t"))
	assert.ErrorContains(t, err, "down")

	_, err = NewLLMWriter(&stubModel{}, nil).Write(context.Background(), research.NewRecord("t"))
	assert.ErrorContains(t, err, "empty report")
}

func TestRender(t *testing.T) {
	out, err := Render("# Title\n\nSome *text*.", 40)
	require.NoError(t, err)
	assert.Contains(t, out, "Title")
}
