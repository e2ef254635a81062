package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/charmbracelet/glamour"
	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/deep-research/pkg/research"
)

// Writer turns a research record into report text.
type Writer interface {
	Write(ctx context.Context, record *research.Record) (string, error)
}

// LLMWriter writes markdown reports with a language model.
type LLMWriter struct {
	LLM    llms.Model
	Logger *slog.Logger
}

func NewLLMWriter(llm llms.Model, logger *slog.Logger) *LLMWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMWriter{LLM: llm, Logger: logger}
}

const reportPrompt = `You are an expert researcher. Write a comprehensive research report on %q.
Use the following research data (queries, search results, learnings and follow-up questions):

%s

Format as Markdown with Introduction, Key Findings, Methodology/Discussion, and Conclusion. Cite source URLs where you use them.`

func (w *LLMWriter) Write(ctx context.Context, record *research.Record) (string, error) {
	if record == nil {
		return "", errors.New("no research data")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode research data: %w", err)
	}

	w.Logger.Info("Compiling final report", "topic", record.Query, "learnings", len(record.Learnings))
	resp, err := w.LLM.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(reportPrompt, record.Query, data)),
	})
	if err != nil {
		return "", fmt.Errorf("llm generation failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", errors.New("llm returned an empty report")
	}

	report := resp.Choices[0].Content
	w.Logger.Info("Final report generated", "length", len(report))
	return report, nil
}

// Render formats markdown for a terminal.
func Render(markdown string, width int) (string, error) {
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create renderer: %w", err)
	}
	return r.Render(markdown)
}
