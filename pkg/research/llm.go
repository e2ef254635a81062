package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
)

// LLMSynthesizer implements Synthesizer over a langchaingo model in JSON mode.
type LLMSynthesizer struct {
	LLM        llms.Model
	Logger     *slog.Logger
	MaxRetries int
	// Backoff is the base delay between attempts, multiplied by the attempt.
	Backoff time.Duration
}

func NewLLMSynthesizer(llm llms.Model, maxRetries int, logger *slog.Logger) *LLMSynthesizer {
	if maxRetries < 1 {
		maxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMSynthesizer{LLM: llm, Logger: logger, MaxRetries: maxRetries, Backoff: time.Second}
}

const researcherPrompt = `You are an expert research agent. You research topics thoroughly by generating specific search queries, judging which search results are relevant, and extracting key learnings and follow-up questions from the relevant ones.`

// generateWithRetry attempts to generate content and validates it using the provided function.
// It retries up to MaxRetries times if the LLM fails or the validator returns an error.
func (s *LLMSynthesizer) generateWithRetry(ctx context.Context, prompts []llms.MessageContent, validator func(string) error) error {
	var lastErr error

	for i := 0; i < s.MaxRetries; i++ {
		if i > 0 {
			s.Logger.Warn("Retrying LLM generation", "attempt", i+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.Backoff * time.Duration(i)): // Linear backoff
			}
		}

		resp, err := s.LLM.GenerateContent(ctx, prompts, llms.WithJSONMode())
		if err != nil {
			lastErr = fmt.Errorf("llm generation failed: %w", err)
			continue
		}

		if len(resp.Choices) == 0 {
			lastErr = errors.New("llm returned no choices")
			continue
		}

		if err := validator(cleanJSON(resp.Choices[0].Content)); err != nil {
			lastErr = fmt.Errorf("validation failed: %w", err)
			continue
		}

		return nil
	}

	return fmt.Errorf("operation failed after %d retries: %w", s.MaxRetries, lastErr)
}

// cleanJSON strips a markdown code fence some models wrap JSON in.
func cleanJSON(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func responseFormat(schema string) string {
	return "\n\n# Response Format:\nReturn the JSON object directly without any formatting or additional text. The JSON object should have the following structure as defined in the schema. Make sure to answer in valid json and include all necessary properties:" + schema
}

const queriesSchema = `{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Specific search queries"
    }
  },
  "required": ["queries"]
}`

const relevanceSchema = `{
  "type": "object",
  "properties": {
    "isRelevant": {"type": "boolean"},
    "reason": {"type": "string", "description": "One-line reason"}
  },
  "required": ["isRelevant", "reason"]
}`

const learningSchema = `{
  "type": "object",
  "properties": {
    "learning": {"type": "string"},
    "followUpQuestions": {"type": "array", "items": {"type": "string"}, "maxItems": 3}
  },
  "required": ["learning", "followUpQuestions"]
}`

func (s *LLMSynthesizer) GenerateQueries(ctx context.Context, topic string, learnings []string, n int) ([]string, error) {
	input := fmt.Sprintf("Break down the topic %q into %d specific search queries.", topic, n)
	if len(learnings) > 0 {
		input += "\n\nAlready known, do not search for it again:\n- " + strings.Join(learnings, "\n- ")
	}

	var resp struct {
		Queries []string `json:"queries"`
	}
	err := s.generateWithRetry(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, researcherPrompt+responseFormat(queriesSchema)),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, func(content string) error {
		resp.Queries = nil
		if err := json.Unmarshal([]byte(content), &resp); err != nil {
			return fmt.Errorf("json parse error: %w (content: %s)", err, content)
		}
		if len(resp.Queries) == 0 {
			return errors.New("empty queries list")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp.Queries, nil
}

func (s *LLMSynthesizer) JudgeRelevance(ctx context.Context, query string, result SearchResult, excerpt string) (EvaluationOutcome, error) {
	input := fmt.Sprintf(`Evaluate whether this search result is relevant and will help answer the query: %q.

Search result:
Title: %s
URL: %s
Content snippet: %s...`, query, result.Title, result.URL, excerpt)

	var out EvaluationOutcome
	err := s.generateWithRetry(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, researcherPrompt+responseFormat(relevanceSchema)),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, func(content string) error {
		var raw struct {
			IsRelevant *bool  `json:"isRelevant"`
			Reason     string `json:"reason"`
		}
		if err := json.Unmarshal([]byte(content), &raw); err != nil {
			return fmt.Errorf("json parse error: %w", err)
		}
		if raw.IsRelevant == nil {
			return errors.New("missing isRelevant")
		}
		out = EvaluationOutcome{IsRelevant: *raw.IsRelevant, Reason: raw.Reason}
		return nil
	})
	return out, err
}

func (s *LLMSynthesizer) ExtractLearning(ctx context.Context, query string, result SearchResult, excerpt string) (Learning, error) {
	input := fmt.Sprintf(`The user is researching %q.
Extract a key learning and generate up to 3 follow-up questions from this search result:

Title: %s
URL: %s
Content: %s...`, query, result.Title, result.URL, excerpt)

	var out Learning
	err := s.generateWithRetry(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, researcherPrompt+responseFormat(learningSchema)),
		llms.TextParts(llms.ChatMessageTypeHuman, input),
	}, func(content string) error {
		out = Learning{}
		if err := json.Unmarshal([]byte(content), &out); err != nil {
			return fmt.Errorf("json parse error: %w", err)
		}
		if strings.TrimSpace(out.Learning) == "" {
			return errors.New("empty learning")
		}
		return nil
	})
	return out, err
}
