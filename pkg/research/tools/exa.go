package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

const exaSearchURL = "https://api.exa.ai/search"

// Exa searches the web through the Exa API, crawling every hit live so the
// content is current.
type Exa struct {
	APIKey     string
	BaseURL    string
	NumResults int
	Client     *http.Client
	Logger     *slog.Logger
}

func NewExa(apiKey string) *Exa {
	return &Exa{
		APIKey:     apiKey,
		BaseURL:    exaSearchURL,
		NumResults: 1,
		Client:     &http.Client{Timeout: 60 * time.Second},
		Logger:     slog.Default(),
	}
}

type exaRequest struct {
	Query      string      `json:"query"`
	NumResults int         `json:"numResults"`
	Contents   exaContents `json:"contents"`
}

type exaContents struct {
	Text      bool   `json:"text"`
	Livecrawl string `json:"livecrawl"`
}

type exaResponse struct {
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Text  string `json:"text"`
	} `json:"results"`
}

func (e *Exa) Search(ctx context.Context, query string) ([]research.SearchResult, error) {
	if e.APIKey == "" {
		return nil, errors.New("EXA_API_KEY is not set")
	}

	jsonBody, err := json.Marshal(exaRequest{
		Query:      query,
		NumResults: e.NumResults,
		Contents:   exaContents{Text: true, Livecrawl: "always"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", e.APIKey)

	e.Logger.Info("Searching the web", "query", query)
	resp, err := doWithRetry(ctx, e.Client, req, defaultMaxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var parsed exaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search response: %w", err)
	}

	results := make([]research.SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, research.SearchResult{Title: r.Title, URL: r.URL, Content: r.Text})
	}
	return results, nil
}
