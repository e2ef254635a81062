package tools

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/research"
)

const arxivQueryURL = "https://export.arxiv.org/api/query"

// ArxivEntry struct to hold arXiv entry data
type ArxivEntry struct {
	Title     string      `xml:"title"`
	Summary   string      `xml:"summary"`
	Published string      `xml:"published"`
	Link      []ArxivLink `xml:"link"`
}

// ArxivLink struct to hold arXiv link data
type ArxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

// ArxivFeed struct to hold the entire arXiv feed
type ArxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []ArxivEntry `xml:"entry"`
}

// PDFLink returns the entry's PDF link, or "" when it has none.
func (e ArxivEntry) PDFLink() string {
	for _, link := range e.Link {
		if link.Type == "application/pdf" {
			return link.Href
		}
	}
	return ""
}

// Arxiv searches arXiv papers. With an OCR scraper set, the content of each
// hit is the live full text of its PDF instead of the abstract.
type Arxiv struct {
	BaseURL    string
	MaxResults int
	Client     *http.Client
	OCR        *MistralOCR
	Logger     *slog.Logger
}

func NewArxiv(ocr *MistralOCR) *Arxiv {
	return &Arxiv{
		BaseURL:    arxivQueryURL,
		MaxResults: 1,
		Client:     &http.Client{Timeout: 30 * time.Second},
		OCR:        ocr,
		Logger:     slog.Default(),
	}
}

// Search queries the arXiv API.
func (a *Arxiv) Search(ctx context.Context, query string) ([]research.SearchResult, error) {
	maxResults := a.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Add("search_query", query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0") // Start from the first result
	apiURL := a.BaseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	a.Logger.Info("Searching arXiv", "query", query, "max_results", maxResults)
	resp, err := doWithRetry(ctx, a.Client, req, defaultMaxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var feed ArxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal XML: %w", err)
	}

	results := make([]research.SearchResult, 0, len(feed.Entry))
	for _, entry := range feed.Entry {
		r := research.SearchResult{
			Title:   strings.Join(strings.Fields(entry.Title), " "),
			URL:     entry.PDFLink(),
			Content: strings.TrimSpace(entry.Summary),
		}
		if a.OCR != nil && r.URL != "" {
			text, err := a.OCR.Scrape(ctx, r.URL)
			if err != nil {
				a.Logger.Warn("Failed to scrape, using summary", "url", r.URL, "error", err)
			} else {
				r.Content = text
			}
		}
		results = append(results, r)
	}
	return results, nil
}
