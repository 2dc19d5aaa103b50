package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gudastudio/groksearch/internal/backoff"
)

// Firecrawl is a thin client for the Firecrawl search and scrape endpoints.
type Firecrawl struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type FirecrawlResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

func NewFirecrawl(baseURL, apiKey string) *Firecrawl {
	return &Firecrawl{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

func (f *Firecrawl) Configured() bool { return f.apiKey != "" }

// Search returns at most limit web hits for the query.
func (f *Firecrawl) Search(ctx context.Context, query string, limit int) ([]FirecrawlResult, error) {
	body := map[string]any{"query": query, "limit": limit}
	var out struct {
		Data struct {
			Web []FirecrawlResult `json:"web"`
		} `json:"data"`
	}
	if err := f.post(ctx, "/search", body, &out); err != nil {
		return nil, fmt.Errorf("firecrawl search failed: %w", err)
	}
	return out.Data.Web, nil
}

// Scrape renders one URL to markdown. attempt (zero-based) stretches the
// render wait, so retries after an empty result give slow pages more time to
// settle. Empty markdown with nil error means the page rendered blank.
func (f *Firecrawl) Scrape(ctx context.Context, url string, attempt int) (string, error) {
	body := map[string]any{
		"url":     url,
		"formats": []string{"markdown"},
		"timeout": 60000,
		"waitFor": (attempt + 1) * 1500,
	}
	var out struct {
		Data struct {
			Markdown string `json:"markdown"`
		} `json:"data"`
	}
	if err := f.post(ctx, "/scrape", body, &out); err != nil {
		return "", fmt.Errorf("firecrawl scrape failed: %w", err)
	}
	return strings.TrimSpace(out.Data.Markdown), nil
}

func (f *Firecrawl) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return &backoff.TransientError{Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
