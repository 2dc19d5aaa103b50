package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gudastudio/groksearch/internal/backoff"
)

// Tavily is a thin client for the Tavily search, extract, and map endpoints.
// A zero API key means unconfigured; callers check Configured before use.
type Tavily struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type TavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// MapRequest bounds a site-map traversal.
type MapRequest struct {
	URL          string `json:"url"`
	Instructions string `json:"instructions,omitempty"`
	MaxDepth     int    `json:"max_depth"`
	MaxBreadth   int    `json:"max_breadth"`
	Limit        int    `json:"limit"`
	Timeout      int    `json:"timeout"`
}

type MapResult struct {
	BaseURL      string   `json:"base_url"`
	Results      []string `json:"results"`
	ResponseTime float64  `json:"response_time"`
}

func NewTavily(baseURL, apiKey string) *Tavily {
	return &Tavily{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

func (t *Tavily) Configured() bool { return t.apiKey != "" }

// Search runs an advanced-depth web search and returns at most maxResults
// hits.
func (t *Tavily) Search(ctx context.Context, query string, maxResults int) ([]TavilyResult, error) {
	body := map[string]any{
		"query":               query,
		"max_results":         maxResults,
		"search_depth":        "advanced",
		"include_raw_content": false,
		"include_answer":      false,
	}
	var out struct {
		Results []TavilyResult `json:"results"`
	}
	if err := t.post(ctx, "/search", body, &out); err != nil {
		return nil, fmt.Errorf("tavily search failed: %w", err)
	}
	return out.Results, nil
}

// Extract fetches one URL as markdown. An empty result with nil error means
// the service had nothing for the page.
func (t *Tavily) Extract(ctx context.Context, url string) (string, error) {
	body := map[string]any{"urls": []string{url}, "format": "markdown"}
	var out struct {
		Results []struct {
			RawContent string `json:"raw_content"`
		} `json:"results"`
	}
	if err := t.post(ctx, "/extract", body, &out); err != nil {
		return "", fmt.Errorf("tavily extract failed: %w", err)
	}
	if len(out.Results) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Results[0].RawContent), nil
}

// Map traverses a site starting from req.URL and returns the discovered
// links.
func (t *Tavily) Map(ctx context.Context, req MapRequest) (MapResult, error) {
	var out MapResult
	if err := t.post(ctx, "/map", req, &out); err != nil {
		return MapResult{}, fmt.Errorf("tavily map failed: %w", err)
	}
	return out, nil
}

func (t *Tavily) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
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

// classifyStatus maps an HTTP response status into the retry taxonomy,
// reading the Retry-After header on 429 for a wait hint.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return &backoff.AuthError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == 429:
		return &backoff.RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("status 429"),
		}
	case resp.StatusCode == 408 || resp.StatusCode >= 500:
		return &backoff.TransientError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}

// parseRetryAfter accepts either a second count or an HTTP date. Zero means
// no usable hint.
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
