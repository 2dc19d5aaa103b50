package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/gudastudio/groksearch/internal/backoff"
	"github.com/gudastudio/groksearch/internal/session"
)

func noRetry() backoff.Policy {
	return backoff.New(1, time.Millisecond, 2, time.Millisecond)
}

// chatServer serves an OpenAI-compatible /chat/completions endpoint and
// captures the request for inspection.
func chatServer(t *testing.T, answer string, captured *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			if err := json.NewDecoder(r.Body).Decode(captured); err != nil {
				t.Errorf("failed to decode request: %v", err)
			}
		}
		resp := openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Role: "assistant", Content: answer}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestGrokSearchBuildsMessages(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := chatServer(t, "the answer", &req)
	defer srv.Close()

	g, err := NewGrok(srv.URL, "test-key", "grok-4-fast", noRetry())
	if err != nil {
		t.Fatal(err)
	}

	got, err := g.Search(context.Background(), SearchRequest{
		Query:    "what is QUIC",
		Platform: "github.com",
		History: []session.Message{
			{Role: "user", Content: "earlier question"},
			{Role: "assistant", Content: "earlier answer"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "the answer" {
		t.Errorf("unexpected answer: %q", got)
	}

	if req.Model != "grok-4-fast" {
		t.Errorf("expected default model, got %s", req.Model)
	}
	if len(req.Messages) != 4 {
		t.Fatalf("expected system + 2 history + user, got %d messages", len(req.Messages))
	}
	if req.Messages[0].Role != "system" {
		t.Errorf("first message should be system, got %s", req.Messages[0].Role)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		t.Errorf("last message should be user, got %s", last.Role)
	}
	if want := "focus on these platform: github.com"; !contains(last.Content, want) {
		t.Errorf("platform focus missing from %q", last.Content)
	}
}

func TestGrokSearchModelOverride(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := chatServer(t, "ok", &req)
	defer srv.Close()

	g, _ := NewGrok(srv.URL, "test-key", "grok-4-fast", noRetry())
	if _, err := g.Search(context.Background(), SearchRequest{Query: "q", Model: "grok-2-latest"}); err != nil {
		t.Fatal(err)
	}
	if req.Model != "grok-2-latest" {
		t.Errorf("expected override model, got %s", req.Model)
	}
}

func TestGrokTimeContextOnlyForTemporalQueries(t *testing.T) {
	var req openai.ChatCompletionRequest
	srv := chatServer(t, "ok", &req)
	defer srv.Close()

	g, _ := NewGrok(srv.URL, "test-key", "grok-4-fast", noRetry())

	if _, err := g.Search(context.Background(), SearchRequest{Query: "latest Go release"}); err != nil {
		t.Fatal(err)
	}
	if !contains(req.Messages[1].Content, "[Current Time Context]") {
		t.Error("temporal query should carry time context")
	}

	if _, err := g.Search(context.Background(), SearchRequest{Query: "history of the Roman empire"}); err != nil {
		t.Fatal(err)
	}
	if contains(req.Messages[1].Content, "[Current Time Context]") {
		t.Error("non-temporal query should not carry time context")
	}
}

func TestGrokMissingKey(t *testing.T) {
	if _, err := NewGrok("http://example.com", "", "m", noRetry()); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestGrokModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ModelsList{Models: []openai.Model{
			{ID: "grok-4-fast"}, {ID: "grok-2-latest"},
		}})
	}))
	defer srv.Close()

	g, _ := NewGrok(srv.URL, "test-key", "grok-4-fast", noRetry())
	models, err := g.Models(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0] != "grok-4-fast" {
		t.Errorf("unexpected model list: %v", models)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"auth 401", 401, func(err error) bool {
			var e *backoff.AuthError
			return errors.As(err, &e)
		}},
		{"rate limit 429", 429, func(err error) bool {
			var e *backoff.RateLimitError
			return errors.As(err, &e)
		}},
		{"server 503", 503, func(err error) bool {
			var e *backoff.TransientError
			return errors.As(err, &e)
		}},
		{"client 400 unchanged", 400, func(err error) bool {
			return !backoff.Retryable(err)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(&openai.APIError{HTTPStatusCode: tc.status})
			if !tc.check(err) {
				t.Errorf("classify(%d) = %v", tc.status, err)
			}
		})
	}

	t.Run("plain error is transient", func(t *testing.T) {
		if !backoff.Retryable(classify(errors.New("connection reset"))) {
			t.Error("transport failure should be retryable")
		}
	})
	t.Run("context cancellation passes through", func(t *testing.T) {
		if backoff.Retryable(classify(context.Canceled)) {
			t.Error("cancellation must not be retried")
		}
	})
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }
