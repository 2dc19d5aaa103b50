// Package provider holds the upstream clients: the chat-completion search
// provider (an OpenAI-compatible API), Tavily, and Firecrawl. All clients
// classify upstream failures into the retry taxonomy so the caller's policy
// can decide what to do with them.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/gudastudio/groksearch/internal/backoff"
	"github.com/gudastudio/groksearch/internal/session"
)

// Grok answers search queries through an OpenAI-compatible chat-completions
// endpoint whose model has live web access. Calls retry through the attached
// policy.
type Grok struct {
	client *openai.Client
	model  string
	policy backoff.Policy
	now    func() time.Time
}

// SearchRequest is one chat-search call. Model, when set, overrides the
// client default for this call only.
type SearchRequest struct {
	Query    string
	Platform string
	Model    string
	History  []session.Message
}

func NewGrok(apiURL, apiKey, model string, policy backoff.Policy) (*Grok, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if apiURL != "" {
		cfg.BaseURL = apiURL
	}

	return &Grok{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		policy: policy,
		now:    time.Now,
	}, nil
}

// Search runs one web-search turn. The answer comes back as a single markdown
// string with whatever source annotations the model chose to emit; splitting
// answer from sources is the caller's job.
func (g *Grok) Search(ctx context.Context, req SearchRequest) (string, error) {
	user := req.Query
	if needsTimeContext(req.Query) {
		user = timeContext(g.now()) + "\n" + user
	}
	if req.Platform != "" {
		user += "\n\nYou should search the web for the information you need, and focus on these platform: " + req.Platform + "\n"
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: searchPrompt,
	})
	for _, m := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	return g.complete(ctx, req.Model, messages)
}

// Raw runs a plain system+user completion with no search framing. The
// reflection controller uses this for gap analysis and validation calls.
func (g *Grok) Raw(ctx context.Context, system, user string) (string, error) {
	return g.complete(ctx, "", []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: user},
	})
}

// Fetch asks the model to browse a URL and return its content as structured
// markdown.
func (g *Grok) Fetch(ctx context.Context, url string) (string, error) {
	return g.complete(ctx, "", []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: fetchPrompt},
		{Role: openai.ChatMessageRoleUser, Content: url + "\nFetch this page and return its content as structured markdown."},
	})
}

// Reflect asks the model whether the findings so far answer the query. The
// response is the model's raw JSON text; the caller parses it.
func (g *Grok) Reflect(ctx context.Context, query, findings string) (string, error) {
	return g.Raw(ctx, reflectPrompt, "Query: "+query+"\n\nFindings so far:\n"+findings)
}

// Validate asks the model to judge the consistency and confidence of the
// combined findings. Raw JSON text, parsed by the caller.
func (g *Grok) Validate(ctx context.Context, query, findings string) (string, error) {
	return g.Raw(ctx, validatePrompt, "Query: "+query+"\n\nCombined findings:\n"+findings)
}

// Models lists the model IDs the endpoint serves.
func (g *Grok) Models(ctx context.Context) ([]string, error) {
	var list openai.ModelsList
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		list, err = g.client.ListModels(ctx)
		return classify(err)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (g *Grok) complete(ctx context.Context, model string, messages []openai.ChatCompletionMessage) (string, error) {
	if model == "" {
		model = g.model
	}
	var content string
	err := g.policy.Do(ctx, func(ctx context.Context) error {
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: messages,
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 {
			return &backoff.TransientError{Err: errors.New("empty choices in completion response")}
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	return content, nil
}

// classify maps a go-openai error into the retry taxonomy. Network-level
// failures and 5xx responses are transient; 429 is a rate limit (the library
// does not expose the Retry-After header, so no wait hint); 401/403 are
// terminal auth failures.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return &backoff.AuthError{Err: err}
		case apiErr.HTTPStatusCode == 429:
			return &backoff.RateLimitError{Err: err}
		case apiErr.HTTPStatusCode == 408 || apiErr.HTTPStatusCode >= 500:
			return &backoff.TransientError{Err: err}
		default:
			return err
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch {
		case reqErr.HTTPStatusCode == 429:
			return &backoff.RateLimitError{Err: err}
		case reqErr.HTTPStatusCode == 408 || reqErr.HTTPStatusCode >= 500 || reqErr.HTTPStatusCode == 0:
			return &backoff.TransientError{Err: err}
		default:
			return err
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	// Anything else is a transport-level failure worth retrying.
	return &backoff.TransientError{Err: err}
}

var temporalKeywords = []string{
	"current", "now", "today", "tomorrow", "yesterday",
	"this week", "last week", "next week",
	"this month", "last month", "next month",
	"this year", "last year", "next year",
	"latest", "recent", "recently", "just now",
	"real-time", "realtime", "up-to-date",
	// CJK temporal terms kept so Chinese queries get the same treatment.
	"当前", "现在", "今天", "明天", "昨天",
	"本周", "上周", "下周", "这周",
	"本月", "上月", "下月", "这个月",
	"今年", "去年", "明年",
	"最新", "最近", "近期", "刚刚", "刚才",
	"实时", "即时", "目前",
}

func needsTimeContext(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range temporalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func timeContext(now time.Time) string {
	local := now.Local()
	zone, _ := local.Zone()
	if zone == "" {
		zone = "Local"
	}
	return fmt.Sprintf("[Current Time Context]\n- Date: %s (%s)\n- Time: %s\n- Timezone: %s\n",
		local.Format("2006-01-02"), local.Weekday(), local.Format("15:04:05"), zone)
}
