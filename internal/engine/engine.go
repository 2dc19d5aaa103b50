// Package engine wires the session store, providers, reflection loop,
// extraction chain, and planner into the tool operations the server exposes.
// Operations return structured outcomes with machine-readable error codes
// instead of failing the transport; only transport-level problems surface as
// Go errors.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/gudastudio/groksearch/internal/config"
	"github.com/gudastudio/groksearch/internal/observe"
	"github.com/gudastudio/groksearch/internal/provider"
	"github.com/gudastudio/groksearch/internal/session"
	"github.com/gudastudio/groksearch/internal/sources"
	"github.com/gudastudio/groksearch/internal/store"
)

// Outcome error codes.
const (
	ErrCodeConfig   = "config_error"
	ErrCodeModel    = "invalid_model"
	ErrCodeExpired  = "session_expired"
	ErrCodeCapacity = "capacity_exceeded"
	ErrCodeNotFound = "session_id_not_found_or_expired"
	ErrCodeUpstream = "upstream_error"
)

// ChatProvider is the chat-completion search upstream.
type ChatProvider interface {
	Search(ctx context.Context, req provider.SearchRequest) (string, error)
	Reflect(ctx context.Context, query, findings string) (string, error)
	Validate(ctx context.Context, query, findings string) (string, error)
	Fetch(ctx context.Context, url string) (string, error)
	Models(ctx context.Context) ([]string, error)
}

// ExtraSearcher supplies reference results alongside the chat answer.
type ExtraSearcher interface {
	Configured() bool
}

// TavilySearcher is the Tavily-shaped slice of the extra-source quota.
type TavilySearcher interface {
	ExtraSearcher
	Search(ctx context.Context, query string, maxResults int) ([]provider.TavilyResult, error)
	Map(ctx context.Context, req provider.MapRequest) (provider.MapResult, error)
}

// FirecrawlSearcher is the Firecrawl-shaped slice.
type FirecrawlSearcher interface {
	ExtraSearcher
	Search(ctx context.Context, query string, limit int) ([]provider.FirecrawlResult, error)
}

// Fetcher turns a URL into markdown through the extraction chain.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (content, from string, err error)
}

type Engine struct {
	cfg      config.Config
	model    *config.ModelCell
	obs      *observe.Observer
	sessions *session.Store
	chat     ChatProvider
	tavily   TavilySearcher
	fire     FirecrawlSearcher
	fetcher  Fetcher
	db       *store.Store // optional; nil disables persistence and audit

	modelsMu     sync.Mutex
	modelsCache  []string
	modelsLoaded bool

	now func() time.Time
}

func New(cfg config.Config, model *config.ModelCell, obs *observe.Observer,
	sessions *session.Store, chat ChatProvider, tavily TavilySearcher,
	fire FirecrawlSearcher, fetcher Fetcher, db *store.Store) *Engine {
	return &Engine{
		cfg:      cfg,
		model:    model,
		obs:      obs,
		sessions: sessions,
		chat:     chat,
		tavily:   tavily,
		fire:     fire,
		fetcher:  fetcher,
		db:       db,
		now:      time.Now,
	}
}

// SearchOutcome is the shared result shape of web_search, search_followup,
// and each reflection round.
type SearchOutcome struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	SourcesCount   int    `json:"sources_count"`
	Error          string `json:"error,omitempty"`
	Message        string `json:"message,omitempty"`
}

// SearchParams is one web_search invocation.
type SearchParams struct {
	Query        string
	Platform     string
	Model        string // per-call override, validated against /models
	ExtraSources int
}

// WebSearch runs a single stateful search turn in a fresh conversation.
func (e *Engine) WebSearch(ctx context.Context, p SearchParams) SearchOutcome {
	ctx, span := e.obs.StartSpan(ctx, "web_search")
	defer span.End()
	return e.executeSearch(ctx, p.Query, p.Platform, p.Model, p.ExtraSources, "")
}

// Followup continues an existing conversation. A missing or expired
// conversation yields a session_expired outcome so the caller knows to start
// over rather than retry.
func (e *Engine) Followup(ctx context.Context, query, conversationID string, extraSources int) SearchOutcome {
	ctx, span := e.obs.StartSpan(ctx, "search_followup")
	defer span.End()

	if _, err := e.sessions.GetConversation(conversationID); err != nil {
		return SearchOutcome{
			ConversationID: conversationID,
			Error:          ErrCodeExpired,
			Message:        "conversation expired or unknown, start a new web_search",
		}
	}
	return e.executeSearch(ctx, query, "", "", extraSources, conversationID)
}

// executeSearch is the core turn shared by web_search, search_followup, and
// the reflection loop. The chat search and the extra-source searches run
// concurrently; extra-source failures degrade to an empty list and never
// fail the turn.
func (e *Engine) executeSearch(ctx context.Context, query, platform, modelOverride string, extraSources int, conversationID string) SearchOutcome {
	sessionID := session.NewID()
	started := e.now()

	if e.cfg.APIKey == "" {
		e.sessions.PutSources(sessionID, nil)
		return SearchOutcome{
			SessionID: sessionID,
			Error:     ErrCodeConfig,
			Message:   "GROK_API_KEY is not configured",
		}
	}

	if modelOverride != "" {
		if available := e.availableModels(ctx); len(available) > 0 && !containsString(available, modelOverride) {
			e.sessions.PutSources(sessionID, nil)
			return SearchOutcome{
				SessionID: sessionID,
				Error:     ErrCodeModel,
				Message:   "invalid model: " + modelOverride,
			}
		}
	}

	if conversationID == "" {
		conversationID = e.sessions.CreateConversation()
	}
	history, err := e.sessions.BeginTurn(conversationID, query)
	switch err {
	case nil:
	case session.ErrCapacityExceeded:
		return SearchOutcome{
			SessionID:      sessionID,
			ConversationID: conversationID,
			Error:          ErrCodeCapacity,
			Message:        "search ceiling reached for this conversation, start a new one",
		}
	default:
		// Evicted mid-flight (the reflection loop can outlive a TTL); carry
		// on with a fresh conversation.
		conversationID = e.sessions.CreateConversation()
		history, _ = e.sessions.BeginTurn(conversationID, query)
	}

	tavilyCount, fireCount := e.splitQuota(extraSources)

	var (
		wg          sync.WaitGroup
		answerRaw   string
		tavilyExtra []provider.TavilyResult
		fireExtra   []provider.FirecrawlResult
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err := e.chat.Search(ctx, provider.SearchRequest{
			Query:    query,
			Platform: platform,
			Model:    modelOverride,
			History:  history,
		})
		if err != nil {
			e.obs.Log().Error().Str("query", query).Err(err).Msg("chat search failed")
			return
		}
		answerRaw = out
	}()

	if tavilyCount > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := e.tavily.Search(ctx, query, tavilyCount)
			if err != nil {
				e.obs.Log().Warn().Err(err).Msg("tavily extra sources failed")
				return
			}
			tavilyExtra = results
		}()
	}
	if fireCount > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := e.fire.Search(ctx, query, fireCount)
			if err != nil {
				e.obs.Log().Warn().Err(err).Msg("firecrawl extra sources failed")
				return
			}
			fireExtra = results
		}()
	}
	wg.Wait()

	answer, answerSources := sources.Split(answerRaw)
	all := sources.Merge(answerSources, extraToSources(fireExtra, tavilyExtra))

	e.sessions.CompleteTurn(conversationID, answer)
	e.sessions.PutSources(sessionID, all)

	e.audit(store.SearchRecord{
		SessionID:   sessionID,
		Query:       query,
		Model:       e.effectiveModel(modelOverride),
		SourceCount: len(all),
		DurationMS:  e.now().Sub(started).Milliseconds(),
	})
	e.obs.Log().Info().
		Str("session_id", sessionID).
		Str("conversation_id", conversationID).
		Int("sources", len(all)).
		Msg("search turn complete")

	return SearchOutcome{
		SessionID:      sessionID,
		ConversationID: conversationID,
		Content:        answer,
		SourcesCount:   len(all),
	}
}

// splitQuota divides the extra-source budget between the configured
// reference providers. With both configured Firecrawl takes the floor half;
// with one, it takes everything.
func (e *Engine) splitQuota(extraSources int) (tavilyCount, fireCount int) {
	if extraSources <= 0 {
		return 0, 0
	}
	hasTavily := e.tavily != nil && e.tavily.Configured()
	hasFire := e.fire != nil && e.fire.Configured()
	switch {
	case hasTavily && hasFire:
		fireCount = extraSources / 2
		tavilyCount = extraSources - fireCount
	case hasFire:
		fireCount = extraSources
	case hasTavily:
		tavilyCount = extraSources
	}
	return tavilyCount, fireCount
}

// extraToSources flattens the reference results, Firecrawl first, deduped by
// URL.
func extraToSources(fire []provider.FirecrawlResult, tavily []provider.TavilyResult) []session.Source {
	seen := make(map[string]bool)
	var out []session.Source
	for _, r := range fire {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, session.Source{
			URL: r.URL, Title: r.Title, Description: r.Description, Provider: "firecrawl",
		})
	}
	for _, r := range tavily {
		if r.URL == "" || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		out = append(out, session.Source{
			URL: r.URL, Title: r.Title, Description: r.Content, Provider: "tavily",
		})
	}
	return out
}

// availableModels fetches the upstream model list once and caches it for the
// engine's lifetime. A fetch failure caches the empty list, which disables
// override validation rather than blocking searches.
func (e *Engine) availableModels(ctx context.Context) []string {
	e.modelsMu.Lock()
	defer e.modelsMu.Unlock()
	if e.modelsLoaded {
		return e.modelsCache
	}
	if e.chat == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	models, err := e.chat.Models(ctx)
	if err != nil {
		e.obs.Log().Warn().Err(err).Msg("model listing failed")
		models = nil
	}
	e.modelsCache = models
	e.modelsLoaded = true
	return e.modelsCache
}

func (e *Engine) effectiveModel(override string) string {
	if override != "" {
		return override
	}
	return e.model.Current()
}

func (e *Engine) audit(rec store.SearchRecord) {
	if e.db == nil {
		return
	}
	if err := e.db.RecordSearch(rec); err != nil {
		e.obs.Log().Warn().Err(err).Msg("search audit write failed")
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
