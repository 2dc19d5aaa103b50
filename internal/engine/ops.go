package engine

import (
	"context"
	"errors"
	"time"

	"github.com/gudastudio/groksearch/internal/config"
	"github.com/gudastudio/groksearch/internal/extract"
	"github.com/gudastudio/groksearch/internal/planning"
	"github.com/gudastudio/groksearch/internal/provider"
	"github.com/gudastudio/groksearch/internal/reflectloop"
	"github.com/gudastudio/groksearch/internal/session"
)

// ReflectParams is one search_reflect invocation.
type ReflectParams struct {
	Query          string
	Context        string
	MaxReflections int
	CrossValidate  bool
	ExtraSources   int
}

// ReflectOutcome wraps the loop result with the shared error envelope.
type ReflectOutcome struct {
	reflectloop.Result
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Reflect runs a reflection-enhanced search. Each round is a full search turn
// through the same path as web_search, reusing the initial round's
// conversation so supplementary queries see prior context.
func (e *Engine) Reflect(ctx context.Context, p ReflectParams) ReflectOutcome {
	ctx, span := e.obs.StartSpan(ctx, "search_reflect")
	defer span.End()

	if e.cfg.APIKey == "" {
		return ReflectOutcome{Error: ErrCodeConfig, Message: "GROK_API_KEY is not configured"}
	}

	searcher := func(ctx context.Context, query string, extraSources int, conversationID string) (reflectloop.SearchResult, error) {
		out := e.executeSearch(ctx, query, "", "", extraSources, conversationID)
		if out.Error != "" {
			return reflectloop.SearchResult{}, errors.New(out.Message)
		}
		return reflectloop.SearchResult{
			SessionID:      out.SessionID,
			ConversationID: out.ConversationID,
			Content:        out.Content,
			SourcesCount:   out.SourcesCount,
		}, nil
	}

	ctrl := reflectloop.New(searcher, e.chat, reflectloop.Budgets{
		SearchTimeout:  e.cfg.SearchTimeout,
		ReflectTimeout: e.cfg.ReflectTimeout,
		Total:          e.cfg.ReflectTotalBudget,
	})

	maxReflections := p.MaxReflections
	if maxReflections <= 0 {
		maxReflections = e.cfg.MaxReflections
	}
	result, err := ctrl.Run(ctx, reflectloop.Request{
		Query:          p.Query,
		Context:        p.Context,
		MaxReflections: maxReflections,
		CrossValidate:  p.CrossValidate,
		ExtraSources:   p.ExtraSources,
	})
	if err != nil {
		return ReflectOutcome{Error: ErrCodeUpstream, Message: err.Error()}
	}
	return ReflectOutcome{Result: result}
}

// SourcesOutcome is the get_sources result.
type SourcesOutcome struct {
	SessionID    string           `json:"session_id"`
	Sources      []session.Source `json:"sources"`
	SourcesCount int              `json:"sources_count"`
	Error        string           `json:"error,omitempty"`
}

// Sources returns the cached source list for a search session ID. A miss is
// reported in-band so callers can tell an expired cache from an empty one.
func (e *Engine) Sources(sessionID string) SourcesOutcome {
	list, err := e.sessions.GetSources(sessionID)
	if err != nil {
		return SourcesOutcome{
			SessionID: sessionID,
			Sources:   []session.Source{},
			Error:     ErrCodeNotFound,
		}
	}
	if list == nil {
		list = []session.Source{}
	}
	return SourcesOutcome{SessionID: sessionID, Sources: list, SourcesCount: len(list)}
}

// Fetch extracts one URL as markdown through the provider chain. The second
// return names the provider that produced the content.
func (e *Engine) Fetch(ctx context.Context, url string) (string, string, error) {
	ctx, span := e.obs.StartSpan(ctx, "web_fetch")
	defer span.End()

	content, from, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		e.obs.Log().Warn().Str("url", url).Err(err).Msg("fetch failed")
		return "", "", err
	}
	e.obs.Log().Info().Str("url", url).Str("provider", from).Int("chars", len(content)).Msg("fetch complete")
	return content, from, nil
}

// ErrMapNotConfigured reports a web_map call without a Tavily credential.
var ErrMapNotConfigured = errors.New("TAVILY_API_KEY is not configured")

// Map discovers the URL structure of a site via Tavily.
func (e *Engine) Map(ctx context.Context, req provider.MapRequest) (provider.MapResult, error) {
	ctx, span := e.obs.StartSpan(ctx, "web_map")
	defer span.End()

	if e.tavily == nil || !e.tavily.Configured() {
		return provider.MapResult{}, ErrMapNotConfigured
	}
	result, err := e.tavily.Map(ctx, req)
	if err != nil {
		e.obs.Log().Warn().Str("url", req.URL).Err(err).Msg("site map failed")
		return provider.MapResult{}, err
	}
	return result, nil
}

// SubmitPhase records one planning phase submission against the session's
// plan, creating the plan on first use. An empty session ID starts a new
// planning session.
func (e *Engine) SubmitPhase(sessionID string, sub planning.Submission) (planning.Progress, error) {
	plan, err := e.sessions.GetOrCreatePlan(sessionID)
	if err != nil {
		return planning.Progress{}, err
	}
	var prog planning.Progress
	err = e.sessions.UpdatePlan(plan.ID, func(p *session.Plan) error {
		var err error
		prog, err = planning.SubmitPhase(p, sub, e.now())
		return err
	})
	if err != nil {
		return planning.Progress{SessionID: plan.ID}, err
	}
	return prog, nil
}

// AssemblePlan finalizes a planning session into its executable plan.
func (e *Engine) AssemblePlan(sessionID string) (map[string]any, error) {
	var plan map[string]any
	err := e.sessions.UpdatePlan(sessionID, func(p *session.Plan) error {
		var err error
		plan, err = planning.AssemblePlan(p)
		return err
	})
	return plan, err
}

// PlanProgress reports a planning session without mutating it.
func (e *Engine) PlanProgress(sessionID string) (planning.Progress, error) {
	plan, err := e.sessions.GetPlan(sessionID)
	if err != nil {
		return planning.Progress{}, err
	}
	return planning.ProgressOf(&plan), nil
}

// ConnectionTest is the upstream probe inside get_config_info.
type ConnectionTest struct {
	Status          string   `json:"status"`
	Message         string   `json:"message,omitempty"`
	ResponseTimeMS  int64    `json:"response_time_ms"`
	AvailableModels []string `json:"available_models,omitempty"`
}

// ConfigInfo is the get_config_info result. Credentials are masked.
type ConfigInfo struct {
	APIURL              string         `json:"api_url"`
	APIKey              string         `json:"api_key"`
	Model               string         `json:"model"`
	TavilyConfigured    bool           `json:"tavily_configured"`
	FirecrawlConfigured bool           `json:"firecrawl_configured"`
	RetryMaxAttempts    int            `json:"retry_max_attempts"`
	SessionTTLSeconds   int            `json:"session_ttl_seconds"`
	MaxSessions         int            `json:"max_sessions"`
	ConnectionTest      ConnectionTest `json:"connection_test"`
}

// Info reports the active configuration and probes the chat upstream.
func (e *Engine) Info(ctx context.Context) ConfigInfo {
	ctx, span := e.obs.StartSpan(ctx, "get_config_info")
	defer span.End()

	info := ConfigInfo{
		APIURL:              e.cfg.APIURL,
		APIKey:              config.MaskKey(e.cfg.APIKey),
		Model:               e.model.Current(),
		TavilyConfigured:    e.tavily != nil && e.tavily.Configured(),
		FirecrawlConfigured: e.fire != nil && e.fire.Configured(),
		RetryMaxAttempts:    e.cfg.RetryMaxAttempts,
		SessionTTLSeconds:   int(e.cfg.SessionTTL.Seconds()),
		MaxSessions:         e.cfg.MaxSessions,
	}

	if e.cfg.APIKey == "" {
		info.ConnectionTest = ConnectionTest{Status: "skipped", Message: "no API key configured"}
		return info
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	started := e.now()
	models, err := e.chat.Models(probeCtx)
	elapsed := e.now().Sub(started).Milliseconds()
	if err != nil {
		info.ConnectionTest = ConnectionTest{Status: "failed", Message: err.Error(), ResponseTimeMS: elapsed}
		return info
	}
	info.ConnectionTest = ConnectionTest{Status: "ok", ResponseTimeMS: elapsed, AvailableModels: models}
	return info
}

// SwitchOutcome is the switch_model result.
type SwitchOutcome struct {
	PreviousModel string `json:"previous_model"`
	CurrentModel  string `json:"current_model"`
	Error         string `json:"error,omitempty"`
	Message       string `json:"message,omitempty"`
}

// SwitchModel changes the default model for subsequent searches, validated
// against the upstream model list when it is reachable, and persists the
// choice so it survives restarts.
func (e *Engine) SwitchModel(ctx context.Context, model string) SwitchOutcome {
	ctx, span := e.obs.StartSpan(ctx, "switch_model")
	defer span.End()

	if model == "" {
		return SwitchOutcome{CurrentModel: e.model.Current(), Error: ErrCodeModel, Message: "model name is required"}
	}
	if available := e.availableModels(ctx); len(available) > 0 && !containsString(available, model) {
		return SwitchOutcome{CurrentModel: e.model.Current(), Error: ErrCodeModel, Message: "invalid model: " + model}
	}

	previous := e.model.Switch(model)
	if e.db != nil {
		if err := e.db.SetSetting("model", model); err != nil {
			e.obs.Log().Warn().Err(err).Msg("model persistence failed")
		}
	}
	e.obs.Log().Info().Str("previous", previous).Str("current", model).Msg("model switched")
	return SwitchOutcome{PreviousModel: previous, CurrentModel: model}
}

// SessionStats reports the conversation namespace.
func (e *Engine) SessionStats() session.Stats {
	return e.sessions.Stats()
}

// IsNotConfigured reports whether a fetch error means no extraction provider
// holds a credential.
func IsNotConfigured(err error) bool {
	return errors.Is(err, extract.ErrNotConfigured)
}

// IsEmptyExtraction reports whether a fetch ran the whole chain without
// usable content.
func IsEmptyExtraction(err error) bool {
	return errors.Is(err, extract.ErrEmpty)
}
