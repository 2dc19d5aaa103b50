package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gudastudio/groksearch/internal/engine"
	"github.com/gudastudio/groksearch/internal/planning"
	"github.com/gudastudio/groksearch/internal/provider"
)

type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func toolList() []toolDef {
	return []toolDef{
		{
			Name:        "web_search",
			Description: "Search the web and return a cited answer. Returns a session_id for source retrieval and a conversation_id for followups.",
			InputSchema: schema([]string{"query"}, map[string]any{
				"query":         prop("string", "The search query"),
				"platform":      prop("string", "Optional platform to focus on, e.g. github or reddit"),
				"model":         prop("string", "Optional model override for this search"),
				"extra_sources": prop("integer", "Number of additional reference sources to gather, max 10"),
			}),
		},
		{
			Name:        "search_followup",
			Description: "Continue a prior search conversation with full context.",
			InputSchema: schema([]string{"query", "conversation_id"}, map[string]any{
				"query":           prop("string", "The followup question"),
				"conversation_id": prop("string", "The conversation_id from a previous search"),
				"extra_sources":   prop("integer", "Number of additional reference sources to gather, max 10"),
			}),
		},
		{
			Name:        "search_reflect",
			Description: "Search with reflection: finds gaps in the initial answer and runs bounded supplementary searches, optionally cross-validating the results.",
			InputSchema: schema([]string{"query"}, map[string]any{
				"query":           prop("string", "The search query"),
				"context":         prop("string", "Optional background to ground the gap analysis"),
				"max_reflections": prop("integer", "Reflection rounds, capped at 3"),
				"cross_validate":  prop("boolean", "Cross-check consistency across search rounds"),
				"extra_sources":   prop("integer", "Number of additional reference sources per round, max 10"),
			}),
		},
		{
			Name:        "get_sources",
			Description: "Return the cached source list for a search session_id.",
			InputSchema: schema([]string{"session_id"}, map[string]any{
				"session_id": prop("string", "The session_id returned by a search"),
			}),
		},
		{
			Name:        "web_fetch",
			Description: "Fetch a URL and return its content as markdown.",
			InputSchema: schema([]string{"url"}, map[string]any{
				"url": prop("string", "The URL to fetch"),
			}),
		},
		{
			Name:        "web_map",
			Description: "Discover the URL structure of a website.",
			InputSchema: schema([]string{"url"}, map[string]any{
				"url":          prop("string", "The root URL to map"),
				"instructions": prop("string", "Natural language guidance for the crawl"),
				"max_depth":    prop("integer", "Crawl depth limit"),
				"max_breadth":  prop("integer", "Links followed per level"),
				"limit":        prop("integer", "Total links to process"),
				"timeout":      prop("integer", "Timeout in seconds"),
			}),
		},
		{
			Name:        "search_planning",
			Description: "Build a research plan phase by phase. Submit intent_analysis and complexity_assessment first; the assessed level decides which further phases are required before execution_order completes the plan.",
			InputSchema: schema(nil, map[string]any{
				"session_id":    prop("string", "Planning session to continue; omit to start a new one"),
				"phase":         prop("string", "One of intent_analysis, complexity_assessment, query_decomposition, search_strategy, tool_selection, execution_order"),
				"thought":       prop("string", "Reasoning behind this submission"),
				"data":          map[string]any{"description": "The phase payload"},
				"is_revision":   prop("boolean", "Whether this revises a completed phase"),
				"revises_phase": prop("string", "The completed phase being revised"),
				"confidence":    prop("number", "Confidence in this submission, 0 to 1"),
				"assemble":      prop("boolean", "Assemble and seal the completed plan instead of submitting a phase"),
			}),
		},
		{
			Name:        "get_config_info",
			Description: "Show the active configuration with masked credentials and test upstream connectivity.",
			InputSchema: schema(nil, map[string]any{}),
		},
		{
			Name:        "switch_model",
			Description: "Change the default model for subsequent searches.",
			InputSchema: schema([]string{"model"}, map[string]any{
				"model": prop("string", "The model to switch to"),
			}),
		},
		{
			Name:        "get_session_stats",
			Description: "Show active search conversations and their limits.",
			InputSchema: schema(nil, map[string]any{}),
		},
	}
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (map[string]any, *rpcError) {
	var params callParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid tools/call params: " + err.Error()}
	}
	args := params.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	decode := func(v any) *rpcError {
		if err := json.Unmarshal(args, v); err != nil {
			return &rpcError{Code: codeInvalidParams, Message: "invalid arguments: " + err.Error()}
		}
		return nil
	}

	switch params.Name {
	case "web_search":
		var a struct {
			Query        string `json:"query"`
			Platform     string `json:"platform"`
			Model        string `json:"model"`
			ExtraSources int    `json:"extra_sources"`
		}
		if rpcErr := decode(&a); rpcErr != nil {
			return nil, rpcErr
		}
		if a.Query == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "query is required"}
		}
		out := s.eng.WebSearch(ctx, engine.SearchParams{
			Query: a.Query, Platform: a.Platform, Model: a.Model, ExtraSources: a.ExtraSources,
		})
		return toolResult(out, out.Error != ""), nil

	case "search_followup":
		var a struct {
			Query          string `json:"query"`
			ConversationID string `json:"conversation_id"`
			ExtraSources   int    `json:"extra_sources"`
		}
		if rpcErr := decode(&a); rpcErr != nil {
			return nil, rpcErr
		}
		if a.Query == "" || a.ConversationID == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "query and conversation_id are required"}
		}
		out := s.eng.Followup(ctx, a.Query, a.ConversationID, a.ExtraSources)
		return toolResult(out, out.Error != ""), nil

	case "search_reflect":
		var a struct {
			Query          string `json:"query"`
			Context        string `json:"context"`
			MaxReflections int    `json:"max_reflections"`
			CrossValidate  bool   `json:"cross_validate"`
			ExtraSources   int    `json:"extra_sources"`
		}
		if rpcErr := decode(&a); rpcErr != nil {
			return nil, rpcErr
		}
		if a.Query == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "query is required"}
		}
		out := s.eng.Reflect(ctx, engine.ReflectParams{
			Query: a.Query, Context: a.Context, MaxReflections: a.MaxReflections,
			CrossValidate: a.CrossValidate, ExtraSources: a.ExtraSources,
		})
		return toolResult(out, out.Error != ""), nil

	case "get_sources":
		var a struct {
			SessionID string `json:"session_id"`
		}
		if rpcErr := decode(&a); rpcErr != nil {
			return nil, rpcErr
		}
		if a.SessionID == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "session_id is required"}
		}
		out := s.eng.Sources(a.SessionID)
		return toolResult(out, out.Error != ""), nil

	case "web_fetch":
		var a struct {
			URL string `json:"url"`
		}
		if rpcErr := decode(&a); rpcErr != nil {
			return nil, rpcErr
		}
		if a.URL == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "url is required"}
		}
		content, _, err := s.eng.Fetch(ctx, a.URL)
		switch {
		case err == nil:
			return toolResult(content, false), nil
		case engine.IsNotConfigured(err):
			return toolResult("web_fetch needs TAVILY_API_KEY or FIRECRAWL_API_KEY configured", true), nil
		case engine.IsEmptyExtraction(err):
			return toolResult("no usable content could be extracted from "+a.URL, true), nil
		default:
			return toolResult("fetch failed: "+err.Error(), true), nil
		}

	case "web_map":
		var a struct {
			URL          string `json:"url"`
			Instructions string `json:"instructions"`
			MaxDepth     int    `json:"max_depth"`
			MaxBreadth   int    `json:"max_breadth"`
			Limit        int    `json:"limit"`
			Timeout      int    `json:"timeout"`
		}
		if rpcErr := decode(&a); rpcErr != nil {
			return nil, rpcErr
		}
		if a.URL == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "url is required"}
		}
		result, err := s.eng.Map(ctx, provider.MapRequest{
			URL: a.URL, Instructions: a.Instructions, MaxDepth: a.MaxDepth,
			MaxBreadth: a.MaxBreadth, Limit: a.Limit, Timeout: a.Timeout,
		})
		if err != nil {
			return toolResult("site map failed: "+err.Error(), true), nil
		}
		return toolResult(result, false), nil

	case "search_planning":
		return s.callPlanning(args)

	case "get_config_info":
		return toolResult(s.eng.Info(ctx), false), nil

	case "switch_model":
		var a struct {
			Model string `json:"model"`
		}
		if rpcErr := decode(&a); rpcErr != nil {
			return nil, rpcErr
		}
		out := s.eng.SwitchModel(ctx, a.Model)
		return toolResult(out, out.Error != ""), nil

	case "get_session_stats":
		return toolResult(s.eng.SessionStats(), false), nil

	default:
		return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown tool " + params.Name}
	}
}

func (s *Server) callPlanning(args json.RawMessage) (map[string]any, *rpcError) {
	var a struct {
		SessionID    string          `json:"session_id"`
		Phase        string          `json:"phase"`
		Thought      string          `json:"thought"`
		Data         json.RawMessage `json:"data"`
		IsRevision   bool            `json:"is_revision"`
		RevisesPhase string          `json:"revises_phase"`
		Confidence   float64         `json:"confidence"`
		Assemble     bool            `json:"assemble"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid arguments: " + err.Error()}
	}

	if a.Assemble {
		if a.SessionID == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "session_id is required to assemble a plan"}
		}
		plan, err := s.eng.AssemblePlan(a.SessionID)
		if err != nil {
			return toolResult(map[string]any{
				"session_id": a.SessionID,
				"error":      err.Error(),
			}, true), nil
		}
		return toolResult(map[string]any{
			"session_id":      a.SessionID,
			"executable_plan": plan,
		}, false), nil
	}

	if a.Phase == "" {
		if a.SessionID == "" {
			return nil, &rpcError{Code: codeInvalidParams, Message: "phase or session_id is required"}
		}
		prog, err := s.eng.PlanProgress(a.SessionID)
		if err != nil {
			return toolResult(map[string]any{"session_id": a.SessionID, "error": err.Error()}, true), nil
		}
		return toolResult(prog, false), nil
	}

	prog, err := s.eng.SubmitPhase(a.SessionID, planning.Submission{
		Phase:        a.Phase,
		Thought:      a.Thought,
		Data:         a.Data,
		IsRevision:   a.IsRevision,
		RevisesPhase: a.RevisesPhase,
		Confidence:   a.Confidence,
	})
	if err != nil {
		var ve *planning.ValidationError
		var inc *planning.IncompleteError
		switch {
		case errors.As(err, &ve), errors.As(err, &inc), errors.Is(err, planning.ErrSealed):
			return toolResult(map[string]any{"session_id": prog.SessionID, "error": err.Error()}, true), nil
		default:
			return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
		}
	}
	return toolResult(prog, false), nil
}
