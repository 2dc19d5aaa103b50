package planning

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Typed payloads, one per phase. Submissions arrive as raw JSON and must
// decode into the shape for their phase; anything else is rejected with a
// ValidationError rather than stored opaquely.

type Intent struct {
	CoreQuestion    string   `json:"core_question"`
	QueryType       string   `json:"query_type"`
	TimeSensitivity string   `json:"time_sensitivity"`
	Domain          string   `json:"domain,omitempty"`
	PremiseValid    *bool    `json:"premise_valid,omitempty"`
	Ambiguities     []string `json:"ambiguities,omitempty"`
}

type Complexity struct {
	Level               int    `json:"level"`
	EstimatedSubQueries int    `json:"estimated_sub_queries"`
	EstimatedToolCalls  int    `json:"estimated_tool_calls"`
	Justification       string `json:"justification"`
}

type SubQuery struct {
	ID             string   `json:"id"`
	Goal           string   `json:"goal"`
	ExpectedOutput string   `json:"expected_output"`
	ToolHint       string   `json:"tool_hint,omitempty"`
	Boundary       string   `json:"boundary"`
	DependsOn      []string `json:"depends_on,omitempty"`
}

type SearchTerm struct {
	Term    string `json:"term"`
	Purpose string `json:"purpose"`
	Round   int    `json:"round"`
}

type Strategy struct {
	Approach     string       `json:"approach"`
	SearchTerms  []SearchTerm `json:"search_terms"`
	FallbackPlan string       `json:"fallback_plan,omitempty"`
}

type ToolPlanItem struct {
	SubQueryID string         `json:"sub_query_id"`
	Tool       string         `json:"tool"`
	Reason     string         `json:"reason"`
	Params     map[string]any `json:"params,omitempty"`
}

type ExecutionOrder struct {
	Parallel        [][]string `json:"parallel"`
	Sequential      []string   `json:"sequential"`
	EstimatedRounds int        `json:"estimated_rounds"`
}

// ValidationError rejects a submission whose payload or targeting is wrong.
type ValidationError struct {
	Phase  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s submission: %s", e.Phase, e.Reason)
}

var (
	queryTypes       = map[string]bool{"factual": true, "comparative": true, "exploratory": true, "analytical": true}
	timeSensitivities = map[string]bool{"realtime": true, "recent": true, "historical": true, "irrelevant": true}
	approaches       = map[string]bool{"broad_first": true, "narrow_first": true, "targeted": true}
	tools            = map[string]bool{"web_search": true, "web_fetch": true, "web_map": true}
)

// decodePayload parses and validates raw JSON into the typed payload for a
// phase.
func decodePayload(phase string, raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, &ValidationError{Phase: phase, Reason: "payload is required"}
	}

	strict := func(v any) error {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return &ValidationError{Phase: phase, Reason: err.Error()}
		}
		return nil
	}

	switch phase {
	case PhaseIntent:
		var v Intent
		if err := strict(&v); err != nil {
			return nil, err
		}
		if v.CoreQuestion == "" {
			return nil, &ValidationError{Phase: phase, Reason: "core_question is required"}
		}
		if !queryTypes[v.QueryType] {
			return nil, &ValidationError{Phase: phase, Reason: "unknown query_type " + v.QueryType}
		}
		if !timeSensitivities[v.TimeSensitivity] {
			return nil, &ValidationError{Phase: phase, Reason: "unknown time_sensitivity " + v.TimeSensitivity}
		}
		return v, nil

	case PhaseComplexity:
		var v Complexity
		if err := strict(&v); err != nil {
			return nil, err
		}
		if v.Level < 1 || v.Level > 3 {
			return nil, &ValidationError{Phase: phase, Reason: fmt.Sprintf("level must be 1-3, got %d", v.Level)}
		}
		if v.EstimatedSubQueries < 1 || v.EstimatedSubQueries > 20 {
			return nil, &ValidationError{Phase: phase, Reason: "estimated_sub_queries must be 1-20"}
		}
		if v.EstimatedToolCalls < 1 || v.EstimatedToolCalls > 50 {
			return nil, &ValidationError{Phase: phase, Reason: "estimated_tool_calls must be 1-50"}
		}
		return v, nil

	case PhaseDecomposition:
		var v []SubQuery
		if err := strict(&v); err != nil {
			return nil, err
		}
		if len(v) == 0 {
			return nil, &ValidationError{Phase: phase, Reason: "at least one sub-query is required"}
		}
		ids := make(map[string]bool, len(v))
		for _, sq := range v {
			if sq.ID == "" || sq.Goal == "" {
				return nil, &ValidationError{Phase: phase, Reason: "sub-query id and goal are required"}
			}
			if ids[sq.ID] {
				return nil, &ValidationError{Phase: phase, Reason: "duplicate sub-query id " + sq.ID}
			}
			ids[sq.ID] = true
		}
		for _, sq := range v {
			for _, dep := range sq.DependsOn {
				if !ids[dep] {
					return nil, &ValidationError{Phase: phase, Reason: "sub-query " + sq.ID + " depends on unknown " + dep}
				}
			}
		}
		return v, nil

	case PhaseStrategy:
		var v Strategy
		if err := strict(&v); err != nil {
			return nil, err
		}
		if !approaches[v.Approach] {
			return nil, &ValidationError{Phase: phase, Reason: "unknown approach " + v.Approach}
		}
		if len(v.SearchTerms) == 0 {
			return nil, &ValidationError{Phase: phase, Reason: "at least one search term is required"}
		}
		for _, st := range v.SearchTerms {
			if st.Term == "" || st.Round < 1 {
				return nil, &ValidationError{Phase: phase, Reason: "search terms need a term and a round >= 1"}
			}
		}
		return v, nil

	case PhaseTools:
		var v []ToolPlanItem
		if err := strict(&v); err != nil {
			return nil, err
		}
		if len(v) == 0 {
			return nil, &ValidationError{Phase: phase, Reason: "at least one tool assignment is required"}
		}
		for _, item := range v {
			if !tools[item.Tool] {
				return nil, &ValidationError{Phase: phase, Reason: "unknown tool " + item.Tool}
			}
			if item.SubQueryID == "" {
				return nil, &ValidationError{Phase: phase, Reason: "sub_query_id is required"}
			}
		}
		return v, nil

	case PhaseOrder:
		var v ExecutionOrder
		if err := strict(&v); err != nil {
			return nil, err
		}
		if v.EstimatedRounds < 1 {
			return nil, &ValidationError{Phase: phase, Reason: "estimated_rounds must be >= 1"}
		}
		if len(v.Parallel) == 0 && len(v.Sequential) == 0 {
			return nil, &ValidationError{Phase: phase, Reason: "an execution order needs parallel groups or a sequence"}
		}
		return v, nil

	default:
		return nil, &ValidationError{Phase: phase, Reason: "unrecognized phase"}
	}
}
