package planning

import (
	"errors"
	"testing"
	"time"

	"github.com/gudastudio/groksearch/internal/session"
)

func newPlan() *session.Plan {
	return &session.Plan{
		ID:        "plan-1",
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Phases:    make(map[string]session.PhaseRecord),
	}
}

func at() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

func submit(t *testing.T, p *session.Plan, phase string, data string) Progress {
	t.Helper()
	prog, err := SubmitPhase(p, Submission{Phase: phase, Thought: "t", Data: []byte(data)}, at())
	if err != nil {
		t.Fatalf("submit %s failed: %v", phase, err)
	}
	return prog
}

const (
	intentJSON = `{"core_question": "how does QUIC differ from TCP",
		"query_type": "comparative", "time_sensitivity": "irrelevant"}`
	level1JSON = `{"level": 1, "estimated_sub_queries": 2, "estimated_tool_calls": 3,
		"justification": "simple lookup"}`
	level3JSON = `{"level": 3, "estimated_sub_queries": 8, "estimated_tool_calls": 20,
		"justification": "multi-domain"}`
	decompJSON = `[{"id": "sq1", "goal": "protocol basics", "expected_output": "overview",
		"boundary": "no benchmarks"},
		{"id": "sq2", "goal": "benchmarks", "expected_output": "numbers",
		"boundary": "no basics", "depends_on": ["sq1"]}]`
	strategyJSON = `{"approach": "broad_first",
		"search_terms": [{"term": "quic vs tcp", "purpose": "sq1", "round": 1}]}`
	toolsJSON = `[{"sub_query_id": "sq1", "tool": "web_search", "reason": "discovery"}]`
	orderJSON = `{"parallel": [["sq1"]], "sequential": ["sq2"], "estimated_rounds": 2}`
)

func TestLevelOnePlanCompletesWithThreePhases(t *testing.T) {
	p := newPlan()

	prog := submit(t, p, PhaseIntent, intentJSON)
	if prog.PlanComplete {
		t.Fatal("plan cannot be complete before complexity assessment")
	}

	prog = submit(t, p, PhaseComplexity, level1JSON)
	if prog.ComplexityLevel != 1 {
		t.Fatalf("expected level 1, got %d", prog.ComplexityLevel)
	}
	if len(prog.PhasesRemaining) != 1 || prog.PhasesRemaining[0] != PhaseOrder {
		t.Fatalf("level 1 should only need execution_order, remaining: %v", prog.PhasesRemaining)
	}

	prog = submit(t, p, PhaseOrder, orderJSON)
	if !prog.PlanComplete {
		t.Fatalf("level 1 plan should be complete: %+v", prog)
	}
	if prog.ExecutablePlan == nil {
		t.Fatal("complete progress should carry the executable plan")
	}
	if _, ok := prog.ExecutablePlan[PhaseIntent].(Intent); !ok {
		t.Errorf("executable plan should hold typed payloads: %T", prog.ExecutablePlan[PhaseIntent])
	}
}

func TestLevelTwoRequiresDecompositionAndStrategy(t *testing.T) {
	p := newPlan()
	submit(t, p, PhaseIntent, intentJSON)
	prog := submit(t, p, PhaseComplexity,
		`{"level": 2, "estimated_sub_queries": 4, "estimated_tool_calls": 8, "justification": "moderate"}`)

	want := []string{PhaseDecomposition, PhaseStrategy, PhaseOrder}
	if len(prog.PhasesRemaining) != len(want) {
		t.Fatalf("remaining = %v, want %v", prog.PhasesRemaining, want)
	}
	for i, name := range want {
		if prog.PhasesRemaining[i] != name {
			t.Errorf("remaining[%d] = %s, want %s", i, prog.PhasesRemaining[i], name)
		}
	}
}

func TestLevelThreeRequiresAllSix(t *testing.T) {
	p := newPlan()
	submit(t, p, PhaseIntent, intentJSON)
	submit(t, p, PhaseComplexity, level3JSON)
	submit(t, p, PhaseDecomposition, decompJSON)
	submit(t, p, PhaseStrategy, strategyJSON)
	submit(t, p, PhaseTools, toolsJSON)

	prog := submit(t, p, PhaseOrder, orderJSON)
	if !prog.PlanComplete {
		t.Fatalf("all six phases submitted, plan should be complete: %+v", prog)
	}
	if len(prog.CompletedPhases) != 6 {
		t.Errorf("expected 6 completed phases, got %v", prog.CompletedPhases)
	}
}

func TestExecutionOrderRequiresPrerequisites(t *testing.T) {
	p := newPlan()
	_, err := SubmitPhase(p, Submission{Phase: PhaseOrder, Data: []byte(orderJSON)}, at())

	var inc *IncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	if len(inc.Missing) != 2 {
		t.Errorf("expected intent and complexity missing, got %v", inc.Missing)
	}
}

func TestRevision(t *testing.T) {
	p := newPlan()
	submit(t, p, PhaseIntent, intentJSON)
	submit(t, p, PhaseComplexity, level1JSON)

	// Revising a never-completed phase is rejected.
	_, err := SubmitPhase(p, Submission{
		Phase: PhaseStrategy, IsRevision: true, RevisesPhase: PhaseStrategy,
		Data: []byte(strategyJSON),
	}, at())
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// A valid revision supersedes the record and bumps the level.
	prog, err := SubmitPhase(p, Submission{
		Phase: PhaseComplexity, IsRevision: true, RevisesPhase: PhaseComplexity,
		Data: []byte(level3JSON), Thought: "reassessed",
	}, at().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if prog.ComplexityLevel != 3 {
		t.Errorf("revision should update level, got %d", prog.ComplexityLevel)
	}
	if p.Phases[PhaseComplexity].RevisedFrom != PhaseComplexity {
		t.Errorf("record should note what it revised: %+v", p.Phases[PhaseComplexity])
	}

	// The event log keeps both the original and the revision.
	if len(p.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(p.Events))
	}
	last := p.Events[len(p.Events)-1]
	if !last.IsRevision || last.Phase != PhaseComplexity {
		t.Errorf("unexpected final event: %+v", last)
	}
}

func TestUnknownPhaseRejected(t *testing.T) {
	p := newPlan()
	_, err := SubmitPhase(p, Submission{Phase: "vibes_check", Data: []byte(`{}`)}, at())
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestPayloadValidation(t *testing.T) {
	cases := []struct {
		name  string
		phase string
		data  string
	}{
		{"intent bad query_type", PhaseIntent,
			`{"core_question": "q", "query_type": "whimsical", "time_sensitivity": "recent"}`},
		{"intent unknown field", PhaseIntent,
			`{"core_question": "q", "query_type": "factual", "time_sensitivity": "recent", "mood": "sunny"}`},
		{"complexity level out of range", PhaseComplexity,
			`{"level": 4, "estimated_sub_queries": 2, "estimated_tool_calls": 2, "justification": "x"}`},
		{"decomposition dangling dependency", PhaseDecomposition,
			`[{"id": "sq1", "goal": "g", "expected_output": "o", "boundary": "b", "depends_on": ["sq9"]}]`},
		{"decomposition duplicate id", PhaseDecomposition,
			`[{"id": "sq1", "goal": "g", "expected_output": "o", "boundary": "b"},
			  {"id": "sq1", "goal": "g2", "expected_output": "o2", "boundary": "b2"}]`},
		{"strategy unknown approach", PhaseStrategy,
			`{"approach": "chaotic", "search_terms": [{"term": "x", "purpose": "sq1", "round": 1}]}`},
		{"tools unknown tool", PhaseTools,
			`[{"sub_query_id": "sq1", "tool": "crystal_ball", "reason": "r"}]`},
		{"order empty", PhaseOrder,
			`{"parallel": [], "sequential": [], "estimated_rounds": 1}`},
		{"missing payload", PhaseIntent, ``},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPlan()
			if tc.phase == PhaseOrder {
				submit(t, p, PhaseIntent, intentJSON)
				submit(t, p, PhaseComplexity, level1JSON)
			}
			var data []byte
			if tc.data != "" {
				data = []byte(tc.data)
			}
			_, err := SubmitPhase(p, Submission{Phase: tc.phase, Data: data}, at())
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestAssembleSealsPlan(t *testing.T) {
	p := newPlan()

	if _, err := AssemblePlan(p); err == nil {
		t.Fatal("assembling an empty plan must fail")
	}

	submit(t, p, PhaseIntent, intentJSON)
	submit(t, p, PhaseComplexity, level1JSON)

	_, err := AssemblePlan(p)
	var inc *IncompleteError
	if !errors.As(err, &inc) {
		t.Fatalf("expected IncompleteError, got %v", err)
	}
	if len(inc.Missing) != 1 || inc.Missing[0] != PhaseOrder {
		t.Errorf("unexpected missing list: %v", inc.Missing)
	}

	submit(t, p, PhaseOrder, orderJSON)
	plan, err := AssemblePlan(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 3 {
		t.Errorf("expected 3 phase payloads, got %d", len(plan))
	}
	if !p.Sealed {
		t.Error("assembly should seal the plan")
	}

	// Sealed plans reject further submissions but keep serving the plan.
	_, err = SubmitPhase(p, Submission{Phase: PhaseStrategy, Data: []byte(strategyJSON)}, at())
	if !errors.Is(err, ErrSealed) {
		t.Errorf("expected ErrSealed, got %v", err)
	}
	again, err := AssemblePlan(p)
	if err != nil || len(again) != 3 {
		t.Errorf("sealed plan should still assemble: %v %v", again, err)
	}
}

func TestConfidence(t *testing.T) {
	p := newPlan()
	if _, err := SubmitPhase(p, Submission{
		Phase: PhaseIntent, Data: []byte(intentJSON), Confidence: 0.4,
	}, at()); err != nil {
		t.Fatal(err)
	}
	if p.Phases[PhaseIntent].Confidence != 0.4 {
		t.Errorf("confidence not stored: %+v", p.Phases[PhaseIntent])
	}

	// Zero defaults to full confidence.
	submit(t, p, PhaseComplexity, level1JSON)
	if p.Phases[PhaseComplexity].Confidence != 1.0 {
		t.Errorf("zero confidence should default to 1.0: %+v", p.Phases[PhaseComplexity])
	}

	if _, err := SubmitPhase(p, Submission{
		Phase: PhaseStrategy, Data: []byte(strategyJSON), Confidence: 1.5,
	}, at()); err == nil {
		t.Error("confidence above 1 must be rejected")
	}
}
