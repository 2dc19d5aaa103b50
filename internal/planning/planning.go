// Package planning is a pure, upstream-free accumulator for a six-phase
// research plan. Phases carry typed payloads, complete out of order within
// their dependency constraints, and support revision of already-completed
// phases. Which phases are mandatory follows the assessed complexity level.
package planning

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gudastudio/groksearch/internal/session"
)

// Phase names in dependency order.
const (
	PhaseIntent        = "intent_analysis"
	PhaseComplexity    = "complexity_assessment"
	PhaseDecomposition = "query_decomposition"
	PhaseStrategy      = "search_strategy"
	PhaseTools         = "tool_selection"
	PhaseOrder         = "execution_order"
)

var PhaseNames = []string{
	PhaseIntent, PhaseComplexity, PhaseDecomposition,
	PhaseStrategy, PhaseTools, PhaseOrder,
}

// ErrSealed rejects writes to a plan that has already been assembled.
var ErrSealed = errors.New("plan already assembled")

// IncompleteError reports which required phases are still missing.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return "plan incomplete, missing phases: " + strings.Join(e.Missing, ", ")
}

// Submission is one phase submission or revision.
type Submission struct {
	Phase        string
	Thought      string
	Data         []byte // raw JSON payload for the phase
	IsRevision   bool
	RevisesPhase string
	Confidence   float64
}

// Progress is the completion status after a submission or on inspection.
type Progress struct {
	SessionID       string         `json:"session_id"`
	CompletedPhases []string       `json:"completed_phases"`
	ComplexityLevel int            `json:"complexity_level,omitempty"`
	PlanComplete    bool           `json:"plan_complete"`
	PhasesRemaining []string       `json:"phases_remaining,omitempty"`
	ExecutablePlan  map[string]any `json:"executable_plan,omitempty"`
}

// requiredPhases returns the mandatory set for a complexity level. An
// unassessed plan (level 0) requires everything, so completion is impossible
// before complexity_assessment lands. execution_order is always the terminal
// required phase.
func requiredPhases(level int) map[string]bool {
	req := map[string]bool{PhaseIntent: true, PhaseComplexity: true, PhaseOrder: true}
	switch level {
	case 1:
	case 2:
		req[PhaseDecomposition] = true
		req[PhaseStrategy] = true
	default:
		for _, p := range PhaseNames {
			req[p] = true
		}
	}
	return req
}

// SubmitPhase validates and records one submission against the plan. The
// plan is mutated in place; callers hold it via the session store's update
// path.
func SubmitPhase(p *session.Plan, sub Submission, now time.Time) (Progress, error) {
	if p.Sealed {
		return Progress{}, ErrSealed
	}

	target := sub.Phase
	if sub.IsRevision {
		if sub.RevisesPhase == "" {
			return Progress{}, &ValidationError{Phase: sub.Phase, Reason: "revision must name the phase it revises"}
		}
		if _, done := p.Phases[sub.RevisesPhase]; !done {
			return Progress{}, &ValidationError{Phase: sub.RevisesPhase, Reason: "cannot revise a phase that was never completed"}
		}
		target = sub.RevisesPhase
	}
	if !knownPhase(target) {
		return Progress{}, &ValidationError{
			Phase:  target,
			Reason: fmt.Sprintf("unknown phase, valid: %s", strings.Join(PhaseNames, ", ")),
		}
	}

	// execution_order depends on the intent and complexity judgments.
	if target == PhaseOrder {
		var missing []string
		for _, dep := range []string{PhaseIntent, PhaseComplexity} {
			if _, done := p.Phases[dep]; !done {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			return Progress{}, &IncompleteError{Missing: missing}
		}
	}

	data, err := decodePayload(target, sub.Data)
	if err != nil {
		return Progress{}, err
	}

	confidence := sub.Confidence
	if confidence == 0 {
		confidence = 1.0
	}
	if confidence < 0 || confidence > 1 {
		return Progress{}, &ValidationError{Phase: target, Reason: "confidence must be within [0, 1]"}
	}

	record := session.PhaseRecord{
		Phase:      target,
		Thought:    sub.Thought,
		Data:       data,
		Confidence: confidence,
	}
	if sub.IsRevision {
		record.RevisedFrom = sub.RevisesPhase
	}
	p.Phases[target] = record
	p.Events = append(p.Events, session.PhaseEvent{Phase: target, IsRevision: sub.IsRevision, At: now})

	if target == PhaseComplexity {
		if c, ok := data.(Complexity); ok {
			p.ComplexityLevel = c.Level
		}
	}

	return ProgressOf(p), nil
}

// ProgressOf reports the plan's completion status without mutating it.
func ProgressOf(p *session.Plan) Progress {
	prog := Progress{
		SessionID:       p.ID,
		ComplexityLevel: p.ComplexityLevel,
		CompletedPhases: completedPhases(p),
	}

	required := requiredPhases(p.ComplexityLevel)
	for _, name := range PhaseNames {
		if !required[name] {
			continue
		}
		if _, done := p.Phases[name]; !done {
			prog.PhasesRemaining = append(prog.PhasesRemaining, name)
		}
	}
	prog.PlanComplete = p.ComplexityLevel != 0 && len(prog.PhasesRemaining) == 0
	if prog.PlanComplete {
		prog.ExecutablePlan = buildExecutablePlan(p)
	}
	return prog
}

// AssemblePlan merges the latest payload of every completed phase into the
// executable plan and seals the session against further writes. Fails with
// IncompleteError while required phases are missing.
func AssemblePlan(p *session.Plan) (map[string]any, error) {
	if p.Sealed {
		return buildExecutablePlan(p), nil
	}
	prog := ProgressOf(p)
	if !prog.PlanComplete {
		return nil, &IncompleteError{Missing: prog.PhasesRemaining}
	}
	p.Sealed = true
	return prog.ExecutablePlan, nil
}

func buildExecutablePlan(p *session.Plan) map[string]any {
	plan := make(map[string]any, len(p.Phases))
	for name, record := range p.Phases {
		plan[name] = record.Data
	}
	return plan
}

func completedPhases(p *session.Plan) []string {
	var done []string
	for _, name := range PhaseNames {
		if _, ok := p.Phases[name]; ok {
			done = append(done, name)
		}
	}
	return done
}

func knownPhase(name string) bool {
	for _, p := range PhaseNames {
		if p == name {
			return true
		}
	}
	return false
}
