// Package reflectloop runs reflection-enhanced search: an initial search,
// then bounded rounds of gap analysis each feeding a supplementary search,
// then an optional cross-validation pass over everything gathered. Every
// transition rechecks the wall-clock budget so a slow upstream can shorten
// the loop but never extend it.
package reflectloop

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Hard budget ceilings. Caller-supplied budgets are clamped to these.
const (
	HardMaxReflections = 3
	MaxExtraSources    = 10

	historyTruncationChars = 4000
	minRemaining           = 5 * time.Second
)

// SearchResult is what one search round hands back to the loop.
type SearchResult struct {
	SessionID      string
	ConversationID string
	Content        string
	SourcesCount   int
}

// Searcher runs one search round. An empty conversationID starts a fresh
// conversation; the loop reuses the ID from the initial round for
// supplementary searches so they share history.
type Searcher func(ctx context.Context, query string, extraSources int, conversationID string) (SearchResult, error)

// Analyst produces the reflection and validation judgments as raw JSON text;
// the loop parses both leniently.
type Analyst interface {
	Reflect(ctx context.Context, query, findings string) (string, error)
	Validate(ctx context.Context, query, findings string) (string, error)
}

// Budgets bounds one run. Zero values fall back to the package defaults.
type Budgets struct {
	SearchTimeout  time.Duration
	ReflectTimeout time.Duration
	Total          time.Duration
}

func (b Budgets) withDefaults() Budgets {
	if b.SearchTimeout <= 0 {
		b.SearchTimeout = 60 * time.Second
	}
	if b.ReflectTimeout <= 0 {
		b.ReflectTimeout = 30 * time.Second
	}
	if b.Total <= 0 {
		b.Total = 120 * time.Second
	}
	return b
}

// Request is one reflection-enhanced search.
type Request struct {
	Query          string
	Context        string // optional background prepended to the findings
	MaxReflections int
	CrossValidate  bool
	ExtraSources   int
}

// RoundLog records one reflection round's judgment.
type RoundLog struct {
	Round              int    `json:"round"`
	Gap                string `json:"gap,omitempty"`
	SupplementaryQuery string `json:"supplementary_query,omitempty"`
}

// RoundSession maps a search round to the source-cache session it produced.
type RoundSession struct {
	Round     int    `json:"round"`
	Query     string `json:"query"`
	SessionID string `json:"session_id"`
}

// Validation is the cross-validation verdict.
type Validation struct {
	Consistency string   `json:"consistency"`
	Conflicts   []string `json:"conflicts"`
	Confidence  float64  `json:"confidence"`
}

// Result is the assembled outcome of a run.
type Result struct {
	SessionID      string         `json:"session_id"`
	ConversationID string         `json:"conversation_id"`
	Content        string         `json:"content"`
	ReflectionLog  []RoundLog     `json:"reflection_log"`
	RoundSessions  []RoundSession `json:"round_sessions"`
	SourcesCount   int            `json:"sources_count"`
	SearchRounds   int            `json:"search_rounds"`
	Validation     *Validation    `json:"validation,omitempty"`
}

// state names the loop's position. step is the single transition function:
// searching -> reflecting -> ... -> validating -> done, with reflecting
// re-entered once per round.
type state int

const (
	stateSearching state = iota
	stateReflecting
	stateValidating
	stateDone
)

type Controller struct {
	search  Searcher
	analyst Analyst
	budgets Budgets

	now func() time.Time
}

func New(search Searcher, analyst Analyst, budgets Budgets) *Controller {
	return &Controller{
		search:  search,
		analyst: analyst,
		budgets: budgets.withDefaults(),
		now:     time.Now,
	}
}

// supplement pairs a supplementary answer with the gap that prompted it, so
// assembly stays correct even when some rounds produced no answer.
type supplement struct {
	round  int
	gap    string
	answer string
}

// run holds one execution's mutable loop data; the state methods below read
// and write it as the transition function drives them.
type run struct {
	c   *Controller
	ctx context.Context
	req Request

	maxReflections int
	extraSources   int
	start          time.Time

	res         Result
	findings    string
	answers     []string
	supplements []supplement
	round       int
	err         error
}

func (r *run) remaining() time.Duration {
	return r.c.budgets.Total - r.c.now().Sub(r.start)
}

// Run executes the loop. Only the initial search can fail the run; later
// rounds degrade to whatever was gathered before the failure.
func (c *Controller) Run(ctx context.Context, req Request) (Result, error) {
	r := &run{
		c:              c,
		ctx:            ctx,
		req:            req,
		maxReflections: req.MaxReflections,
		extraSources:   req.ExtraSources,
		start:          c.now(),
	}
	if r.maxReflections > HardMaxReflections {
		r.maxReflections = HardMaxReflections
	}
	if r.extraSources > MaxExtraSources {
		r.extraSources = MaxExtraSources
	}

	for st := stateSearching; st != stateDone; {
		st = r.step(st)
	}
	if r.err != nil {
		return Result{}, r.err
	}
	r.res.Content = assemble(r.answers[0], r.supplements)
	return r.res, nil
}

// step is the transition function.
func (r *run) step(st state) state {
	switch st {
	case stateSearching:
		return r.searchInitial()
	case stateReflecting:
		return r.reflectRound()
	case stateValidating:
		return r.validateAnswers()
	default:
		return stateDone
	}
}

func (r *run) searchInitial() state {
	initial, err := r.c.timedSearch(r.ctx, r.req.Query, r.extraSources, "", r.c.budgets.SearchTimeout)
	if err != nil {
		r.err = fmt.Errorf("initial search failed: %w", err)
		return stateDone
	}

	r.res = Result{
		SessionID:      initial.SessionID,
		ConversationID: initial.ConversationID,
		SourcesCount:   initial.SourcesCount,
		SearchRounds:   1,
		RoundSessions:  []RoundSession{{Round: 0, Query: r.req.Query, SessionID: initial.SessionID}},
	}
	r.findings = initial.Content
	if r.req.Context != "" {
		r.findings = "Background:\n" + r.req.Context + "\n\nSearch answer:\n" + initial.Content
	}
	r.answers = []string{initial.Content}
	r.round = 1
	return stateReflecting
}

// reflectRound runs one reflection judgment and, when a gap is found, its
// supplementary search. A failed supplementary search consumes the round;
// everything else that goes wrong ends the loop.
func (r *run) reflectRound() state {
	if r.round > r.maxReflections || r.remaining() <= 0 {
		return stateValidating
	}

	reflection, err := r.c.reflect(r.ctx, r.req.Query, truncate(r.findings, historyTruncationChars), r.remaining())
	if err != nil {
		r.res.ReflectionLog = append(r.res.ReflectionLog, RoundLog{Round: r.round, Gap: "reflection timed out"})
		return stateValidating
	}
	if reflection.Gap == "" || reflection.SupplementaryQuery == "" {
		// Nothing missing; stop early.
		r.res.ReflectionLog = append(r.res.ReflectionLog, RoundLog{Round: r.round})
		return stateValidating
	}
	r.res.ReflectionLog = append(r.res.ReflectionLog, RoundLog{
		Round:              r.round,
		Gap:                reflection.Gap,
		SupplementaryQuery: reflection.SupplementaryQuery,
	})

	if r.remaining() < minRemaining {
		return stateValidating
	}

	timeout := r.c.budgets.SearchTimeout
	if rem := r.remaining(); rem < timeout {
		timeout = rem
	}
	supp, err := r.c.timedSearch(r.ctx, reflection.SupplementaryQuery, r.extraSources, r.res.ConversationID, timeout)
	if err != nil {
		// The round is spent; later rounds may still recover.
		r.round++
		return stateReflecting
	}

	r.res.SourcesCount += supp.SourcesCount
	r.res.SearchRounds++
	r.res.RoundSessions = append(r.res.RoundSessions, RoundSession{
		Round: r.round, Query: reflection.SupplementaryQuery, SessionID: supp.SessionID,
	})
	r.answers = append(r.answers, supp.Content)
	r.supplements = append(r.supplements, supplement{round: r.round, gap: reflection.Gap, answer: supp.Content})
	r.findings += "\n\nSupplementary results:\n" + supp.Content
	r.round++
	return stateReflecting
}

func (r *run) validateAnswers() state {
	if r.req.CrossValidate && len(r.answers) > 1 && r.remaining() > minRemaining {
		r.res.Validation = r.c.validate(r.ctx, r.req.Query, r.answers, r.remaining())
	}
	return stateDone
}

func (c *Controller) timedSearch(ctx context.Context, query string, extraSources int, conversationID string, timeout time.Duration) (SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.search(ctx, query, extraSources, conversationID)
}

type reflection struct {
	Gap                string `json:"gap"`
	SupplementaryQuery string `json:"supplementary_query"`
}

func (c *Controller) reflect(ctx context.Context, query, findings string, remaining time.Duration) (reflection, error) {
	timeout := c.budgets.ReflectTimeout
	if remaining < timeout {
		timeout = remaining
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := c.analyst.Reflect(ctx, query, findings)
	if err != nil {
		return reflection{}, err
	}
	var out reflection
	// An unparseable judgment reads as "no gap found".
	decodeLenient(raw, &out)
	return out, nil
}

func (c *Controller) validate(ctx context.Context, query string, answers []string, remaining time.Duration) *Validation {
	timeout := c.budgets.ReflectTimeout
	if remaining < timeout {
		timeout = remaining
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var joined strings.Builder
	for i, a := range answers {
		if i > 0 {
			joined.WriteString("\n\n---\n")
		}
		fmt.Fprintf(&joined, "[Search result %d]:\n%s", i+1, truncate(a, 1500))
	}

	raw, err := c.analyst.Validate(ctx, query, joined.String())
	if err != nil {
		return &Validation{Consistency: "unknown", Conflicts: []string{"validation timed out"}}
	}
	v := Validation{Consistency: "unknown"}
	if !decodeLenient(raw, &v) {
		return &Validation{Consistency: "unknown", Conflicts: []string{"validation response unreadable"}}
	}
	return &v
}

func assemble(initial string, supplements []supplement) string {
	if len(supplements) == 0 {
		return initial
	}
	var b strings.Builder
	b.WriteString(initial)
	for _, s := range supplements {
		fmt.Fprintf(&b, "\n\n---\n**Supplement (Round %d)** — %s:\n%s", s.round, s.gap, s.answer)
	}
	return b.String()
}

func truncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + fmt.Sprintf("\n...[truncated, %d chars total]", len(text))
}

var (
	fencedBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\n?(.*?)\n?```")
	braceGroupPattern  = regexp.MustCompile(`(?s)\{[^{}]*\}`)
)

// decodeLenient parses model JSON output that may arrive bare, fenced, or
// buried in prose: direct parse first, then the first fenced block, then the
// first balanced brace group.
func decodeLenient(text string, v any) bool {
	text = strings.TrimSpace(text)
	if json.Unmarshal([]byte(text), v) == nil {
		return true
	}
	if m := fencedBlockPattern.FindStringSubmatch(text); m != nil {
		if json.Unmarshal([]byte(strings.TrimSpace(m[1])), v) == nil {
			return true
		}
	}
	if m := braceGroupPattern.FindString(text); m != "" {
		if json.Unmarshal([]byte(m), v) == nil {
			return true
		}
	}
	return false
}
