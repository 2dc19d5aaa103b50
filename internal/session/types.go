package session

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound means the key never existed in the namespace.
var ErrNotFound = errors.New("session not found")

// ErrExpired means the entry existed but its TTL has passed. Callers should
// start a fresh conversation rather than retry the same identifier.
var ErrExpired = errors.New("session expired")

// ErrCapacityExceeded means a per-session ceiling was hit (turn count).
var ErrCapacityExceeded = errors.New("session capacity exceeded")

// NewID returns an opaque 12-character identifier. All namespaces use the
// same format but identifiers never cross namespaces.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])[:12]
}

// Message is one turn in a conversation, replayed to the search provider as
// context for follow-ups.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is the provider-side context for multi-turn follow-up.
type Conversation struct {
	ID         string
	CreatedAt  time.Time
	LastUsedAt time.Time
	TurnCount  int
	Messages   []Message
}

// Source is one reference backing a search answer.
type Source struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

// PhaseRecord is the latest accepted submission for one planning phase.
type PhaseRecord struct {
	Phase       string
	Thought     string
	Data        any
	Confidence  float64
	RevisedFrom string
}

// PhaseEvent is one entry in a plan's append-only completion log. Revisions
// append a new event; earlier events are retained for auditability.
type PhaseEvent struct {
	Phase      string
	IsRevision bool
	At         time.Time
}

// Plan accumulates phase submissions for one planning session.
type Plan struct {
	ID              string
	CreatedAt       time.Time
	Phases          map[string]PhaseRecord
	Events          []PhaseEvent
	ComplexityLevel int
	Sealed          bool
}

// ConversationStat is one row in the conversation-store report.
type ConversationStat struct {
	SessionID   string `json:"session_id"`
	TurnCount   int    `json:"search_count"`
	AgeSeconds  int    `json:"age_seconds"`
	IdleSeconds int    `json:"idle_seconds"`
}

// Stats summarizes the conversation namespace.
type Stats struct {
	ActiveSessions int                `json:"active_sessions"`
	MaxSessions    int                `json:"max_sessions"`
	TTLSeconds     int                `json:"session_timeout_seconds"`
	Sessions       []ConversationStat `json:"sessions"`
}
