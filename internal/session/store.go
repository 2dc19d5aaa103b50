// Package session is the single authority for all ephemeral keyed state:
// conversations, cached source lists, and planning sessions. Each kind lives
// in its own namespace with its own TTL and capacity policy, so an identifier
// collision across namespaces cannot cause cross-contamination.
package session

import (
	"context"
	"sync"
	"time"
)

// Config bounds each namespace. Zero max values mean unbounded.
type Config struct {
	ConversationTTL  time.Duration
	MaxConversations int
	MaxTurns         int // per-conversation search ceiling

	SourceTTL     time.Duration
	MaxSourceSets int

	PlanTTL  time.Duration
	MaxPlans int
}

// Store holds all session state in memory. Entries are copied on read; the
// only mutation paths are the methods below, serialized by the store lock.
type Store struct {
	mu            sync.Mutex
	cfg           Config
	conversations *bucket[*Conversation]
	sources       *bucket[[]Source]
	plans         *bucket[*Plan]

	now func() time.Time
}

// New creates an empty store. Conversations use sliding expiry; source
// caches and plans keep the fixed expiry set at creation.
func New(cfg Config) *Store {
	return &Store{
		cfg:           cfg,
		conversations: newBucket[*Conversation](cfg.ConversationTTL, cfg.MaxConversations, true),
		sources:       newBucket[[]Source](cfg.SourceTTL, cfg.MaxSourceSets, false),
		plans:         newBucket[*Plan](cfg.PlanTTL, cfg.MaxPlans, false),
		now:           time.Now,
	}
}

// StartSweeper runs a periodic eviction sweep across all namespaces until
// ctx is cancelled. Opportunistic sweeps still happen on every put.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.EvictExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// EvictExpired removes expired entries from every namespace.
func (s *Store) EvictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.conversations.sweep(now)
	s.sources.sweep(now)
	s.plans.sweep(now)
}

// --- Conversations ---

// CreateConversation registers a fresh conversation and returns its ID.
func (s *Store) CreateConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	id := NewID()
	s.conversations.put(id, &Conversation{
		ID:         id,
		CreatedAt:  now,
		LastUsedAt: now,
	}, now)
	return id
}

// GetConversation returns a copy of the conversation. Reading slides the
// entry's expiry. Returns ErrNotFound or ErrExpired on a miss.
func (s *Store) GetConversation(id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, err := s.conversations.get(id, s.now())
	if err != nil {
		return Conversation{}, err
	}
	return copyConversation(conv), nil
}

// BeginTurn atomically claims the next turn of a conversation: it checks the
// per-session search ceiling, increments the turn count, and records the user
// message. On ErrCapacityExceeded the conversation is left unchanged. The
// returned history excludes the new user message so the caller can hand
// (history, query) to the provider separately.
func (s *Store) BeginTurn(id, query string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	conv, err := s.conversations.get(id, now)
	if err != nil {
		return nil, err
	}
	if s.cfg.MaxTurns > 0 && conv.TurnCount >= s.cfg.MaxTurns {
		return nil, ErrCapacityExceeded
	}
	history := make([]Message, len(conv.Messages))
	copy(history, conv.Messages)

	conv.TurnCount++
	conv.LastUsedAt = now
	conv.Messages = append(conv.Messages, Message{Role: "user", Content: query})
	return history, nil
}

// CompleteTurn records the assistant answer for the turn opened by BeginTurn.
// A vanished conversation (evicted mid-flight) is not an error: the answer is
// simply not retained.
func (s *Store) CompleteTurn(id, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	conv, err := s.conversations.get(id, now)
	if err != nil {
		return
	}
	conv.LastUsedAt = now
	conv.Messages = append(conv.Messages, Message{Role: "assistant", Content: answer})
}

// RemoveConversation drops a conversation explicitly.
func (s *Store) RemoveConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations.delete(id)
}

// Stats reports the live conversation namespace.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.conversations.sweep(now)

	out := Stats{
		ActiveSessions: s.conversations.len(),
		MaxSessions:    s.cfg.MaxConversations,
		TTLSeconds:     int(s.cfg.ConversationTTL.Seconds()),
	}
	for _, id := range s.conversations.keysSorted() {
		e := s.conversations.entries[id]
		out.Sessions = append(out.Sessions, ConversationStat{
			SessionID:   id,
			TurnCount:   e.value.TurnCount,
			AgeSeconds:  int(now.Sub(e.value.CreatedAt).Seconds()),
			IdleSeconds: int(now.Sub(e.value.LastUsedAt).Seconds()),
		})
	}
	return out
}

// --- Source caches ---

// PutSources caches the source list produced by one search round. A session
// ID is written once by the operation that created it and read-only after.
func (s *Store) PutSources(sessionID string, sources []Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Source, len(sources))
	copy(cp, sources)
	s.sources.put(sessionID, cp, s.now())
}

// GetSources returns a copy of the cached sources. Fixed expiry: reading
// does not extend the entry's life.
func (s *Store) GetSources(sessionID string) ([]Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sources, err := s.sources.get(sessionID, s.now())
	if err != nil {
		return nil, err
	}
	cp := make([]Source, len(sources))
	copy(cp, sources)
	return cp, nil
}

// --- Planning sessions ---

// GetOrCreatePlan returns a copy of the plan for id, creating it (with a
// fresh ID when id is empty) on first use.
func (s *Store) GetOrCreatePlan(id string) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if id != "" {
		if p, err := s.plans.get(id, now); err == nil {
			return copyPlan(p), nil
		}
	}
	if id == "" {
		id = NewID()
	}
	p := &Plan{
		ID:        id,
		CreatedAt: now,
		Phases:    make(map[string]PhaseRecord),
	}
	s.plans.put(id, p, now)
	return copyPlan(p), nil
}

// GetPlan returns a copy of an existing plan.
func (s *Store) GetPlan(id string) (Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.plans.get(id, s.now())
	if err != nil {
		return Plan{}, err
	}
	return copyPlan(p), nil
}

// UpdatePlan applies fn to the stored plan under the store lock. fn receives
// the live record; the same per-key mutation discipline as conversations.
func (s *Store) UpdatePlan(id string, fn func(*Plan) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.plans.get(id, s.now())
	if err != nil {
		return err
	}
	return fn(p)
}

func copyConversation(c *Conversation) Conversation {
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return cp
}

func copyPlan(p *Plan) Plan {
	cp := *p
	cp.Phases = make(map[string]PhaseRecord, len(p.Phases))
	for k, v := range p.Phases {
		cp.Phases[k] = v
	}
	cp.Events = make([]PhaseEvent, len(p.Events))
	copy(cp.Events, p.Events)
	return cp
}
