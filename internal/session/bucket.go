package session

import (
	"sort"
	"time"
)

// entry wraps a stored value with its retention bookkeeping.
type entry[T any] struct {
	value     T
	createdAt time.Time
	lastUsed  time.Time
	expiresAt time.Time
}

// bucket is one namespace of the store: a keyed map with TTL and capacity
// eviction. A sliding bucket refreshes expiry on read; a fixed bucket keeps
// the expiry set at creation. All methods must be called under the owning
// Store's lock.
type bucket[T any] struct {
	entries map[string]*entry[T]
	ttl     time.Duration
	max     int
	sliding bool
}

func newBucket[T any](ttl time.Duration, max int, sliding bool) *bucket[T] {
	return &bucket[T]{
		entries: make(map[string]*entry[T]),
		ttl:     ttl,
		max:     max,
		sliding: sliding,
	}
}

// put inserts or overwrites, resetting expiry to now+ttl. If the insert would
// exceed capacity, the least-recently-used entry (sliding buckets) or the
// oldest entry (fixed buckets) is evicted first.
func (b *bucket[T]) put(key string, v T, now time.Time) {
	b.sweep(now)
	if _, exists := b.entries[key]; !exists && b.max > 0 && len(b.entries) >= b.max {
		b.evictOne()
	}
	b.entries[key] = &entry[T]{
		value:     v,
		createdAt: now,
		lastUsed:  now,
		expiresAt: now.Add(b.ttl),
	}
}

// get returns the live value for key. Expired entries are removed and
// reported as expired; unknown keys as missing.
func (b *bucket[T]) get(key string, now time.Time) (T, error) {
	var zero T
	e, ok := b.entries[key]
	if !ok {
		return zero, ErrNotFound
	}
	if now.After(e.expiresAt) {
		delete(b.entries, key)
		return zero, ErrExpired
	}
	e.lastUsed = now
	if b.sliding {
		e.expiresAt = now.Add(b.ttl)
	}
	return e.value, nil
}

func (b *bucket[T]) delete(key string) {
	delete(b.entries, key)
}

// sweep removes every expired entry.
func (b *bucket[T]) sweep(now time.Time) {
	for key, e := range b.entries {
		if now.After(e.expiresAt) {
			delete(b.entries, key)
		}
	}
}

// evictOne removes the eviction candidate: least-recent lastUsed for sliding
// buckets, oldest createdAt for fixed buckets.
func (b *bucket[T]) evictOne() {
	var victim string
	var victimAt time.Time
	for key, e := range b.entries {
		at := e.createdAt
		if b.sliding {
			at = e.lastUsed
		}
		if victim == "" || at.Before(victimAt) {
			victim = key
			victimAt = at
		}
	}
	if victim != "" {
		delete(b.entries, victim)
	}
}

func (b *bucket[T]) len() int { return len(b.entries) }

func (b *bucket[T]) keysSorted() []string {
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
