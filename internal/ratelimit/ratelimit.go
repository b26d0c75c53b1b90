// Package ratelimit throttles per-user context refreshes: at most one run
// per user inside a configurable window.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultWindow is the refresh window when none is configured.
const DefaultWindow = 30 * time.Second

// TTLStore holds per-key expiries. Acquire claims key until now+ttl; when
// the key is still held it returns the current expiry and false. The
// check and the claim are a single atomic step.
type TTLStore interface {
	Acquire(key string, now time.Time, ttl time.Duration) (expiry time.Time, ok bool)
}

// MemoryStore is an in-process TTLStore.
type MemoryStore struct {
	mu     sync.Mutex
	expiry map[string]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{expiry: make(map[string]time.Time)}
}

// Acquire implements TTLStore. Expired entries are dropped as they are
// touched, so the map stays proportional to recently active users.
func (m *MemoryStore) Acquire(key string, now time.Time, ttl time.Duration) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if exp, held := m.expiry[key]; held {
		if now.Before(exp) {
			return exp, false
		}
		delete(m.expiry, key)
	}

	exp := now.Add(ttl)
	m.expiry[key] = exp
	return exp, true
}

// Len returns the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expiry)
}

// Limiter enforces the per-user refresh window.
type Limiter struct {
	store  TTLStore
	window time.Duration
	now    func() time.Time
}

// New creates a Limiter over store. A non-positive window uses
// DefaultWindow.
func New(store TTLStore, window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{store: store, window: window, now: time.Now}
}

// Allow reports whether userID may refresh now. When throttled it returns
// how long until the next refresh is allowed.
func (l *Limiter) Allow(userID string) (retryAfter time.Duration, ok bool) {
	now := l.now()
	exp, ok := l.store.Acquire(userID, now, l.window)
	if ok {
		return 0, true
	}
	return exp.Sub(now), false
}
