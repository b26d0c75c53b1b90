package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func newTestLimiter(window time.Duration) (*Limiter, *time.Time) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	l := New(NewMemoryStore(), window)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowOncePerWindow(t *testing.T) {
	l, now := newTestLimiter(30 * time.Second)

	if _, ok := l.Allow("u1"); !ok {
		t.Fatal("first call must be allowed")
	}

	retry, ok := l.Allow("u1")
	if ok {
		t.Fatal("second call inside window must be throttled")
	}
	if retry != 30*time.Second {
		t.Errorf("retryAfter = %v, want 30s", retry)
	}

	*now = now.Add(10 * time.Second)
	if retry, ok = l.Allow("u1"); ok {
		t.Fatal("still inside window")
	} else if retry != 20*time.Second {
		t.Errorf("retryAfter = %v, want 20s", retry)
	}

	*now = now.Add(20 * time.Second)
	if _, ok := l.Allow("u1"); !ok {
		t.Error("call at window expiry must be allowed")
	}
}

func TestUsersThrottledIndependently(t *testing.T) {
	l, _ := newTestLimiter(30 * time.Second)

	if _, ok := l.Allow("u1"); !ok {
		t.Fatal("u1 first call must be allowed")
	}
	if _, ok := l.Allow("u2"); !ok {
		t.Error("u2 must not be throttled by u1's window")
	}
}

func TestDefaultWindow(t *testing.T) {
	l := New(NewMemoryStore(), 0)
	if l.window != DefaultWindow {
		t.Errorf("window = %v, want %v", l.window, DefaultWindow)
	}
}

func TestMemoryStoreDropsExpiredEntries(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	store.Acquire("u1", now, time.Second)
	if store.Len() != 1 {
		t.Fatalf("len = %d, want 1", store.Len())
	}

	if _, ok := store.Acquire("u1", now.Add(2*time.Second), time.Second); !ok {
		t.Error("expired entry must be reclaimable")
	}
}

func TestAcquireIsAtomic(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := store.Acquire("u1", now, time.Minute); ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Errorf("granted = %d concurrent acquisitions, want exactly 1", granted)
	}
}
