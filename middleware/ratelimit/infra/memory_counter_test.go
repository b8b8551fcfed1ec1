package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"window-gateway/middleware/ratelimit/domain"

	"go.uber.org/goleak"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestMemoryStore() (*MemoryCounterStore, *testClock) {
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	return NewMemoryCounterStore(WithClock(clock.Now), WithCleanupEvery(0)), clock
}

func TestMemoryCounterStore_IncrementAndGet(t *testing.T) {
	s, _ := newTestMemoryStore()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrementAndGet(ctx, "k")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d, got %d", want, got)
		}
	}
}

func TestMemoryCounterStore_SetExpiryIfUnsetNeverReArms(t *testing.T) {
	s, clock := newTestMemoryStore()
	ctx := context.Background()

	if set, _ := s.SetExpiryIfUnset(ctx, "missing", time.Minute); set {
		t.Fatalf("expected no expiry on missing key")
	}

	_, _ = s.IncrementAndGet(ctx, "k")
	if set, _ := s.SetExpiryIfUnset(ctx, "k", time.Minute); !set {
		t.Fatalf("expected expiry to be set")
	}

	clock.Advance(20 * time.Second)
	if set, _ := s.SetExpiryIfUnset(ctx, "k", time.Minute); set {
		t.Fatalf("expected running window to keep its expiry")
	}

	ttl, ok, err := s.GetRemainingTTL(ctx, "k")
	if err != nil || !ok || ttl != 40*time.Second {
		t.Fatalf("expected 40s left, got ttl=%s ok=%v err=%v", ttl, ok, err)
	}
}

func TestMemoryCounterStore_GetRemainingTTL(t *testing.T) {
	s, _ := newTestMemoryStore()
	ctx := context.Background()

	if _, ok, _ := s.GetRemainingTTL(ctx, "missing"); ok {
		t.Fatalf("expected ok=false for missing key")
	}
	_, _ = s.IncrementAndGet(ctx, "k")
	if _, ok, _ := s.GetRemainingTTL(ctx, "k"); ok {
		t.Fatalf("expected ok=false for key without expiry")
	}
}

func TestMemoryCounterStore_IncrementWithExpiry(t *testing.T) {
	s, clock := newTestMemoryStore()
	ctx := context.Background()

	n, ttl, err := s.IncrementWithExpiry(ctx, "k", time.Minute)
	if err != nil || n != 1 || ttl != time.Minute {
		t.Fatalf("expected (1, 1m), got (%d, %s, %v)", n, ttl, err)
	}

	clock.Advance(10 * time.Second)
	n, ttl, _ = s.IncrementWithExpiry(ctx, "k", time.Minute)
	if n != 2 || ttl != 50*time.Second {
		t.Fatalf("expected (2, 50s), got (%d, %s)", n, ttl)
	}

	clock.Advance(50 * time.Second)
	n, ttl, _ = s.IncrementWithExpiry(ctx, "k", time.Minute)
	if n != 1 || ttl != time.Minute {
		t.Fatalf("expected fresh window (1, 1m), got (%d, %s)", n, ttl)
	}
}

func TestMemoryCounterStore_IncrementWithExpiryHealsKeyWithoutTTL(t *testing.T) {
	s, _ := newTestMemoryStore()
	ctx := context.Background()

	_, _ = s.IncrementAndGet(ctx, "k")
	_, _ = s.IncrementAndGet(ctx, "k")

	n, ttl, _ := s.IncrementWithExpiry(ctx, "k", time.Minute)
	if n != 3 || ttl != time.Minute {
		t.Fatalf("expected (3, 1m), got (%d, %s)", n, ttl)
	}
}

func TestMemoryCounterStore_CancelledContext(t *testing.T) {
	s, _ := newTestMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.IncrementAndGet(ctx, "k"); !errors.Is(err, domain.ErrStoreUnavailable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected ErrStoreUnavailable wrapping context.Canceled, got %v", err)
	}
	if _, _, err := s.IncrementWithExpiry(ctx, "k", time.Minute); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected nothing counted on cancelled context")
	}
}

func TestMemoryCounterStore_CleanupRemovesExpiredOnly(t *testing.T) {
	s, clock := newTestMemoryStore()
	ctx := context.Background()

	_, _, _ = s.IncrementWithExpiry(ctx, "short", time.Second)
	_, _, _ = s.IncrementWithExpiry(ctx, "long", time.Hour)
	_, _ = s.IncrementAndGet(ctx, "no-ttl")

	clock.Advance(2 * time.Second)
	s.Cleanup()

	s.mu.Lock()
	_, short := s.entries["short"]
	_, long := s.entries["long"]
	_, noTTL := s.entries["no-ttl"]
	s.mu.Unlock()

	if short || !long || !noTTL {
		t.Fatalf("expected only expired key removed: short=%v long=%v no-ttl=%v", short, long, noTTL)
	}
}

func TestMemoryCounterStore_JanitorStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewMemoryCounterStore(WithCleanupEvery(time.Millisecond))
	_, _, _ = s.IncrementWithExpiry(context.Background(), "k", time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	s.StartJanitor(ctx)

	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		n := len(s.entries)
		s.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("expected janitor to remove expired key")
		}
		time.Sleep(2 * time.Millisecond)
	}
	cancel()
}
