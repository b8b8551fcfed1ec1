package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"window-gateway/middleware/ratelimit/domain"
)

// MemoryCounterStore implementa domain.CounterStore e domain.AtomicCounter
// em memória, com expiração por chave e limpeza periódica.
//
// O estado é local ao processo: serve para testes, desenvolvimento e deploy
// de instância única. Com mais de uma réplica cada uma teria seu próprio
// contador; use RedisCounterStore.
type MemoryCounterStore struct {
	mu           sync.Mutex
	entries      map[domain.Key]*counterEntry
	now          func() time.Time
	cleanupEvery time.Duration
}

type counterEntry struct {
	count int64
	// zero = sem expiração
	expiresAt time.Time
}

var (
	_ domain.CounterStore  = (*MemoryCounterStore)(nil)
	_ domain.AtomicCounter = (*MemoryCounterStore)(nil)
)

type MemoryCounterOption func(*MemoryCounterStore)

// WithClock troca o relógio (testes com tempo simulado).
func WithClock(now func() time.Time) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

func WithCleanupEvery(d time.Duration) MemoryCounterOption {
	return func(s *MemoryCounterStore) { s.cleanupEvery = d }
}

func NewMemoryCounterStore(opts ...MemoryCounterOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		entries:      make(map[domain.Key]*counterEntry),
		now:          time.Now,
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live devolve a entrada se ainda válida, removendo-a se expirou.
// Chamar com mu travado.
func (s *MemoryCounterStore) live(key domain.Key, now time.Time) *counterEntry {
	ent, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return ent
}

func (s *MemoryCounterStore) incr(key domain.Key, now time.Time) *counterEntry {
	ent := s.live(key, now)
	if ent == nil {
		ent = &counterEntry{}
		s.entries[key] = ent
	}
	ent.count++
	return ent
}

func (s *MemoryCounterStore) IncrementAndGet(ctx context.Context, key domain.Key) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: incr %s: %w", domain.ErrStoreUnavailable, key, err)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incr(key, now).count, nil
}

func (s *MemoryCounterStore) SetExpiryIfUnset(ctx context.Context, key domain.Key, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: expire %s: %w", domain.ErrStoreUnavailable, key, err)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.live(key, now)
	if ent == nil || !ent.expiresAt.IsZero() {
		return false, nil
	}
	ent.expiresAt = now.Add(ttl)
	return true, nil
}

func (s *MemoryCounterStore) GetRemainingTTL(ctx context.Context, key domain.Key) (time.Duration, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, fmt.Errorf("%w: ttl %s: %w", domain.ErrStoreUnavailable, key, err)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.live(key, now)
	if ent == nil || ent.expiresAt.IsZero() {
		return 0, false, nil
	}
	return ent.expiresAt.Sub(now), true, nil
}

// IncrementWithExpiry incrementa e, se a chave nasceu agora (ou não tinha
// TTL), arma a expiração, tudo sob o mesmo lock.
func (s *MemoryCounterStore) IncrementWithExpiry(ctx context.Context, key domain.Key, ttl time.Duration) (int64, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, fmt.Errorf("%w: incr %s: %w", domain.ErrStoreUnavailable, key, err)
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.incr(key, now)
	if ent.expiresAt.IsZero() {
		ent.expiresAt = now.Add(ttl)
	}
	return ent.count, ent.expiresAt.Sub(now), nil
}

// Len conta as chaves ainda válidas.
func (s *MemoryCounterStore) Len() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.entries {
		if s.live(k, now) != nil {
			n++
		}
	}
	return n
}

// Cleanup remove chaves expiradas. Chaves sem TTL nunca são removidas aqui.
func (s *MemoryCounterStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.entries {
		s.live(k, now)
	}
}

// StartJanitor inicia uma goroutine que remove chaves expiradas
// periodicamente. Pare cancelando o contexto.
func (s *MemoryCounterStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
