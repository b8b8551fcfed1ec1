package application

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"window-gateway/middleware/ratelimit/domain"
)

// WindowLimiter decide allow/deny por identidade usando contagem em janela
// fixa sobre um CounterStore compartilhado.
//
// Não guarda estado mutável: todo contador vive no store, então várias
// instâncias atrás de um balanceador enxergam o mesmo limite. Não segura lock
// durante chamadas ao store; a atomicidade é do INCR do próprio store.
//
// Janela fixa admite até 2×Limit requisições em torno da virada entre duas
// janelas adjacentes. É propriedade do algoritmo, não bug.
type WindowLimiter struct {
	store     domain.CounterStore
	policy    domain.Policy
	namespace string
	logger    *slog.Logger
}

type Option func(*WindowLimiter)

func WithNamespace(ns string) Option {
	return func(l *WindowLimiter) { l.namespace = ns }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *WindowLimiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewWindowLimiter(store domain.CounterStore, policy domain.Policy, opts ...Option) (*WindowLimiter, error) {
	if store == nil {
		return nil, errors.New("counter store is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	l := &WindowLimiter{
		store:     store,
		policy:    policy,
		namespace: domain.DefaultNamespace,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *WindowLimiter) Policy() domain.Policy { return l.policy }

// Admit conta a requisição de identity na janela corrente e decide.
//
// O único erro retornado é domain.ErrInvalidIdentity. Falha do store vira a
// decisão configurada (fail-open/fail-closed) com Degraded=true.
// Se ctx for cancelado durante a chamada, o INCR pode já ter sido aplicado
// no store; isso conta como tentativa.
func (l *WindowLimiter) Admit(ctx context.Context, identity string) (domain.Decision, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return domain.Decision{}, domain.ErrInvalidIdentity
	}
	key := domain.RateKey(l.namespace, identity)

	count, ttl, err := l.increment(ctx, key)
	if err != nil {
		return l.degraded(identity, key, err), nil
	}

	dec := domain.Decision{
		Allowed:   true,
		Limit:     l.policy.Limit,
		Count:     count,
		Remaining: remaining(l.policy.Limit, count),
	}
	if count <= int64(l.policy.Limit) {
		return dec, nil
	}

	dec.Allowed = false
	dec.RetryAfter = l.retryAfter(ctx, key, ttl)
	return dec, nil
}

// increment devolve o contador pós-incremento e, quando o store sabe, o TTL
// restante (0 = desconhecido).
func (l *WindowLimiter) increment(ctx context.Context, key domain.Key) (int64, time.Duration, error) {
	if ac, ok := l.store.(domain.AtomicCounter); ok {
		return ac.IncrementWithExpiry(ctx, key, l.policy.Window)
	}

	n, err := l.store.IncrementAndGet(ctx, key)
	if err != nil {
		return 0, 0, err
	}
	// Só quem criou a chave (n == 1) arma o TTL. Entre o INCR e o EXPIRE a
	// chave existe sem expiração; se o EXPIRE falhar, retryAfter re-arma.
	if n == 1 {
		if _, err := l.store.SetExpiryIfUnset(ctx, key, l.policy.Window); err != nil {
			l.logger.Warn("rate limit expiry not set",
				"key", key,
				"error", err,
			)
		}
	}
	return n, 0, nil
}

func (l *WindowLimiter) retryAfter(ctx context.Context, key domain.Key, known time.Duration) time.Duration {
	if known > 0 {
		return clampRetryAfter(known, l.policy.Window)
	}

	ttl, ok, err := l.store.GetRemainingTTL(ctx, key)
	switch {
	case err != nil:
		l.logger.Warn("rate limit ttl lookup failed",
			"key", key,
			"error", err,
		)
		ttl = 0
	case !ok:
		// chave com contagem mas sem TTL nunca mais veria n == 1.
		// "if unset" não estende janela já armada.
		if _, err := l.store.SetExpiryIfUnset(ctx, key, l.policy.Window); err != nil {
			l.logger.Warn("rate limit expiry re-arm failed",
				"key", key,
				"error", err,
			)
		}
		ttl = 0
	}
	return clampRetryAfter(ttl, l.policy.Window)
}

func (l *WindowLimiter) degraded(identity string, key domain.Key, err error) domain.Decision {
	l.logger.Error("rate limit store unavailable",
		"identity", identity,
		"key", key,
		"fail_open", l.policy.FailOpen,
		"error", err,
	)

	dec := domain.Decision{
		Allowed:  l.policy.FailOpen,
		Degraded: true,
		Limit:    l.policy.Limit,
	}
	if !dec.Allowed {
		dec.RetryAfter = l.policy.Window
	}
	return dec
}

// clampRetryAfter arredonda para segundos inteiros dentro de [1s, window].
// ttl <= 0 (desconhecido) vira a janela inteira.
func clampRetryAfter(ttl, window time.Duration) time.Duration {
	if ttl <= 0 || ttl > window {
		return window
	}
	secs := (ttl + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	d := secs * time.Second
	if d > window {
		return window
	}
	return d
}

func remaining(limit int, count int64) int {
	if r := int64(limit) - count; r > 0 {
		return int(r)
	}
	return 0
}
