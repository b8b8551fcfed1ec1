package infra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"window-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// incrWithExpiryScript: INCR + PEXPIRE só quando a chave está sem TTL
// (nasceu agora, count == 1, ou ficou órfã) + PTTL, numa execução atômica.
// Retorna {count, pttl_ms}.
var incrWithExpiryScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// expireIfUnsetScript: PEXPIRE apenas se a chave existe e não tem TTL (-1).
var expireIfUnsetScript = redis.NewScript(`
if redis.call("PTTL", KEYS[1]) == -1 then
	return redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return 0
`)

const (
	defaultOpTimeout  = 50 * time.Millisecond
	defaultRetryRPS   = 5
	defaultRetryBurst = 10
)

// RedisCounterStore implementa domain.CounterStore e domain.AtomicCounter
// sobre um cliente go-redis compartilhado (pool de conexões do próprio
// cliente; nunca abre conexão por chamada).
//
// Cada chamada tem timeout próprio. Erro de conexão ganha no máximo uma nova
// tentativa imediata, limitada por um orçamento de retries (token bucket)
// para não dobrar a carga num Redis já fora do ar. Qualquer falha sai como
// domain.ErrStoreUnavailable, com a causa encadeada.
type RedisCounterStore struct {
	rdb     redis.UniversalClient
	timeout time.Duration
	retry   *rate.Limiter
}

var (
	_ domain.CounterStore  = (*RedisCounterStore)(nil)
	_ domain.AtomicCounter = (*RedisCounterStore)(nil)
)

type RedisCounterOption func(*RedisCounterStore)

func WithOpTimeout(d time.Duration) RedisCounterOption {
	return func(s *RedisCounterStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRetryBudget define quantos retries por segundo (e rajada) o store pode
// gastar. rps <= 0 desliga o retry.
func WithRetryBudget(rps float64, burst int) RedisCounterOption {
	return func(s *RedisCounterStore) {
		if rps <= 0 || burst <= 0 {
			s.retry = nil
			return
		}
		s.retry = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisCounterOption) *RedisCounterStore {
	s := &RedisCounterStore{
		rdb:     rdb,
		timeout: defaultOpTimeout,
		retry:   rate.NewLimiter(defaultRetryRPS, defaultRetryBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisCounterStore) IncrementAndGet(ctx context.Context, key domain.Key) (int64, error) {
	var n int64
	err := s.do(ctx, "incr", key, func(ctx context.Context) error {
		var err error
		n, err = s.rdb.Incr(ctx, string(key)).Result()
		return err
	})
	return n, err
}

func (s *RedisCounterStore) SetExpiryIfUnset(ctx context.Context, key domain.Key, ttl time.Duration) (bool, error) {
	var set int64
	err := s.do(ctx, "expire", key, func(ctx context.Context) error {
		var err error
		set, err = expireIfUnsetScript.Run(ctx, s.rdb, []string{string(key)}, ttl.Milliseconds()).Int64()
		return err
	})
	return set == 1, err
}

func (s *RedisCounterStore) GetRemainingTTL(ctx context.Context, key domain.Key) (time.Duration, bool, error) {
	var ttl time.Duration
	err := s.do(ctx, "pttl", key, func(ctx context.Context) error {
		var err error
		ttl, err = s.rdb.PTTL(ctx, string(key)).Result()
		return err
	})
	if err != nil {
		return 0, false, err
	}
	// -1 (sem expiração) e -2 (ausente) chegam como durações negativas.
	if ttl < 0 {
		return 0, false, nil
	}
	return ttl, true, nil
}

func (s *RedisCounterStore) IncrementWithExpiry(ctx context.Context, key domain.Key, ttl time.Duration) (int64, time.Duration, error) {
	var vals []int64
	err := s.do(ctx, "incr+expire", key, func(ctx context.Context) error {
		var err error
		vals, err = incrWithExpiryScript.Run(ctx, s.rdb, []string{string(key)}, ttl.Milliseconds()).Int64Slice()
		if err == nil && len(vals) != 2 {
			err = fmt.Errorf("unexpected script reply %v", vals)
		}
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return vals[0], time.Duration(vals[1]) * time.Millisecond, nil
}

func (s *RedisCounterStore) do(ctx context.Context, op string, key domain.Key, fn func(context.Context) error) error {
	err := s.attempt(ctx, fn)
	if err != nil && s.shouldRetry(ctx, err) {
		err = s.attempt(ctx, fn)
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", domain.ErrStoreUnavailable, op, key, err)
	}
	return nil
}

func (s *RedisCounterStore) attempt(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}

func (s *RedisCounterStore) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil || s.retry == nil {
		return false
	}
	return isConnError(err) && s.retry.Allow()
}

// isConnError separa falhas de conexão (vale tentar de novo com outra conexão
// do pool) de timeout/cancelamento, onde um retry só alongaria a request.
func isConnError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout()
}
