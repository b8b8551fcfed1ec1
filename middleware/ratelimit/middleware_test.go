package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"window-gateway/middleware/ratelimit/domain"
	"window-gateway/middleware/ratelimit/infra"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func okHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func mustMiddleware(t *testing.T, opts Options) func(http.Handler) http.Handler {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quietLogger
	}
	mw, err := Middleware(opts)
	if err != nil {
		t.Fatalf("failed to build middleware: %v", err)
	}
	return mw
}

func doRequest(h http.Handler, remoteAddr string, header http.Header) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = remoteAddr
	for k, v := range header {
		r.Header[k] = v
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	calls := 0
	h := mustMiddleware(t, Options{
		Store:               infra.NewMemoryCounterStore(),
		Policy:              domain.Policy{Limit: 2, Window: time.Minute},
		AddRateLimitHeaders: true,
	})(okHandler(&calls))

	for i := 0; i < 2; i++ {
		w := doRequest(h, "10.0.0.1:1234", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Remaining"); got != []string{"1", "0"}[i] {
			t.Fatalf("request %d: unexpected X-RateLimit-Remaining %q", i+1, got)
		}
	}

	w := doRequest(h, "10.0.0.1:1234", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After=60, got %q", got)
	}
	if !strings.Contains(w.Body.String(), "kindly try after 60 seconds") {
		t.Fatalf("expected human readable message, got %q", w.Body.String())
	}
	if got := w.Header().Get("X-RateLimit-Key"); got != "10.0.0.1" {
		t.Fatalf("expected X-RateLimit-Key=10.0.0.1, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Fatalf("expected X-RateLimit-Limit=2, got %q", got)
	}
	if calls != 2 {
		t.Fatalf("expected next handler called twice, got %d", calls)
	}

	// outro cliente tem seu próprio contador
	if w := doRequest(h, "10.0.0.2:1234", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for another client, got %d", w.Code)
	}
}

func TestMiddleware_KeyByHeader(t *testing.T) {
	calls := 0
	h := mustMiddleware(t, Options{
		Store:     infra.NewMemoryCounterStore(),
		Policy:    domain.Policy{Limit: 1, Window: time.Minute},
		KeyHeader: "X-Api-Key",
	})(okHandler(&calls))

	// mesmo IP, chaves diferentes => contadores diferentes
	for _, k := range []string{"k1", "k2"} {
		w := doRequest(h, "10.0.0.1:1234", http.Header{"X-Api-Key": {k}})
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200 for key %s, got %d", k, w.Code)
		}
	}
	if w := doRequest(h, "10.0.0.1:1234", http.Header{"X-Api-Key": {"k1"}}); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for repeated key, got %d", w.Code)
	}
}

func TestMiddleware_EmptyIdentityIsServerError(t *testing.T) {
	calls := 0
	h := mustMiddleware(t, Options{
		Store:  infra.NewMemoryCounterStore(),
		Policy: domain.Policy{Limit: 1, Window: time.Minute},
		KeyFn:  func(*http.Request) string { return "" },
	})(okHandler(&calls))

	w := doRequest(h, "10.0.0.1:1234", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for missing identity, got %d", w.Code)
	}
	if calls != 0 {
		t.Fatalf("expected next handler not called")
	}
}

type downStore struct{}

func (downStore) IncrementAndGet(context.Context, domain.Key) (int64, error) {
	return 0, domain.ErrStoreUnavailable
}

func (downStore) SetExpiryIfUnset(context.Context, domain.Key, time.Duration) (bool, error) {
	return false, domain.ErrStoreUnavailable
}

func (downStore) GetRemainingTTL(context.Context, domain.Key) (time.Duration, bool, error) {
	return 0, false, domain.ErrStoreUnavailable
}

func TestMiddleware_StoreDownFollowsPolicy(t *testing.T) {
	for _, tc := range []struct {
		failOpen bool
		want     int
		outcome  string
	}{
		{true, http.StatusOK, "degraded_allow"},
		{false, http.StatusTooManyRequests, "degraded_deny"},
	} {
		stats := infra.NewMemoryStatsStore()
		calls := 0
		h := mustMiddleware(t, Options{
			Store:               downStore{},
			Policy:              domain.Policy{Limit: 1, Window: 30 * time.Second, FailOpen: tc.failOpen},
			Stats:               stats,
			AddRateLimitHeaders: true,
		})(okHandler(&calls))

		for i := 0; i < 3; i++ {
			w := doRequest(h, "10.0.0.1:1234", nil)
			if w.Code != tc.want {
				t.Fatalf("failOpen=%v: expected %d, got %d", tc.failOpen, tc.want, w.Code)
			}
			if w.Header().Get("X-RateLimit-Remaining") != "" {
				t.Fatalf("expected no remaining header on degraded decision")
			}
			if !tc.failOpen && w.Header().Get("Retry-After") != "30" {
				t.Fatalf("expected Retry-After=30 when failing closed, got %q", w.Header().Get("Retry-After"))
			}
		}
		if got := stats.Total().Degraded; got != 3 {
			t.Fatalf("failOpen=%v: expected 3 degraded decisions recorded, got %d", tc.failOpen, got)
		}
	}
}

func TestMiddleware_RecordsStats(t *testing.T) {
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))
	calls := 0
	h := mustMiddleware(t, Options{
		Store:  infra.NewMemoryCounterStore(),
		Policy: domain.Policy{Limit: 1, Window: time.Minute},
		Stats:  stats,
	})(okHandler(&calls))

	doRequest(h, "10.0.0.1:1234", nil)
	doRequest(h, "10.0.0.1:1234", nil)

	if got := stats.ByRoute()["GET /"]; got != (infra.Counters{Allowed: 1, Denied: 1}) {
		t.Fatalf("unexpected route stats %+v", got)
	}
	if got := stats.ByKey()["10.0.0.1"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected key stats %+v", got)
	}
}

func TestMiddleware_CustomRejectStatus(t *testing.T) {
	calls := 0
	h := mustMiddleware(t, Options{
		Store:        infra.NewMemoryCounterStore(),
		Policy:       domain.Policy{Limit: 1, Window: time.Minute},
		RejectStatus: http.StatusServiceUnavailable,
	})(okHandler(&calls))

	doRequest(h, "10.0.0.1:1234", nil)
	if w := doRequest(h, "10.0.0.1:1234", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestMiddleware_InvalidPolicy(t *testing.T) {
	_, err := Middleware(Options{
		Store:  infra.NewMemoryCounterStore(),
		Policy: domain.Policy{Limit: 0, Window: time.Minute},
	})
	if err == nil {
		t.Fatalf("expected error for invalid policy")
	}
}

type fixedAdmitter struct {
	dec  domain.Decision
	seen []string
}

func (f *fixedAdmitter) Admit(_ context.Context, identity string) (domain.Decision, error) {
	f.seen = append(f.seen, identity)
	return f.dec, nil
}

func TestMiddleware_UsesProvidedLimiter(t *testing.T) {
	lim := &fixedAdmitter{dec: domain.Decision{Allowed: false, RetryAfter: 2500 * time.Millisecond}}
	calls := 0
	h := mustMiddleware(t, Options{Limiter: lim})(okHandler(&calls))

	w := doRequest(h, "10.0.0.9:5555", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	// arredonda para cima: 2.5s => 3
	if got := w.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("expected Retry-After=3, got %q", got)
	}
	if len(lim.seen) != 1 || lim.seen[0] != "10.0.0.9" {
		t.Fatalf("expected identity 10.0.0.9, got %v", lim.seen)
	}
}

func TestMiddleware_TrimsIdentityEverywhere(t *testing.T) {
	stats := infra.NewMemoryStatsStore(infra.WithTrackKeys(true))
	calls := 0
	h := mustMiddleware(t, Options{
		Store:               infra.NewMemoryCounterStore(),
		Policy:              domain.Policy{Limit: 1, Window: time.Minute},
		Stats:               stats,
		KeyFn:               func(r *http.Request) string { return r.Header.Get("X-Tenant") },
		AddRateLimitHeaders: true,
	})(okHandler(&calls))

	w := doRequest(h, "10.0.0.1:1234", http.Header{"X-Tenant": {"  acme "}})
	if got := w.Header().Get("X-RateLimit-Key"); got != "acme" {
		t.Fatalf("expected trimmed X-RateLimit-Key, got %q", got)
	}

	// sem espaços cai no mesmo contador
	if w := doRequest(h, "10.0.0.1:1234", http.Header{"X-Tenant": {"acme"}}); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for the same trimmed identity, got %d", w.Code)
	}

	byKey := stats.ByKey()
	if len(byKey) != 1 || byKey["acme"] != (infra.Counters{Allowed: 1, Denied: 1}) {
		t.Fatalf("expected stats under a single trimmed key, got %+v", byKey)
	}
}
