package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"window-gateway/middleware/ratelimit"
	"window-gateway/middleware/ratelimit/domain"
	"window-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
)

func main() {
	// Exemplo: o middleware direto no seu webserver (sem proxy).
	// 10 requisições por minuto por IP.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeFn, err := newCounterStore(ctx)
	if err != nil {
		logger.Error("counter store", "error", err)
		os.Exit(1)
	}
	defer closeFn()

	stats := infra.NewMemoryStatsStore()
	limit, err := ratelimit.Middleware(ratelimit.Options{
		Store:               store,
		Policy:              domain.Policy{Limit: 10, Window: time.Minute, FailOpen: true},
		Stats:               stats,
		Logger:              logger,
		AddRateLimitHeaders: true,
	})
	if err != nil {
		logger.Error("rate limit middleware", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50, Logger: logger}))
	r.Use(limit)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Hello from rate limiter\n"))
	})

	addr := ":9000"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
	}
	t := stats.Total()
	logger.Info("rate limit totals", "allowed", t.Allowed, "denied", t.Denied, "degraded", t.Degraded)
}

// newCounterStore usa Redis quando REDIS_ADDR está definido; senão, memória
// (só vale para uma instância).
func newCounterStore(ctx context.Context) (domain.CounterStore, func(), error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		mem := infra.NewMemoryCounterStore()
		mem.StartJanitor(ctx)
		return mem, func() {}, nil
	}

	rdb, err := infra.NewRedisClient(ctx, infra.RedisConfig{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err != nil {
		return nil, nil, err
	}
	return infra.NewRedisCounterStore(rdb), func() { _ = rdb.Close() }, nil
}
