package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"window-gateway/middleware/ratelimit"
	"window-gateway/middleware/ratelimit/domain"
	"window-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config, logger *slog.Logger) error {
	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return err
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("proxy error", "path", r.URL.Path, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promStats := infra.NewPrometheusStats(reg)

	var rdb *redis.Client
	if cfg.rateEnabled || cfg.rateStatsEnabled {
		// Redis fora do ar na subida é erro de deploy; depois disso vale a
		// política fail-open/fail-closed.
		rdb, err = infra.NewRedisClient(ctx, infra.RedisConfig{
			Addr:     cfg.redisAddr,
			Username: cfg.redisUsername,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
			PoolSize: cfg.redisPoolSize,
		})
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
	}

	var stats domain.StatsStore = promStats
	if cfg.rateStatsEnabled {
		stats = infra.MultiStats(promStats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
			infra.WithStatsTimeout(cfg.rateStatsTimeout),
		))
	}

	h := http.Handler(proxy)
	if cfg.concurrencyMax > 0 {
		pool := infra.NewChanPool(cfg.concurrencyMax)
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "window_gateway",
			Name:      "inflight_requests",
			Help:      "Requests holding a concurrency slot",
		}, func() float64 { return float64(pool.InFlight()) }))

		h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Pool:           pool,
			RejectStatus:   http.StatusServiceUnavailable,
			AcquireTimeout: cfg.concurrencyTimeout,
			Logger:         logger,
		})(h)
	}
	if cfg.rateEnabled {
		store := infra.NewRedisCounterStore(rdb,
			infra.WithOpTimeout(cfg.redisOpTimeout),
			infra.WithRetryBudget(cfg.redisRetryRPS, cfg.redisRetryBurst),
		)
		mw, err := ratelimit.Middleware(ratelimit.Options{
			Store: store,
			Policy: domain.Policy{
				Limit:    cfg.rateLimit,
				Window:   cfg.rateWindow,
				FailOpen: cfg.rateFailOpen,
			},
			Namespace:           cfg.rateNamespace,
			Stats:               stats,
			Logger:              logger,
			KeyHeader:           cfg.rateKeyHeader,
			TrustXForwardedFor:  cfg.trustXFF,
			RejectStatus:        http.StatusTooManyRequests,
			AddRateLimitHeaders: cfg.addHeaders,
		})
		if err != nil {
			return err
		}
		h = mw(h)
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsSrv := &http.Server{
		Addr:              cfg.metricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("gateway listening",
		"addr", cfg.listenAddr,
		"upstream", target.String(),
		"metrics_addr", cfg.metricsAddr,
	)
	logger.Info("rate limit",
		"enabled", cfg.rateEnabled,
		"limit", cfg.rateLimit,
		"window", cfg.rateWindow,
		"fail_open", cfg.rateFailOpen,
		"namespace", cfg.rateNamespace,
		"key_header", cfg.rateKeyHeader,
		"trust_xff", cfg.trustXFF,
		"redis_addr", cfg.redisAddr,
		"redis_op_timeout", cfg.redisOpTimeout,
	)
	logger.Info("rate stats",
		"enabled", cfg.rateStatsEnabled,
		"bucket", cfg.rateStatsBucket,
		"ttl", cfg.rateStatsTTL,
		"timeout", cfg.rateStatsTimeout,
		"track_keys", cfg.rateStatsTrackKeys,
	)
	logger.Info("concurrency", "max", cfg.concurrencyMax, "acquire_timeout", cfg.concurrencyTimeout)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
