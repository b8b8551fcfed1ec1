package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type config struct {
	listenAddr  string
	upstreamURL string
	metricsAddr string
	logLevel    slog.Level

	rateEnabled   bool
	rateLimit     int
	rateWindow    time.Duration
	rateFailOpen  bool
	rateNamespace string
	rateKeyHeader string
	trustXFF      bool
	addHeaders    bool

	redisAddr       string
	redisUsername   string
	redisPassword   string
	redisDB         int
	redisPoolSize   int
	redisOpTimeout  time.Duration
	redisRetryRPS   float64
	redisRetryBurst int

	concurrencyMax     int
	concurrencyTimeout time.Duration

	rateStatsEnabled   bool
	rateStatsPrefix    string
	rateStatsTTL       time.Duration
	rateStatsTimeout   time.Duration
	rateStatsBucket    string
	rateStatsTrackKeys bool
}

// readConfig lê o ambiente uma vez na subida. Um .env no diretório corrente,
// se existir, é carregado antes (sem sobrescrever variáveis já definidas).
// Valor presente mas inválido é erro, nunca cai no default.
func readConfig() (config, error) {
	_ = godotenv.Load()

	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.metricsAddr = getenvDefault("METRICS_ADDR", ":9090")

	level := getenvDefault("LOG_LEVEL", "info")
	if err := cfg.logLevel.UnmarshalText([]byte(level)); err != nil {
		return config{}, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}

	cfg.rateNamespace = getenvDefault("RATE_NAMESPACE", "rate_limit")
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.redisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.redisUsername = os.Getenv("REDIS_USERNAME")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "rate_limit:stats")
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")

	var windowSeconds int
	p := envParser{}
	p.boolVar(&cfg.rateEnabled, "RATE_ENABLED", true)
	p.intVar(&cfg.rateLimit, "RATE_LIMIT", 10)
	p.intVar(&windowSeconds, "RATE_WINDOW_SECONDS", 60)
	p.boolVar(&cfg.rateFailOpen, "RATE_FAIL_OPEN", true)
	p.boolVar(&cfg.trustXFF, "TRUST_XFF", false)
	p.boolVar(&cfg.addHeaders, "ADD_RATELIMIT_HEADERS", false)

	p.intVar(&cfg.redisDB, "REDIS_DB", 0)
	p.intVar(&cfg.redisPoolSize, "REDIS_POOL_SIZE", 0)
	p.durationVar(&cfg.redisOpTimeout, "REDIS_OP_TIMEOUT", 50*time.Millisecond)
	p.floatVar(&cfg.redisRetryRPS, "REDIS_RETRY_RPS", 5)
	p.intVar(&cfg.redisRetryBurst, "REDIS_RETRY_BURST", 10)

	p.intVar(&cfg.concurrencyMax, "CONCURRENCY_MAX", 100)
	p.durationVar(&cfg.concurrencyTimeout, "CONCURRENCY_TIMEOUT", 0)

	p.boolVar(&cfg.rateStatsEnabled, "RATE_STATS_ENABLED", false)
	p.durationVar(&cfg.rateStatsTTL, "RATE_STATS_TTL", 24*time.Hour)
	p.durationVar(&cfg.rateStatsTimeout, "RATE_STATS_TIMEOUT", 20*time.Millisecond)
	p.boolVar(&cfg.rateStatsTrackKeys, "RATE_STATS_TRACK_KEYS", false)
	if p.err != nil {
		return config{}, p.err
	}
	cfg.rateWindow = time.Duration(windowSeconds) * time.Second

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.rateLimit <= 0 {
		return config{}, errors.New("RATE_LIMIT must be > 0")
	}
	if cfg.rateWindow <= 0 {
		return config{}, errors.New("RATE_WINDOW_SECONDS must be > 0")
	}
	if strings.TrimSpace(cfg.redisAddr) == "" && (cfg.rateEnabled || cfg.rateStatsEnabled) {
		return config{}, errors.New("REDIS_ADDR is required when RATE_ENABLED or RATE_STATS_ENABLED")
	}
	if cfg.redisOpTimeout <= 0 {
		return config{}, errors.New("REDIS_OP_TIMEOUT must be > 0")
	}
	if cfg.rateStatsTimeout <= 0 {
		return config{}, errors.New("RATE_STATS_TIMEOUT must be > 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

// envParser guarda o primeiro erro de parse; as chamadas seguintes viram no-op.
type envParser struct {
	err error
}

func (p *envParser) lookup(k string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v := strings.TrimSpace(os.Getenv(k))
	return v, v != ""
}

func (p *envParser) fail(k, v string, err error) {
	p.err = fmt.Errorf("invalid %s %q: %w", k, v, err)
}

func (p *envParser) intVar(dst *int, k string, def int) {
	*dst = def
	v, ok := p.lookup(k)
	if !ok {
		return
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.fail(k, v, err)
		return
	}
	*dst = i
}

func (p *envParser) floatVar(dst *float64, k string, def float64) {
	*dst = def
	v, ok := p.lookup(k)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(k, v, err)
		return
	}
	*dst = f
}

func (p *envParser) boolVar(dst *bool, k string, def bool) {
	*dst = def
	v, ok := p.lookup(k)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(k, v, err)
		return
	}
	*dst = b
}

func (p *envParser) durationVar(dst *time.Duration, k string, def time.Duration) {
	*dst = def
	v, ok := p.lookup(k)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(k, v, err)
		return
	}
	*dst = d
}
