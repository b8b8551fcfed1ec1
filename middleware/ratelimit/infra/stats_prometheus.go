package infra

import (
	"context"

	"window-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusStats expõe as decisões do limiter como métricas.
// Os rótulos são de baixa cardinalidade: a chave do cliente não entra.
type PrometheusStats struct {
	Decisions *prometheus.CounterVec
	// StoreFailures sobe a cada decisão degradada; é o sinal de queda do store
	// mesmo com o tráfego passando (fail-open).
	StoreFailures prometheus.Counter
}

func NewPrometheusStats(reg prometheus.Registerer) *PrometheusStats {
	return &PrometheusStats{
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "window_gateway",
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Rate limit decisions by outcome",
			},
			[]string{"outcome"}, // allowed/denied/degraded_allow/degraded_deny
		),
		StoreFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "window_gateway",
				Subsystem: "ratelimit",
				Name:      "store_failures_total",
				Help:      "Decisions taken without the counter store",
			},
		),
	}
}

func (p *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	p.Decisions.WithLabelValues(ev.Outcome()).Inc()
	if ev.Degraded {
		p.StoreFailures.Inc()
	}
	return nil
}
