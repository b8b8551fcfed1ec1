package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão do limiter de janela fixa.
//
// Method/Path são strings genéricas (web, gRPC, etc).
//
// Observação: cuidado com cardinalidade ao persistir Key/Path.
type StatsEvent struct {
	Key      Key
	Allowed  bool
	Degraded bool

	Method string
	Path   string

	At time.Time
}

// Outcome resume o evento em um rótulo estável para métricas e hashes.
func (ev StatsEvent) Outcome() string {
	switch {
	case ev.Degraded && ev.Allowed:
		return "degraded_allow"
	case ev.Degraded:
		return "degraded_deny"
	case ev.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}

// StatsStore é a estratégia de persistência das estatísticas.
//
// O middleware trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
