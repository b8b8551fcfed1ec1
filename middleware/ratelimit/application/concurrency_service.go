package application

import (
	"context"
	"fmt"
	"time"

	"window-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService aplica o timeout de aquisição sobre um SlotPool,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta adquirir uma vaga.
// AcquireTimeout <= 0 espera até ctx cancelar; > 0 limita a espera.
// Em falha retorna erro que casa com domain.ErrNoSlot e nenhuma vaga fica presa.
func (s ConcurrencyService) Acquire(ctx context.Context) (func(), error) {
	if s.Pool == nil {
		return func() {}, nil
	}

	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}

	release, ok := s.Pool.Acquire(ctx)
	if !ok {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoSlot, context.Cause(ctx))
	}
	return release, nil
}
