package infra

import (
	"context"
	"errors"

	"window-gateway/middleware/ratelimit/domain"
)

type multiStats []domain.StatsStore

// MultiStats replica cada evento para todos os stores não-nil. Um store com
// erro não impede os demais.
func MultiStats(stores ...domain.StatsStore) domain.StatsStore {
	out := make(multiStats, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
