package domain

import "context"

// SlotPool limita quantas requisições ficam em voo ao mesmo tempo no gateway,
// independente da identidade do cliente.
//
// Acquire bloqueia até conseguir vaga ou até o ctx encerrar; release deve ser
// chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
