package domain

import (
	"context"
	"time"
)

// CounterStore é o contrato mínimo que o limiter exige de um store
// compartilhado (ex: Redis).
//
// Todas as operações podem bloquear na rede; implementações devem aplicar
// timeout próprio e traduzir qualquer falha em ErrStoreUnavailable.
type CounterStore interface {
	// IncrementAndGet incrementa atomicamente e devolve o valor pós-incremento.
	// Se a chave não existe, ela nasce com 1.
	IncrementAndGet(ctx context.Context, key Key) (int64, error)

	// SetExpiryIfUnset aplica o TTL apenas se a chave existir e ainda não
	// tiver expiração. Nunca reinicia a janela de uma chave já armada.
	SetExpiryIfUnset(ctx context.Context, key Key, ttl time.Duration) (bool, error)

	// GetRemainingTTL devolve o tempo restante. ok=false quando a chave não
	// existe ou não tem expiração.
	GetRemainingTTL(ctx context.Context, key Key) (ttl time.Duration, ok bool, err error)
}

// AtomicCounter é implementado por stores que conseguem incrementar e armar
// o TTL (somente na criação) numa única operação atômica, devolvendo também
// o TTL restante. Quando disponível, o limiter usa este caminho e a janela
// entre INCR e EXPIRE deixa de existir.
type AtomicCounter interface {
	IncrementWithExpiry(ctx context.Context, key Key, ttl time.Duration) (count int64, remaining time.Duration, err error)
}
