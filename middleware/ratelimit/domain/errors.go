package domain

import "errors"

var (
	// ErrInvalidIdentity: identidade vazia. Erro de configuração do chamador,
	// rejeitado antes de qualquer chamada ao store.
	ErrInvalidIdentity = errors.New("invalid client identity")

	// ErrStoreUnavailable agrupa timeout, erro de conexão e erro de protocolo
	// do store de contadores.
	ErrStoreUnavailable = errors.New("counter store unavailable")
)

// ErrNoSlot: o pool de concorrência não liberou vaga dentro do prazo.
var ErrNoSlot = errors.New("no concurrency slot available")
