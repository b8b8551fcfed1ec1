package domain

// Camada de domínio do rate limit por janela fixa.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"fmt"
	"strings"
	"time"
)

// DefaultNamespace é o prefixo das chaves de contador no store.
const DefaultNamespace = "rate_limit"

type Key string

// RateKey monta a chave do contador: namespace + ":" + identidade.
// A chave é estável durante toda a janela; quem a expira é o TTL do store.
func RateKey(namespace, identity string) Key {
	namespace = strings.Trim(namespace, ":")
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Key(namespace + ":" + identity)
}

// Policy é a configuração imutável da janela fixa.
//
// FailOpen decide o que acontece quando o store está indisponível:
// true libera o tráfego (sem rate limit), false bloqueia tudo.
type Policy struct {
	Limit    int
	Window   time.Duration
	FailOpen bool
}

func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return fmt.Errorf("limit must be > 0, got %d", p.Limit)
	}
	if p.Window < time.Second {
		return fmt.Errorf("window must be >= 1s, got %s", p.Window)
	}
	if p.Window%time.Second != 0 {
		return fmt.Errorf("window must be whole seconds, got %s", p.Window)
	}
	return nil
}

type Decision struct {
	Allowed bool
	// Degraded indica que o store falhou e a decisão veio da política
	// fail-open/fail-closed, não do contador.
	Degraded bool

	Limit     int
	Count     int64
	Remaining int

	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}

// RetryAfterSeconds arredonda RetryAfter para cima, em segundos inteiros.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}
