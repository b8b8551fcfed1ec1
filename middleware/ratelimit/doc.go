// Package ratelimit fornece adapters HTTP (net/http) para rate limit por
// janela fixa e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (Policy, Decision, CounterStore), sem net/http
//   - application: WindowLimiter.Admit (allow/deny + retry-after) e aquisição de vaga
//   - infra: Redis/memória para contadores, estatísticas, semáforo
//   - ratelimit (este pacote): middlewares HTTP + extração de chave + status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a identidade do cliente (header/XFF/RemoteAddr)
//  2. WindowLimiter.Admit incrementa o contador da janela no store
//  3. Se bloqueado, responde 429 com Retry-After; identidade vazia vira 500
//  4. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Store fora do ar não derruba a request: a Policy decide (fail-open libera,
// fail-closed bloqueia) e a decisão sai marcada como Degraded.
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o
// comportamento, como RATE_LIMIT, RATE_WINDOW_SECONDS e RATE_FAIL_OPEN.
package ratelimit
