// Package infra contém implementações concretas dos contratos de domain.
//
//   - RedisCounterStore: contadores de janela fixa no Redis (go-redis), com
//     script Lua para INCR + TTL atômico, timeout por chamada e retry limitado
//   - MemoryCounterStore: mesmo contrato em memória (testes / instância única)
//   - RedisStatsStore, MemoryStatsStore, PrometheusStats: estatísticas
//   - ChanPool: semáforo para limite de concorrência
package infra
