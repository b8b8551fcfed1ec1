// Package domain define contratos e tipos do rate limit por janela fixa
// (Policy, Decision, CounterStore) e do limite de concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// O estado dos contadores vive fora do processo, no CounterStore.
package domain
