// Package application contém os casos de uso do gateway: a decisão de janela
// fixa (WindowLimiter.Admit) e a aquisição de vaga de concorrência.
//
// Depende apenas do pacote domain e não conhece net/http nem Redis.
package application
