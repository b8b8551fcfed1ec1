package ratelimit

import "strconv"

// headers e mensagens só precisam de inteiros; evita puxar fmt para isso.
func formatInt(v int) string { return strconv.Itoa(v) }
