// Package redis contains the Redis-backed adapters: the shared rate-limit
// counter store and the session artifact store, plus the circuit breaker
// hook protecting both.
package redis
