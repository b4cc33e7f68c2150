// Package state provides the in-memory implementation of the scoped,
// versioned state store plus WriteWithRetry, a read-compute-write helper
// that retries optimistic-concurrency conflicts with exponential backoff.
//
// The in-memory store is safe for concurrent access and best suited for
// tests and single-process deployments. Production deployments backed by
// a Redis-compatible service should use the state/redis package, which
// implements the same core.StateStore contract.
package state
