// Package gateway routes provider-neutral chat requests across
// interchangeable model backends with resilience built in: transient
// failures retry with exponential backoff and jitter, other failures
// advance along a configured fallback chain, and per-agent circuit
// breakers fail fast when a caller's backend keeps misbehaving.
//
// On every successful call the gateway accumulates token usage globally,
// per model and per agent, computes cost from a model-indexed price
// table, and compares the agent's cumulative input tokens against the
// model's context window, emitting a context_warning notification when
// a configurable fraction is crossed.
package gateway
