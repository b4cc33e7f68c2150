// Package logging provides a minimal logging interface and adapters for AgentHub.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the substrate's components use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - HubLogger with contextual helpers (component, agent, scope) and
//     domain logging helpers for provider calls, state writes and dispatches
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	hub := agenthub.New(func(o *agenthub.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
