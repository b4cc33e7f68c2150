// Package core defines the shared types and service interfaces of the
// AgentHub coordination substrate: the scoped state store contract with
// its optimistic-concurrency snapshot model, the notification envelope
// and Notifier abstraction, and the static agent registration records
// consumed by the dispatcher.
//
// The package intentionally contains no implementations beyond small
// value types; concrete stores, brokers and dispatchers live in their
// own packages and depend only on the interfaces declared here.
package core
