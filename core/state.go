package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WildcardKey selects every field of a scope when passed to Read.
const WildcardKey = "*"

// GlobalScope is the default namespace shared by all projects.
const GlobalScope = "global"

// ProjectScope returns the scope name owning state for a single project.
func ProjectScope(id string) string { return "project:" + id }

// Snapshot is the result of a scoped read: the requested fields plus the
// scope version they were observed at. The version must be passed back
// unchanged on the next Write so the store can detect intervening writers.
type Snapshot struct {
	Data    map[string]any `json:"data"`
	Version int64          `json:"version"`
}

// AuditEntry records a single read or write against a scope. The store
// appends one entry per operation; the trail is append-only and time
// ordered.
type AuditEntry struct {
	ID        string    `json:"id"`
	Caller    string    `json:"caller"`
	Scope     string    `json:"scope"`
	Op        string    `json:"op"` // "read", "write", "set", "delete"
	Fields    []string  `json:"fields"`
	Version   int64     `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// StateStore is a versioned key/value store partitioned by scope.
//
// Contract:
//   - Each scope owns one monotonically increasing version counter and a
//     flat field map. Scopes are created implicitly on first write and
//     destroyed only by Clear.
//   - Write succeeds only if expectedVersion still matches the live
//     version at commit time; every successful write increments the
//     version by exactly one. A mismatch fails with *ConflictError.
//   - Set and Delete mutate a single field WITHOUT the version check.
//     They bump the version like any write but bypass the conflict
//     guarantee entirely; use them only for low-stakes data where a
//     lost update is acceptable.
//   - Every operation appends to the scope's audit trail.
type StateStore interface {
	// Read returns the requested fields and the current scope version.
	// Passing WildcardKey (or no keys) returns all fields. Reading a
	// scope that does not exist yet yields an empty snapshot at version 0.
	Read(ctx context.Context, scope string, keys ...string) (Snapshot, error)

	// Write applies updates atomically if the scope version still equals
	// expectedVersion, returning the new version. On a version mismatch
	// it returns a *ConflictError and leaves the scope untouched.
	Write(ctx context.Context, scope string, updates map[string]any, expectedVersion int64) (int64, error)

	// Set stores a single field, bypassing the optimistic version check.
	Set(ctx context.Context, scope, key string, value any) error

	// Delete removes a single field, bypassing the optimistic version check.
	Delete(ctx context.Context, scope, key string) error

	// Clear destroys a scope entirely: fields, version counter and audit
	// trail. Intended for tests and teardown.
	Clear(ctx context.Context, scope string) error

	// Audit returns up to limit entries from the scope's audit trail in
	// chronological order. limit <= 0 returns the full trail.
	Audit(ctx context.Context, scope string, limit int) ([]AuditEntry, error)
}

// ConflictError reports an optimistic-concurrency violation: the scope
// version advanced between the caller's read and its write. The caller
// must re-read and recompute; see state.WriteWithRetry.
type ConflictError struct {
	Scope    string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("state conflict on scope %q: expected version %d, found %d", e.Scope, e.Expected, e.Actual)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
