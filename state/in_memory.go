package state

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/logging"
)

// scopeRecord holds one scope's version counter, field map and audit
// trail. Records are created lazily on first write and destroyed only by
// Clear.
type scopeRecord struct {
	version int64
	data    map[string]any
	audit   []core.AuditEntry
}

// InMemoryStore is a volatile core.StateStore implementation keeping
// scopes in a process local map. Each returned snapshot is a copy to
// prevent external mutation of internal state.
type InMemoryStore struct {
	mu     sync.RWMutex
	scopes map[string]*scopeRecord
	logger logging.Logger
}

// InMemoryStoreOptions configures the in-memory store.
type InMemoryStoreOptions struct {
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// NewInMemoryStore constructs an empty in-memory scoped store.
func NewInMemoryStore(optFns ...func(o *InMemoryStoreOptions)) *InMemoryStore {
	opts := InMemoryStoreOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{scopes: make(map[string]*scopeRecord), logger: opts.Logger}
}

// Read returns the requested fields and the scope's current version. A
// scope that has never been written reads as empty at version 0.
func (s *InMemoryStore) Read(ctx context.Context, scope string, keys ...string) (core.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.scopes[scope]
	if !ok {
		return core.Snapshot{Data: map[string]any{}, Version: 0}, nil
	}

	snap := core.Snapshot{Data: make(map[string]any), Version: rec.version}
	if wantAll(keys) {
		for k, v := range rec.data {
			snap.Data[k] = v
		}
	} else {
		for _, k := range keys {
			if v, exists := rec.data[k]; exists {
				snap.Data[k] = v
			}
		}
	}

	rec.appendAudit(ctx, scope, "read", keys)
	return snap, nil
}

// Write applies updates atomically if expectedVersion still matches,
// incrementing the version by exactly one. A stale expectedVersion fails
// with *core.ConflictError and leaves the scope untouched.
func (s *InMemoryStore) Write(ctx context.Context, scope string, updates map[string]any, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.scopeLocked(scope)
	if rec.version != expectedVersion {
		s.logger.Debug("state write conflict", "scope", scope, "expected", expectedVersion, "actual", rec.version)
		return 0, &core.ConflictError{Scope: scope, Expected: expectedVersion, Actual: rec.version}
	}

	for k, v := range updates {
		rec.data[k] = v
	}
	rec.version++
	rec.appendAudit(ctx, scope, "write", fieldNames(updates))
	return rec.version, nil
}

// Set stores a single field, bypassing the optimistic version check. The
// version still advances so concurrent Write callers observe the change.
func (s *InMemoryStore) Set(ctx context.Context, scope, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.scopeLocked(scope)
	rec.data[key] = value
	rec.version++
	rec.appendAudit(ctx, scope, "set", []string{key})
	return nil
}

// Delete removes a single field, bypassing the optimistic version check.
func (s *InMemoryStore) Delete(ctx context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.scopes[scope]
	if !ok {
		return nil
	}
	delete(rec.data, key)
	rec.version++
	rec.appendAudit(ctx, scope, "delete", []string{key})
	return nil
}

// Clear destroys a scope entirely, including its audit trail. Intended
// for tests and teardown.
func (s *InMemoryStore) Clear(_ context.Context, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.scopes, scope)
	return nil
}

// Audit returns up to limit entries of the scope's audit trail in
// chronological order; limit <= 0 returns everything.
func (s *InMemoryStore) Audit(_ context.Context, scope string, limit int) ([]core.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.scopes[scope]
	if !ok {
		return nil, nil
	}
	entries := rec.audit
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]core.AuditEntry, len(entries))
	copy(out, entries)
	return out, nil
}

// scopeLocked returns the record for scope, creating it lazily. Caller
// must hold the write lock.
func (s *InMemoryStore) scopeLocked(scope string) *scopeRecord {
	rec, ok := s.scopes[scope]
	if !ok {
		rec = &scopeRecord{data: make(map[string]any)}
		s.scopes[scope] = rec
	}
	return rec
}

func (r *scopeRecord) appendAudit(ctx context.Context, scope, op string, fields []string) {
	r.audit = append(r.audit, core.AuditEntry{
		ID:        core.NewID(),
		Caller:    core.CallerFromContext(ctx),
		Scope:     scope,
		Op:        op,
		Fields:    fields,
		Version:   r.version,
		Timestamp: time.Now().UTC(),
	})
}

func wantAll(keys []string) bool {
	if len(keys) == 0 {
		return true
	}
	for _, k := range keys {
		if k == core.WildcardKey {
			return true
		}
	}
	return false
}

func fieldNames(updates map[string]any) []string {
	names := make([]string, 0, len(updates))
	for k := range updates {
		names = append(names, k)
	}
	return names
}
