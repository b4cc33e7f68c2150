// Package redis provides a core.StateStore backed by a Redis-compatible
// service. Each scope maps to a version counter (string key guarded by
// WATCH), a field hash and an append-only audit list, so the optimistic
// write protocol is enforced by the server rather than process memory.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agenthub/core"
)

// Store implements core.StateStore on top of go-redis. It is safe for
// concurrent use; conflicting writers are detected via WATCH on the
// scope's version key and surfaced as *core.ConflictError.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// Options configures the Redis-backed store.
type Options struct {
	// KeyPrefix namespaces all keys written by this store. Defaults to
	// "agenthub".
	KeyPrefix string
}

// NewStore wraps an existing Redis client.
func NewStore(client redis.UniversalClient, optFns ...func(o *Options)) *Store {
	opts := Options{KeyPrefix: "agenthub"}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{client: client, keyPrefix: opts.KeyPrefix}
}

func (s *Store) versionKey(scope string) string { return s.keyPrefix + ":" + scope + ":version" }
func (s *Store) dataKey(scope string) string    { return s.keyPrefix + ":" + scope + ":data" }
func (s *Store) auditKey(scope string) string   { return s.keyPrefix + ":" + scope + ":audit" }

// Read returns the requested fields and the scope version. Missing
// scopes read as empty at version 0.
func (s *Store) Read(ctx context.Context, scope string, keys ...string) (core.Snapshot, error) {
	version, err := s.readVersion(ctx, scope)
	if err != nil {
		return core.Snapshot{}, err
	}

	var raw map[string]string
	if wantAll(keys) {
		raw, err = s.client.HGetAll(ctx, s.dataKey(scope)).Result()
		if err != nil {
			return core.Snapshot{}, fmt.Errorf("redis hgetall: %w", err)
		}
	} else {
		raw = make(map[string]string, len(keys))
		values, err := s.client.HMGet(ctx, s.dataKey(scope), keys...).Result()
		if err != nil {
			return core.Snapshot{}, fmt.Errorf("redis hmget: %w", err)
		}
		for i, v := range values {
			if str, ok := v.(string); ok {
				raw[keys[i]] = str
			}
		}
	}

	snap := core.Snapshot{Data: make(map[string]any, len(raw)), Version: version}
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			decoded = v
		}
		snap.Data[k] = decoded
	}

	if err := s.appendAudit(ctx, scope, "read", keys, version); err != nil {
		return core.Snapshot{}, err
	}
	return snap, nil
}

// Write applies updates transactionally: the version key is WATCHed, the
// expected version compared, and the hash update, version increment and
// audit append committed in one MULTI/EXEC. A concurrent writer aborts
// the transaction and yields a *core.ConflictError.
func (s *Store) Write(ctx context.Context, scope string, updates map[string]any, expectedVersion int64) (int64, error) {
	newVersion := expectedVersion + 1

	fields := make([]any, 0, len(updates)*2)
	for k, v := range updates {
		encoded, err := json.Marshal(v)
		if err != nil {
			return 0, fmt.Errorf("encode field %q: %w", k, err)
		}
		fields = append(fields, k, string(encoded))
	}

	entry, err := s.encodeAudit(ctx, scope, "write", fieldNames(updates), newVersion)
	if err != nil {
		return 0, err
	}

	txn := func(tx *redis.Tx) error {
		live, err := tx.Get(ctx, s.versionKey(scope)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis get version: %w", err)
		}
		if live != expectedVersion {
			return &core.ConflictError{Scope: scope, Expected: expectedVersion, Actual: live}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(fields) > 0 {
				pipe.HSet(ctx, s.dataKey(scope), fields...)
			}
			pipe.Set(ctx, s.versionKey(scope), newVersion, 0)
			pipe.RPush(ctx, s.auditKey(scope), entry)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txn, s.versionKey(scope))
	if errors.Is(err, redis.TxFailedErr) {
		// Version key changed between WATCH and EXEC.
		live, _ := s.readVersion(ctx, scope)
		return 0, &core.ConflictError{Scope: scope, Expected: expectedVersion, Actual: live}
	}
	if err != nil {
		return 0, err
	}
	return newVersion, nil
}

// Set stores a single field, bypassing the optimistic version check.
func (s *Store) Set(ctx context.Context, scope, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode field %q: %w", key, err)
	}
	version, err := s.client.Incr(ctx, s.versionKey(scope)).Result()
	if err != nil {
		return fmt.Errorf("redis incr version: %w", err)
	}
	if err := s.client.HSet(ctx, s.dataKey(scope), key, string(encoded)).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return s.appendAudit(ctx, scope, "set", []string{key}, version)
}

// Delete removes a single field, bypassing the optimistic version check.
func (s *Store) Delete(ctx context.Context, scope, key string) error {
	version, err := s.client.Incr(ctx, s.versionKey(scope)).Result()
	if err != nil {
		return fmt.Errorf("redis incr version: %w", err)
	}
	if err := s.client.HDel(ctx, s.dataKey(scope), key).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return s.appendAudit(ctx, scope, "delete", []string{key}, version)
}

// Clear destroys a scope: fields, version counter and audit trail.
func (s *Store) Clear(ctx context.Context, scope string) error {
	return s.client.Del(ctx, s.versionKey(scope), s.dataKey(scope), s.auditKey(scope)).Err()
}

// Audit returns up to limit trailing entries in chronological order.
func (s *Store) Audit(ctx context.Context, scope string, limit int) ([]core.AuditEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, s.auditKey(scope), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	entries := make([]core.AuditEntry, 0, len(raw))
	for _, item := range raw {
		var entry core.AuditEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *Store) readVersion(ctx context.Context, scope string) (int64, error) {
	version, err := s.client.Get(ctx, s.versionKey(scope)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get version: %w", err)
	}
	return version, nil
}

func (s *Store) appendAudit(ctx context.Context, scope, op string, fields []string, version int64) error {
	entry, err := s.encodeAudit(ctx, scope, op, fields, version)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, s.auditKey(scope), entry).Err(); err != nil {
		return fmt.Errorf("redis rpush audit: %w", err)
	}
	return nil
}

func (s *Store) encodeAudit(ctx context.Context, scope, op string, fields []string, version int64) (string, error) {
	entry := core.AuditEntry{
		ID:        core.NewID(),
		Caller:    core.CallerFromContext(ctx),
		Scope:     scope,
		Op:        op,
		Fields:    fields,
		Version:   version,
		Timestamp: time.Now().UTC(),
	}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("encode audit entry: %w", err)
	}
	return string(encoded), nil
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
