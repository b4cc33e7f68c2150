// Package checkpoint implements the human-approval state machine: a
// workflow point that blocks until a human decides, or resolves itself
// by timeout. Pending checkpoints live in the shared state store and are
// announced over the notification broker; humans decide through
// Approve/Reject, which write a response record the waiting Create call
// picks up on its next poll.
package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/logging"
	"github.com/hupe1980/agenthub/state"
)

// Checkpoint statuses recorded in the history log.
const (
	StatusPending      = "pending"
	StatusApproved     = "approved"
	StatusRejected     = "rejected"
	StatusAutoApproved = "auto_approved"
	StatusTimedOut     = "timed_out"
)

// Definition registers one checkpoint id with the manager. Only
// registered ids may be created.
type Definition struct {
	// Description is carried into notifications for human context.
	Description string
	// AutoApprovable controls timeout behavior: true resolves an
	// unanswered checkpoint as approved, false as timed out (rejected).
	AutoApprovable bool
	// Timeout is the default wait before timeout resolution when
	// CreateOptions carries none.
	Timeout time.Duration
}

// CreateOptions tunes one Create call.
type CreateOptions struct {
	// Payload is the opaque data shown to the approver.
	Payload map[string]any
	// AutoApproveAfter overrides the definition's timeout.
	AutoApproveAfter time.Duration
}

// Result is the outcome of a resolved checkpoint.
type Result struct {
	Approved     bool   `json:"approved"`
	UserFeedback string `json:"user_feedback"`
	AutoApproved bool   `json:"auto_approved"`
}

// Stats aggregates the history log.
type Stats struct {
	Total        int     `json:"total"`
	Approved     int     `json:"approved"`
	Rejected     int     `json:"rejected"`
	AutoApproved int     `json:"auto_approved"`
	TimedOut     int     `json:"timed_out"`
	ApprovalRate float64 `json:"approval_rate"`
}

// ErrUnknownCheckpoint is returned for ids that were never registered.
type ErrUnknownCheckpoint struct{ ID string }

func (e *ErrUnknownCheckpoint) Error() string {
	return fmt.Sprintf("checkpoint %q is not registered", e.ID)
}

// Manager owns checkpoint definitions and drives the approval state
// machine against a state store and a notifier. Safe for concurrent
// use; checkpoint records live in the store, the definition registry
// behind its own lock.
type Manager struct {
	store        core.StateStore
	notifier     core.Notifier
	logger       logging.Logger
	scope        string
	pollInterval time.Duration
	defTimeout   time.Duration
	now          func() time.Time

	defMu       sync.RWMutex
	definitions map[string]Definition
}

// Options configures a Manager.
type Options struct {
	// Notifier announces pending checkpoints (defaults to no-op).
	Notifier core.Notifier
	// Scope is the state scope holding checkpoint records.
	Scope string
	// PollInterval is how often a waiting Create checks for a response.
	PollInterval time.Duration
	// DefaultTimeout applies to definitions registered without one.
	DefaultTimeout time.Duration
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// NewManager constructs a Manager over the given store.
func NewManager(store core.StateStore, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Notifier:       core.NoOpNotifier{},
		Scope:          core.GlobalScope,
		PollInterval:   500 * time.Millisecond,
		DefaultTimeout: 30 * time.Minute,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		store:        store,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
		scope:        opts.Scope,
		pollInterval: opts.PollInterval,
		defTimeout:   opts.DefaultTimeout,
		definitions:  make(map[string]Definition),
		now:          time.Now,
	}
}

// Register declares a checkpoint id. Must be called before Create.
func (m *Manager) Register(id string, def Definition) {
	if def.Timeout <= 0 {
		def.Timeout = m.defTimeout
	}
	m.defMu.Lock()
	m.definitions[id] = def
	m.defMu.Unlock()
}

// definition looks up a registered id.
func (m *Manager) definition(id string) (Definition, bool) {
	m.defMu.RLock()
	defer m.defMu.RUnlock()
	def, ok := m.definitions[id]
	return def, ok
}

// Create stores a pending checkpoint, announces it, and blocks until a
// human responds via Approve/Reject or the timeout elapses. The wait is
// the substrate's only interruptible wait: cancelling ctx abandons the
// checkpoint and records it as timed out.
func (m *Manager) Create(ctx context.Context, id string, optFns ...func(o *CreateOptions)) (Result, error) {
	def, ok := m.definition(id)
	if !ok {
		return Result{}, &ErrUnknownCheckpoint{ID: id}
	}

	opts := CreateOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	timeout := opts.AutoApproveAfter
	if timeout <= 0 {
		timeout = def.Timeout
	}

	created := m.now().UTC()
	record := map[string]any{
		"id":          id,
		"status":      StatusPending,
		"payload":     opts.Payload,
		"description": def.Description,
		"created_at":  created.Format(time.RFC3339Nano),
		"timeout_s":   timeout.Seconds(),
	}
	if err := m.store.Set(ctx, m.scope, activeKey(id), record); err != nil {
		return Result{}, fmt.Errorf("store pending checkpoint: %w", err)
	}

	m.notifier.Publish(core.NewNotification(core.KindCheckpointPending, "", map[string]any{
		"checkpoint_id": id,
		"description":   def.Description,
		"payload":       opts.Payload,
		"timeout_s":     timeout.Seconds(),
	}))
	m.logger.Info("checkpoint pending", "checkpoint", id, "timeout", timeout)

	return m.wait(ctx, id, def, record, created.Add(timeout))
}

// wait polls for a response record until the deadline.
func (m *Manager) wait(ctx context.Context, id string, def Definition, record map[string]any, deadline time.Time) (Result, error) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		if resp, ok, err := m.takeResponse(ctx, id); err != nil {
			return Result{}, err
		} else if ok {
			status := StatusApproved
			if !resp.Approved {
				status = StatusRejected
			}
			if err := m.finalize(ctx, id, record, status, resp.UserFeedback); err != nil {
				return Result{}, err
			}
			return resp, nil
		}

		if !m.now().Before(deadline) {
			return m.resolveTimeout(ctx, id, def, record)
		}

		select {
		case <-ctx.Done():
			// Abandoned wait: close the record so it does not linger.
			_ = m.finalize(context.WithoutCancel(ctx), id, record, StatusTimedOut, "wait cancelled")
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) resolveTimeout(ctx context.Context, id string, def Definition, record map[string]any) (Result, error) {
	if def.AutoApprovable {
		feedback := fmt.Sprintf("auto-approved after %s with no response", fmtTimeout(record))
		if err := m.finalize(ctx, id, record, StatusAutoApproved, feedback); err != nil {
			return Result{}, err
		}
		m.logger.Info("checkpoint auto-approved", "checkpoint", id)
		return Result{Approved: true, UserFeedback: feedback, AutoApproved: true}, nil
	}

	feedback := "timed out awaiting approval"
	if err := m.finalize(ctx, id, record, StatusTimedOut, feedback); err != nil {
		return Result{}, err
	}
	m.logger.Warn("checkpoint timed out", "checkpoint", id)
	return Result{Approved: false, UserFeedback: feedback, AutoApproved: false}, nil
}

// takeResponse reads and clears the response record for id, if present.
func (m *Manager) takeResponse(ctx context.Context, id string) (Result, bool, error) {
	snap, err := m.store.Read(ctx, m.scope, responseKey(id))
	if err != nil {
		return Result{}, false, fmt.Errorf("read checkpoint response: %w", err)
	}
	raw, ok := snap.Data[responseKey(id)].(map[string]any)
	if !ok {
		return Result{}, false, nil
	}
	if err := m.store.Delete(ctx, m.scope, responseKey(id)); err != nil {
		return Result{}, false, fmt.Errorf("clear checkpoint response: %w", err)
	}

	approved, _ := raw["approved"].(bool)
	feedback, _ := raw["feedback"].(string)
	return Result{Approved: approved, UserFeedback: feedback}, true, nil
}

// finalize moves the record from the active set to the history log.
// Resolved checkpoints are never reopened.
func (m *Manager) finalize(ctx context.Context, id string, record map[string]any, status, feedback string) error {
	if err := m.store.Delete(ctx, m.scope, activeKey(id)); err != nil {
		return fmt.Errorf("remove active checkpoint: %w", err)
	}

	entry := make(map[string]any, len(record)+3)
	for k, v := range record {
		entry[k] = v
	}
	entry["status"] = status
	entry["feedback"] = feedback
	entry["resolved_at"] = m.now().UTC().Format(time.RFC3339Nano)

	// History appends go through the optimistic retry helper so
	// concurrent resolutions never lose entries.
	_, err := state.WriteWithRetry(ctx, m.store, m.scope, func(snap core.Snapshot) (map[string]any, error) {
		history, _ := snap.Data[historyKey].([]any)
		updated := make([]any, 0, len(history)+1)
		updated = append(updated, history...)
		updated = append(updated, entry)
		return map[string]any{historyKey: updated}, nil
	})
	if err != nil {
		return fmt.Errorf("append checkpoint history: %w", err)
	}
	return nil
}

// Approve resolves a pending checkpoint positively. It only writes the
// response record; the waiting Create call applies it.
func (m *Manager) Approve(ctx context.Context, id, feedback string) error {
	return m.respond(ctx, id, true, feedback)
}

// Reject resolves a pending checkpoint negatively.
func (m *Manager) Reject(ctx context.Context, id, feedback string) error {
	return m.respond(ctx, id, false, feedback)
}

// Skip approves a pending checkpoint with fixed feedback.
func (m *Manager) Skip(ctx context.Context, id string) error {
	return m.respond(ctx, id, true, "skipped by user")
}

func (m *Manager) respond(ctx context.Context, id string, approved bool, feedback string) error {
	if _, ok := m.definition(id); !ok {
		return &ErrUnknownCheckpoint{ID: id}
	}
	return m.store.Set(ctx, m.scope, responseKey(id), map[string]any{
		"approved": approved,
		"feedback": feedback,
	})
}

// Active returns the ids of currently pending checkpoints.
func (m *Manager) Active(ctx context.Context) ([]string, error) {
	snap, err := m.store.Read(ctx, m.scope)
	if err != nil {
		return nil, err
	}
	var active []string
	for key := range snap.Data {
		if id, ok := trimActiveKey(key); ok {
			active = append(active, id)
		}
	}
	return active, nil
}

// Stats derives aggregate approval statistics from the history log.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	snap, err := m.store.Read(ctx, m.scope, historyKey)
	if err != nil {
		return Stats{}, err
	}
	history, _ := snap.Data[historyKey].([]any)

	var stats Stats
	for _, item := range history {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		stats.Total++
		switch entry["status"] {
		case StatusApproved:
			stats.Approved++
		case StatusRejected:
			stats.Rejected++
		case StatusAutoApproved:
			stats.AutoApproved++
		case StatusTimedOut:
			stats.TimedOut++
		}
	}
	if stats.Total > 0 {
		stats.ApprovalRate = float64(stats.Approved+stats.AutoApproved) / float64(stats.Total)
	}
	return stats, nil
}

const historyKey = "checkpoint:history"

func activeKey(id string) string   { return "checkpoint:active:" + id }
func responseKey(id string) string { return "checkpoint:response:" + id }

func trimActiveKey(key string) (string, bool) {
	const prefix = "checkpoint:active:"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):], true
	}
	return "", false
}

func fmtTimeout(record map[string]any) string {
	if seconds, ok := record["timeout_s"].(float64); ok {
		return (time.Duration(seconds * float64(time.Second))).String()
	}
	return "timeout"
}
