package core

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind names a lifecycle notification emitted by the
// substrate for an external metrics/logging collaborator.
type NotificationKind string

// Lifecycle notification kinds. Payload shapes are documented per
// emitter; all payloads are flat key/value maps.
const (
	KindUsage             NotificationKind = "usage"
	KindContextWarning    NotificationKind = "context_warning"
	KindCircuitOpen       NotificationKind = "circuit_open"
	KindCheckpointPending NotificationKind = "checkpoint_pending"
	KindAgentTriggered    NotificationKind = "agent_triggered"
	KindAgentTriggerFail  NotificationKind = "agent_trigger_failed"
	KindEventProcessed    NotificationKind = "event_processed"
	KindStarted           NotificationKind = "started"
	KindStopped           NotificationKind = "stopped"
)

// Notification is the envelope carried over the notification broker.
// After publication it should be treated as immutable.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Agent     string           `json:"agent,omitempty"`
	Payload   map[string]any   `json:"payload,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewNotification constructs a notification with a fresh id and UTC
// timestamp. Agent may be empty for notifications not tied to one agent.
func NewNotification(kind NotificationKind, agent string, payload map[string]any) Notification {
	return Notification{
		ID:        NewID(),
		Kind:      kind,
		Agent:     agent,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Notifier publishes lifecycle notifications. Publish must never block
// and must never fail in the absence of a listener; implementations drop
// notifications rather than stall the caller.
type Notifier interface {
	Publish(n Notification)
}

// NoOpNotifier discards all notifications. Default for components
// constructed without a broker.
type NoOpNotifier struct{}

// Publish implements Notifier.
func (NoOpNotifier) Publish(Notification) {}

// NewID generates a unique identifier for notifications, audit entries
// and checkpoints.
func NewID() string { return uuid.NewString() }
