package core

// AgentTier classifies how an agent is activated by the dispatcher.
type AgentTier string

const (
	// TierEvent marks reactive agents triggered by named events.
	TierEvent AgentTier = "event"
	// TierSituational marks proactive agents triggered by polled
	// predicates over shared state.
	TierSituational AgentTier = "situational"
	// TierSupport marks on-demand agents invoked only explicitly.
	TierSupport AgentTier = "support"
)

// AgentRegistration statically declares one agent to the dispatcher:
// its tier, the event names it subscribes to, and the HTTP endpoint the
// dispatcher calls to trigger it. Registrations are fixed at dispatcher
// construction; there is no runtime mutation.
type AgentRegistration struct {
	Name     string    `json:"name"`
	Tier     AgentTier `json:"tier"`
	Events   []string  `json:"events,omitempty"`
	Endpoint string    `json:"endpoint"`
}

// Event is the envelope for a pushed event entering the dispatcher. The
// substrate never interprets Payload; event-specific validation hooks
// can be attached per name on the dispatcher.
type Event struct {
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}
