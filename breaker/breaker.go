// Package breaker provides a registry of per-agent circuit breakers.
// Each logical caller gets its own failure-isolation state machine, so a
// flapping dependency behind one agent never blocks unrelated agents.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/logging"
)

// Mode represents the state of one circuit breaker.
type Mode int

const (
	// Closed is normal operation; calls pass through.
	Closed Mode = iota
	// Open rejects calls until the reset timeout elapses.
	Open
	// HalfOpen allows a single probe call after the reset timeout.
	HalfOpen
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// OpenError is returned when a call is rejected because the agent's
// circuit is open. It is distinguishable from real backend errors via
// errors.As.
type OpenError struct {
	Agent string
	Since time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for agent %q since %s", e.Agent, e.Since.Format(time.RFC3339))
}

// State is an introspection snapshot of one agent's circuit.
type State struct {
	Agent        string        `json:"agent"`
	Mode         Mode          `json:"mode"`
	Failures     int           `json:"failures"`
	LastFailure  time.Time     `json:"last_failure"`
	Threshold    int           `json:"threshold"`
	ResetTimeout time.Duration `json:"reset_timeout"`
}

// Config defines circuit breaker behavior shared by all circuits in a registry.
type Config struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// ResetTimeout is how long an open circuit rejects calls before
	// allowing a half-open probe.
	ResetTimeout time.Duration
}

// DefaultConfig provides reasonable defaults for circuit behavior.
var DefaultConfig = Config{
	Threshold:    5,
	ResetTimeout: 30 * time.Second,
}

type circuit struct {
	mode        Mode
	failures    int
	lastFailure time.Time
}

// Registry owns one circuit per agent name, created lazily on first use.
// Independent Registry instances never interfere; there is no package
// level state.
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   Config
	notifier core.Notifier
	logger   logging.Logger
	now      func() time.Time
}

// Options configures a Registry.
type Options struct {
	// Config for all circuits in this registry.
	Config Config
	// Notifier receives circuit_open notifications (defaults to no-op).
	Notifier core.Notifier
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(optFns ...func(o *Options)) *Registry {
	opts := Options{
		Config:   DefaultConfig,
		Notifier: core.NoOpNotifier{},
		Logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		circuits: make(map[string]*circuit),
		config:   opts.Config,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// Execute runs op under the agent's circuit. If the circuit is open and
// the reset timeout has not elapsed, op is not invoked and an *OpenError
// is returned immediately. Otherwise op runs; a success resets the
// circuit to closed, a failure increments the consecutive-failure count
// and opens the circuit at the threshold.
func (r *Registry) Execute(agent string, op func() error) error {
	if err := r.allow(agent); err != nil {
		return err
	}
	err := op()
	r.record(agent, err == nil)
	return err
}

func (r *Registry) allow(agent string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuitLocked(agent)
	if c.mode != Open {
		return nil
	}
	if r.now().Sub(c.lastFailure) >= r.config.ResetTimeout {
		c.mode = HalfOpen
		r.logger.Debug("circuit half-open", "agent", agent)
		return nil
	}
	return &OpenError{Agent: agent, Since: c.lastFailure}
}

func (r *Registry) record(agent string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.circuitLocked(agent)
	if success {
		c.failures = 0
		c.mode = Closed
		return
	}

	c.failures++
	c.lastFailure = r.now()
	if c.mode == HalfOpen || c.failures >= r.config.Threshold {
		wasOpen := c.mode == Open
		c.mode = Open
		if !wasOpen {
			r.logger.Warn("circuit opened", "agent", agent, "failures", c.failures)
			r.notifier.Publish(core.NewNotification(core.KindCircuitOpen, agent, map[string]any{
				"failures":  c.failures,
				"threshold": r.config.Threshold,
			}))
		}
	}
}

// States returns an introspection snapshot of every known circuit.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.circuits))
	for agent, c := range r.circuits {
		out[agent] = r.snapshotLocked(agent, c)
	}
	return out
}

// OpenAgents returns the names of agents whose circuit is currently open.
func (r *Registry) OpenAgents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var open []string
	for agent, c := range r.circuits {
		if c.mode == Open {
			open = append(open, agent)
		}
	}
	return open
}

// Reset closes the named agent's circuit and clears its failure count.
func (r *Registry) Reset(agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.circuits[agent]; ok {
		c.mode = Closed
		c.failures = 0
	}
}

// ResetAll closes every circuit in the registry.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.circuits {
		c.mode = Closed
		c.failures = 0
	}
}

// circuitLocked returns the circuit for agent, creating it lazily.
// Caller must hold the lock.
func (r *Registry) circuitLocked(agent string) *circuit {
	c, ok := r.circuits[agent]
	if !ok {
		c = &circuit{mode: Closed}
		r.circuits[agent] = c
	}
	return c
}

func (r *Registry) snapshotLocked(agent string, c *circuit) State {
	return State{
		Agent:        agent,
		Mode:         c.mode,
		Failures:     c.failures,
		LastFailure:  c.lastFailure,
		Threshold:    r.config.Threshold,
		ResetTimeout: r.config.ResetTimeout,
	}
}
