// Package dispatch routes events to agents. Registrations are static:
// the full agent roster is known at construction time and an inverted
// event index is built once. Event-tier agents are woken by name when
// one of their subscribed events fires; situational agents are polled
// against the state store; support-tier agents are occasionally woken
// opportunistically so background hygiene work still happens.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/logging"
)

// ErrUnknownAgent is returned when a trigger names an unregistered agent.
var ErrUnknownAgent = errors.New("unknown agent")

// Situation pairs an agent with a predicate over the shared state. Each
// poll cycle the predicate runs; when it holds, the agent is triggered
// with the payload the predicate produced.
type Situation struct {
	// Agent is the registered agent to wake.
	Agent string
	// Holds inspects the store and reports whether the agent should run
	// now, with an optional trigger payload.
	Holds func(ctx context.Context, store core.StateStore) (bool, map[string]any)
}

// Dispatcher fans events out to registered agent endpoints over HTTP
// and runs the situational poll loop. Safe for concurrent use after
// construction; registrations never change.
type Dispatcher struct {
	store         core.StateStore
	notifier      core.Notifier
	logger        logging.Logger
	client        *http.Client
	registrations map[string]core.AgentRegistration
	index         map[string][]string
	situations    []Situation
	events        chan core.Event
	pollInterval  time.Duration
	opportunistic float64
	oppAgent      string
	rand          func() float64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Options configures a Dispatcher.
type Options struct {
	// Notifier receives trigger and event-processed notifications
	// (defaults to no-op).
	Notifier core.Notifier
	// HTTPClient posts trigger requests to agent endpoints.
	HTTPClient *http.Client
	// PollInterval is the situational evaluation cycle.
	PollInterval time.Duration
	// OpportunisticProbability is the chance, per dispatched event, of
	// additionally waking the OpportunisticAgent, and the per-cycle
	// chance of waking each support-tier agent. Zero disables
	// opportunistic triggering.
	OpportunisticProbability float64
	// OpportunisticAgent is the designated agent occasionally woken on
	// events it never subscribed to.
	OpportunisticAgent string
	// EventBuffer sizes the Emit queue drained by the Start loop.
	EventBuffer int
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// NewDispatcher builds the event index from the given registrations.
func NewDispatcher(store core.StateStore, registrations []core.AgentRegistration, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		Notifier:                 core.NoOpNotifier{},
		HTTPClient:               &http.Client{Timeout: 10 * time.Second},
		PollInterval:             30 * time.Second,
		OpportunisticProbability: 0.05,
		EventBuffer:              64,
		Logger:                   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	regs := make(map[string]core.AgentRegistration, len(registrations))
	index := make(map[string][]string)
	for _, reg := range registrations {
		regs[reg.Name] = reg
		for _, event := range reg.Events {
			index[event] = append(index[event], reg.Name)
		}
	}

	return &Dispatcher{
		store:         store,
		notifier:      opts.Notifier,
		logger:        opts.Logger,
		client:        opts.HTTPClient,
		registrations: regs,
		index:         index,
		events:        make(chan core.Event, opts.EventBuffer),
		pollInterval:  opts.PollInterval,
		opportunistic: opts.OpportunisticProbability,
		oppAgent:      opts.OpportunisticAgent,
		rand:          rand.Float64,
	}
}

// RegisterSituation adds a situational predicate. Call before Start.
func (d *Dispatcher) RegisterSituation(s Situation) {
	d.situations = append(d.situations, s)
}

// Agents returns the names of all registered agents.
func (d *Dispatcher) Agents() []string {
	names := make([]string, 0, len(d.registrations))
	for name := range d.registrations {
		names = append(names, name)
	}
	return names
}

// Dispatch fans an event out to every agent subscribed to it. Trigger
// failures are logged and do not stop delivery to the remaining
// subscribers.
func (d *Dispatcher) Dispatch(ctx context.Context, event core.Event) error {
	subscribers := d.index[event.Name]
	triggered := 0
	var lastErr error
	for _, agent := range subscribers {
		if err := d.TriggerAgent(ctx, agent, event.Payload); err != nil {
			d.logger.Warn("event delivery failed", "event", event.Name, "agent", agent, "error", err)
			lastErr = err
			continue
		}
		triggered++
	}

	// One designated agent occasionally rides along on events it never
	// subscribed to, independent of the index. Best effort.
	if d.oppAgent != "" && d.opportunistic > 0 && d.rand() < d.opportunistic {
		if err := d.TriggerAgent(ctx, d.oppAgent, event.Payload); err != nil {
			d.logger.Debug("opportunistic trigger failed", "agent", d.oppAgent, "error", err)
		}
	}

	d.notifier.Publish(core.NewNotification(core.KindEventProcessed, "", map[string]any{
		"event":       event.Name,
		"subscribers": len(subscribers),
		"triggered":   triggered,
	}))
	d.logger.Debug("event processed", "event", event.Name, "subscribers", len(subscribers), "triggered", triggered)
	return lastErr
}

// Emit queues an event for asynchronous dispatch by the Start loop.
// Non-blocking: when the queue is full the event is dropped with a log.
func (d *Dispatcher) Emit(event core.Event) {
	select {
	case d.events <- event:
	default:
		d.logger.Warn("event queue full, event dropped", "event", event.Name)
	}
}

// TriggerAgent posts a trigger request to the agent's endpoint. The
// body is the payload with agent name and timestamp merged in.
func (d *Dispatcher) TriggerAgent(ctx context.Context, agent string, payload map[string]any) error {
	reg, ok := d.registrations[agent]
	if !ok {
		d.logger.Warn("trigger for unregistered agent dropped", "agent", agent)
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agent)
	}

	body := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		body[k] = v
	}
	body["agent"] = agent
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode trigger payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reg.Endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.publishTriggerFail(agent, err.Error())
		return fmt.Errorf("trigger agent %s: %w", agent, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.publishTriggerFail(agent, resp.Status)
		return fmt.Errorf("trigger agent %s: unexpected status %s", agent, resp.Status)
	}

	d.notifier.Publish(core.NewNotification(core.KindAgentTriggered, agent, map[string]any{
		"endpoint": reg.Endpoint,
	}))
	return nil
}

func (d *Dispatcher) publishTriggerFail(agent, reason string) {
	d.notifier.Publish(core.NewNotification(core.KindAgentTriggerFail, agent, map[string]any{
		"reason": reason,
	}))
}

// Start launches the dispatch loop: it drains the Emit queue and
// re-evaluates situational predicates on the poll interval. Idempotent:
// a running dispatcher ignores further Start calls.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	// Capture the channel: Stop nils d.done, which would race with a
	// deferred read of the field once the goroutine is scheduled.
	done := d.done
	go func() {
		defer close(done)
		ticker := time.NewTicker(d.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case event := <-d.events:
				if err := d.Dispatch(ctx, event); err != nil {
					d.logger.Warn("queued event dispatch failed", "event", event.Name, "error", err)
				}
			case <-ticker.C:
				d.pollCycle(ctx)
			}
		}
	}()
}

// Stop halts the poll loop and waits for the current cycle to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// pollCycle evaluates every situational predicate and rolls the
// opportunistic dice for support-tier agents.
func (d *Dispatcher) pollCycle(ctx context.Context) {
	for _, s := range d.situations {
		holds, payload := s.Holds(ctx, d.store)
		if !holds {
			continue
		}
		if err := d.TriggerAgent(ctx, s.Agent, payload); err != nil {
			d.logger.Warn("situational trigger failed", "agent", s.Agent, "error", err)
		}
	}

	if d.opportunistic <= 0 {
		return
	}
	for name, reg := range d.registrations {
		if reg.Tier != core.TierSupport {
			continue
		}
		if d.rand() >= d.opportunistic {
			continue
		}
		if err := d.TriggerAgent(ctx, name, map[string]any{"reason": "opportunistic"}); err != nil {
			d.logger.Debug("opportunistic trigger failed", "agent", name, "error", err)
		}
	}
}
