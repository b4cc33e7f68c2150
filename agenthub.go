// Package agenthub provides a high-level façade over the coordination
// substrate: the shared state store, the resilient model gateway with
// its circuit breakers, the checkpoint approval manager, the event
// dispatcher and the notification broker. Most applications interact
// with this package by:
//  1. Creating a Hub via New() (optionally overriding the default
//     in-memory store, providers and tuning)
//  2. Calling Start() to launch the dispatcher poll loop and metrics
//  3. Using the component accessors (Gateway, State, Checkpoints,
//     Dispatcher) from agent code
//
// All defaults are safe for local development and testing; production
// deployments typically supply a Redis-backed store, real provider
// credentials and a structured logger.
package agenthub

import (
	"context"
	"sync"

	"github.com/hupe1980/agenthub/breaker"
	"github.com/hupe1980/agenthub/checkpoint"
	"github.com/hupe1980/agenthub/config"
	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/dispatch"
	"github.com/hupe1980/agenthub/gateway"
	"github.com/hupe1980/agenthub/logging"
	"github.com/hupe1980/agenthub/metrics"
	"github.com/hupe1980/agenthub/model"
	"github.com/hupe1980/agenthub/model/anthropic"
	"github.com/hupe1980/agenthub/model/ollama"
	"github.com/hupe1980/agenthub/model/openai"
	"github.com/hupe1980/agenthub/notify"
	"github.com/hupe1980/agenthub/state"
)

// Options configures the Hub.
type Options struct {
	// Store holds the shared agent state (defaults to in-memory).
	Store core.StateStore

	// Providers are the model backends the gateway routes to.
	Providers []model.Provider
	// Models is the routing table: model id to provider, pricing and
	// fallback chain.
	Models map[string]gateway.ModelConfig
	// Retry tunes the gateway's per-model retry behavior.
	Retry gateway.RetryConfig
	// Breaker tunes the per-agent circuit breakers.
	Breaker breaker.Config
	// ContextWarnFraction is the context budget warning threshold.
	ContextWarnFraction float64

	// Registrations is the static agent roster for the dispatcher.
	Registrations []core.AgentRegistration
	// Dispatch tunes the dispatcher. An unset Notifier or Logger
	// defaults to the hub's broker and logger.
	Dispatch dispatch.Options

	// Checkpoint tunes the approval manager. An unset Notifier or
	// Logger defaults to the hub's broker and logger.
	Checkpoint checkpoint.Options

	// Metrics enables the Prometheus collector consuming the broker.
	Metrics *metrics.Collector

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Hub is the high-level façade aggregating the substrate's components.
type Hub struct {
	opts        Options
	store       core.StateStore
	broker      *notify.Broker
	breakers    *breaker.Registry
	gateway     *gateway.Gateway
	checkpoints *checkpoint.Manager
	dispatcher  *dispatch.Dispatcher

	mu            sync.Mutex
	metricsCancel context.CancelFunc
	started       bool
}

// New creates a Hub with optional overrides. Any unset component is
// initialized with its in-memory default.
func New(optFns ...func(o *Options)) *Hub {
	opts := Options{
		Store:               state.NewInMemoryStore(),
		Breaker:             breaker.DefaultConfig,
		ContextWarnFraction: gateway.DefaultContextWarnFraction,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	broker := notify.NewBroker(func(o *notify.Options) { o.Logger = opts.Logger })
	breakers := breaker.NewRegistry(func(o *breaker.Options) {
		o.Config = opts.Breaker
		o.Notifier = broker
		o.Logger = opts.Logger
	})
	gw := gateway.New(func(o *gateway.Options) {
		o.Providers = opts.Providers
		o.Models = opts.Models
		if opts.Retry != (gateway.RetryConfig{}) {
			o.Retry = opts.Retry
		}
		o.Breakers = breakers
		o.Notifier = broker
		o.Logger = opts.Logger
		o.ContextWarnFraction = opts.ContextWarnFraction
	})
	checkpoints := checkpoint.NewManager(opts.Store, func(o *checkpoint.Options) {
		o.Notifier = broker
		o.Logger = opts.Logger
		*o = applyCheckpointDefaults(opts.Checkpoint, *o)
	})
	dispatcher := dispatch.NewDispatcher(opts.Store, opts.Registrations, func(o *dispatch.Options) {
		o.Notifier = broker
		o.Logger = opts.Logger
		*o = applyDispatchDefaults(opts.Dispatch, *o)
	})

	return &Hub{
		opts:        opts,
		store:       opts.Store,
		broker:      broker,
		breakers:    breakers,
		gateway:     gw,
		checkpoints: checkpoints,
		dispatcher:  dispatcher,
	}
}

// NewFromConfig builds a Hub from a loaded configuration file,
// constructing one provider per configured backend.
func NewFromConfig(cfg config.Config, optFns ...func(o *Options)) *Hub {
	var providers []model.Provider
	if p, ok := cfg.Providers["anthropic"]; ok {
		providers = append(providers, anthropic.New(func(o *anthropic.Options) {
			o.APIKey = p.APIKey()
		}))
	}
	if p, ok := cfg.Providers["openai"]; ok {
		providers = append(providers, openai.New(func(o *openai.Options) {
			o.APIKey = p.APIKey()
		}))
	}
	if p, ok := cfg.Providers["ollama"]; ok {
		providers = append(providers, ollama.New(func(o *ollama.Options) {
			if p.Host != "" {
				o.Host = p.Host
			}
		}))
	}

	return New(append([]func(o *Options){func(o *Options) {
		o.Providers = providers
		o.Models = cfg.GatewayModels()
		o.Retry = cfg.GatewayRetry()
		o.Breaker = breaker.Config{
			Threshold:    cfg.Breaker.Threshold,
			ResetTimeout: cfg.Breaker.ResetTimeout.Std(),
		}
		o.ContextWarnFraction = cfg.ContextWarnFraction
		o.Checkpoint.PollInterval = cfg.Checkpoint.PollInterval.Std()
		o.Checkpoint.DefaultTimeout = cfg.Checkpoint.DefaultTimeout.Std()
		o.Dispatch.PollInterval = cfg.Dispatch.PollInterval.Std()
		o.Dispatch.OpportunisticProbability = cfg.Dispatch.OpportunisticProbability
		o.Dispatch.OpportunisticAgent = cfg.Dispatch.OpportunisticAgent
	}}, optFns...)...)
}

// State returns the shared state store.
func (h *Hub) State() core.StateStore { return h.store }

// Gateway returns the resilient model gateway.
func (h *Hub) Gateway() *gateway.Gateway { return h.gateway }

// Breakers returns the circuit breaker registry.
func (h *Hub) Breakers() *breaker.Registry { return h.breakers }

// Checkpoints returns the approval manager.
func (h *Hub) Checkpoints() *checkpoint.Manager { return h.checkpoints }

// Dispatcher returns the event dispatcher.
func (h *Hub) Dispatcher() *dispatch.Dispatcher { return h.dispatcher }

// Emit queues an event for asynchronous dispatch.
func (h *Hub) Emit(event core.Event) { h.dispatcher.Emit(event) }

// Notifications subscribes to the hub's notification stream.
func (h *Hub) Notifications(buffer int) (<-chan core.Notification, func()) {
	return h.broker.Subscribe(buffer)
}

// Start launches the dispatcher poll loop and, when configured, the
// metrics consumer. Idempotent.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true

	if h.opts.Metrics != nil {
		mctx, cancel := context.WithCancel(context.Background())
		h.metricsCancel = cancel
		go h.opts.Metrics.Run(mctx, h.broker)
	}
	h.dispatcher.Start(ctx)
	h.broker.Publish(core.NewNotification(core.KindStarted, "", nil))
}

// Stop halts the poll loop, announces shutdown and closes the broker.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return
	}
	h.started = false

	h.dispatcher.Stop()
	h.broker.Publish(core.NewNotification(core.KindStopped, "", nil))
	if h.metricsCancel != nil {
		h.metricsCancel()
		h.metricsCancel = nil
	}
	h.broker.Close()
}

// applyCheckpointDefaults overlays the caller's non-zero checkpoint
// settings onto the hub-wired defaults.
func applyCheckpointDefaults(override, defaults checkpoint.Options) checkpoint.Options {
	out := defaults
	if override.Notifier != nil {
		out.Notifier = override.Notifier
	}
	if override.Logger != nil {
		out.Logger = override.Logger
	}
	if override.Scope != "" {
		out.Scope = override.Scope
	}
	if override.PollInterval > 0 {
		out.PollInterval = override.PollInterval
	}
	if override.DefaultTimeout > 0 {
		out.DefaultTimeout = override.DefaultTimeout
	}
	return out
}

// applyDispatchDefaults overlays the caller's non-zero dispatch
// settings onto the hub-wired defaults.
func applyDispatchDefaults(override, defaults dispatch.Options) dispatch.Options {
	out := defaults
	if override.Notifier != nil {
		out.Notifier = override.Notifier
	}
	if override.Logger != nil {
		out.Logger = override.Logger
	}
	if override.HTTPClient != nil {
		out.HTTPClient = override.HTTPClient
	}
	if override.PollInterval > 0 {
		out.PollInterval = override.PollInterval
	}
	if override.OpportunisticProbability > 0 {
		out.OpportunisticProbability = override.OpportunisticProbability
	}
	if override.OpportunisticAgent != "" {
		out.OpportunisticAgent = override.OpportunisticAgent
	}
	if override.EventBuffer > 0 {
		out.EventBuffer = override.EventBuffer
	}
	return out
}
