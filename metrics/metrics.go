// Package metrics exports Prometheus counters for the substrate. The
// Collector is a plain notification consumer: it subscribes to the
// broker and translates lifecycle notifications into counter
// increments, so instrumented components never import Prometheus
// themselves.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hupe1980/agenthub/core"
)

// Collector holds the substrate's Prometheus metrics and updates them
// from notifications.
type Collector struct {
	requests        prometheus.Counter
	tokens          *prometheus.CounterVec
	costUSD         prometheus.Counter
	circuitOpens    *prometheus.CounterVec
	events          prometheus.Counter
	checkpoints     *prometheus.CounterVec
	contextWarnings *prometheus.CounterVec
	triggers        *prometheus.CounterVec
}

// Options configures a Collector.
type Options struct {
	// Registerer receives the collectors (defaults to the global
	// Prometheus registerer).
	Registerer prometheus.Registerer
}

// NewCollector registers the substrate metrics with the registerer.
func NewCollector(optFns ...func(o *Options)) *Collector {
	opts := Options{Registerer: prometheus.DefaultRegisterer}
	for _, fn := range optFns {
		fn(&opts)
	}
	factory := promauto.With(opts.Registerer)

	return &Collector{
		requests: factory.NewCounter(prometheus.CounterOpts{
			Name: "agenthub_requests_total",
			Help: "Completed model requests.",
		}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agenthub_tokens_total",
			Help: "Tokens consumed by model requests.",
		}, []string{"type"}),
		costUSD: factory.NewCounter(prometheus.CounterOpts{
			Name: "agenthub_cost_usd_total",
			Help: "Accumulated model spend in USD.",
		}),
		circuitOpens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agenthub_circuit_open_total",
			Help: "Circuit breaker open transitions per agent.",
		}, []string{"agent"}),
		events: factory.NewCounter(prometheus.CounterOpts{
			Name: "agenthub_events_total",
			Help: "Events processed by the dispatcher.",
		}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agenthub_checkpoints_total",
			Help: "Checkpoint lifecycle transitions by status.",
		}, []string{"status"}),
		contextWarnings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agenthub_context_warnings_total",
			Help: "Context budget warnings per agent.",
		}, []string{"agent"}),
		triggers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agenthub_agent_triggers_total",
			Help: "Agent trigger attempts by outcome.",
		}, []string{"agent", "outcome"}),
	}
}

// Observe updates the metrics for one notification. Unknown kinds are
// ignored.
func (c *Collector) Observe(n core.Notification) {
	switch n.Kind {
	case core.KindUsage:
		c.requests.Inc()
		c.tokens.WithLabelValues("input").Add(toFloat(n.Payload["input_tokens"]))
		c.tokens.WithLabelValues("output").Add(toFloat(n.Payload["output_tokens"]))
		c.costUSD.Add(toFloat(n.Payload["cost_usd"]))
	case core.KindCircuitOpen:
		c.circuitOpens.WithLabelValues(n.Agent).Inc()
	case core.KindEventProcessed:
		c.events.Inc()
	case core.KindCheckpointPending:
		c.checkpoints.WithLabelValues("pending").Inc()
	case core.KindContextWarning:
		c.contextWarnings.WithLabelValues(n.Agent).Inc()
	case core.KindAgentTriggered:
		c.triggers.WithLabelValues(n.Agent, "ok").Inc()
	case core.KindAgentTriggerFail:
		c.triggers.WithLabelValues(n.Agent, "failed").Inc()
	}
}

// Subscriber is the part of the broker the collector consumes.
type Subscriber interface {
	Subscribe(buffer int) (<-chan core.Notification, func())
}

// Run consumes notifications until ctx is cancelled or the broker
// closes. Intended to run as a goroutine for the life of the hub.
func (c *Collector) Run(ctx context.Context, broker Subscriber) {
	ch, cancel := broker.Subscribe(0)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(n)
		}
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
