package gateway

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/hupe1980/agenthub/breaker"
	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/logging"
	"github.com/hupe1980/agenthub/model"
)

// ModelConfig describes one routable model: which provider serves it,
// its context window, pricing per million tokens, and the ordered
// fallback models tried when it fails.
type ModelConfig struct {
	Provider           string   `json:"provider" yaml:"provider"`
	ContextWindow      int      `json:"context_window" yaml:"context_window"`
	InputPricePerMTok  float64  `json:"input_price_per_mtok" yaml:"input_price_per_mtok"`
	OutputPricePerMTok float64  `json:"output_price_per_mtok" yaml:"output_price_per_mtok"`
	Fallbacks          []string `json:"fallbacks" yaml:"fallbacks"`
}

// RetryConfig tunes the per-model retry loop. Only rate-limit,
// overloaded, 5xx and recognized network faults retry; everything else
// advances to the next fallback immediately.
type RetryConfig struct {
	// MaxRetries bounds retries per candidate model; each candidate gets
	// MaxRetries+1 attempts.
	MaxRetries int
	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration
	// Multiplier grows the delay per attempt.
	Multiplier float64
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// JitterFraction adds +/- this fraction of random variance.
	JitterFraction float64
}

// DefaultRetryConfig provides reasonable defaults for backend retries.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     3,
	BaseDelay:      time.Second,
	Multiplier:     2.0,
	MaxDelay:       60 * time.Second,
	JitterFraction: 0.2,
}

// DefaultContextWarnFraction is the share of a model's context window at
// which per-agent context warnings begin.
const DefaultContextWarnFraction = 0.8

// Options configures a Gateway.
type Options struct {
	// Providers are the available backends, indexed by Name().
	Providers []model.Provider
	// Models is the routing table: model id to provider, window, price
	// and fallbacks.
	Models map[string]ModelConfig
	// Retry tunes the backoff loop.
	Retry RetryConfig
	// Breakers enables per-agent circuit breaking when non-nil and the
	// request carries an agent name.
	Breakers *breaker.Registry
	// Notifier receives usage and context_warning notifications
	// (defaults to no-op).
	Notifier core.Notifier
	// ContextWarnFraction overrides DefaultContextWarnFraction.
	ContextWarnFraction float64
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Gateway is the resilient request adapter. Safe for concurrent use.
type Gateway struct {
	providers    map[string]model.Provider
	models       map[string]ModelConfig
	retry        RetryConfig
	breakers     *breaker.Registry
	notifier     core.Notifier
	logger       logging.Logger
	usage        *usageTracker
	warnFraction float64

	// sleep is swapped out by tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Gateway.
func New(optFns ...func(o *Options)) *Gateway {
	opts := Options{
		Retry:               DefaultRetryConfig,
		Notifier:            core.NoOpNotifier{},
		ContextWarnFraction: DefaultContextWarnFraction,
		Logger:              logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	providers := make(map[string]model.Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		providers[p.Name()] = p
	}
	return &Gateway{
		providers:    providers,
		models:       opts.Models,
		retry:        opts.Retry,
		breakers:     opts.Breakers,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
		usage:        newUsageTracker(),
		warnFraction: opts.ContextWarnFraction,
		sleep:        sleepCtx,
	}
}

// Chat routes the request to the model's provider, retrying transient
// failures and walking the fallback chain. When circuit breaking is
// enabled and the request names an agent, the whole chain executes under
// that agent's circuit, so a fast-fail surfaces as *breaker.OpenError
// without touching any backend.
func (g *Gateway) Chat(ctx context.Context, req model.Request) (model.Response, error) {
	if _, ok := g.models[req.Model]; !ok {
		return model.Response{}, model.NewError(model.ErrorTypePermanent, fmt.Sprintf("unknown model %q", req.Model))
	}

	if g.breakers != nil && req.Agent != "" {
		var resp model.Response
		err := g.breakers.Execute(req.Agent, func() error {
			var chainErr error
			resp, chainErr = g.executeChain(ctx, req)
			return chainErr
		})
		return resp, err
	}
	return g.executeChain(ctx, req)
}

// executeChain walks [requested model, fallbacks...], giving each
// candidate MaxRetries+1 attempts for retryable failures.
func (g *Gateway) executeChain(ctx context.Context, req model.Request) (model.Response, error) {
	candidates := g.candidates(req.Model)

	var tried []string
	var lastErr error
	for _, candidate := range candidates {
		cfg, ok := g.models[candidate]
		if !ok {
			g.logger.Warn("skipping unconfigured fallback model", "model", candidate)
			continue
		}
		provider, ok := g.providers[cfg.Provider]
		if !ok {
			g.logger.Warn("skipping model with unconfigured provider", "model", candidate, "provider", cfg.Provider)
			continue
		}

		tried = append(tried, candidate)
		resp, err := g.attemptModel(ctx, provider, req, candidate)
		if err == nil {
			g.recordSuccess(ctx, req, candidate, cfg, &resp)
			return resp, nil
		}
		if ctx.Err() != nil {
			return model.Response{}, ctx.Err()
		}
		lastErr = err
		g.logger.Info("model candidate exhausted, advancing fallback chain",
			"model", candidate, "error", err.Error())
	}

	if lastErr == nil {
		lastErr = model.NewError(model.ErrorTypePermanent, "no routable model candidates")
	}
	return model.Response{}, &ExhaustedError{Models: tried, LastErr: lastErr}
}

// attemptModel retries one candidate with exponential backoff for
// retryable error classes only.
func (g *Gateway) attemptModel(ctx context.Context, provider model.Provider, req model.Request, candidate string) (model.Response, error) {
	attempt := req
	attempt.Model = candidate

	var lastErr error
	for try := 0; try <= g.retry.MaxRetries; try++ {
		start := time.Now()
		resp, err := provider.Chat(ctx, attempt)
		if err == nil {
			g.logger.Debug("provider call succeeded",
				"model", candidate, "attempt", try+1, "duration", time.Since(start))
			return resp, nil
		}
		lastErr = err

		if !model.Classify(err).Retryable() {
			return model.Response{}, err
		}
		if try == g.retry.MaxRetries {
			break
		}

		delay := g.backoffDelay(try + 1)
		if hint, ok := model.RetryAfterHint(err); ok {
			delay = hint
		}
		g.logger.Debug("retrying provider call",
			"model", candidate, "attempt", try+1, "delay", delay, "error", err.Error())
		if err := g.sleep(ctx, delay); err != nil {
			return model.Response{}, err
		}
	}
	return model.Response{}, lastErr
}

// backoffDelay computes base*multiplier^(attempt-1) with +/- jitter,
// capped at MaxDelay.
func (g *Gateway) backoffDelay(attempt int) time.Duration {
	delay := float64(g.retry.BaseDelay) * math.Pow(g.retry.Multiplier, float64(attempt-1))
	if jitter := g.retry.JitterFraction; jitter > 0 {
		delay *= 1 + jitter*(2*rand.Float64()-1)
	}
	capped := time.Duration(delay)
	if g.retry.MaxDelay > 0 && capped > g.retry.MaxDelay {
		capped = g.retry.MaxDelay
	}
	return capped
}

func (g *Gateway) candidates(requested string) []string {
	candidates := []string{requested}
	if cfg, ok := g.models[requested]; ok {
		candidates = append(candidates, cfg.Fallbacks...)
	}
	return candidates
}

// recordSuccess accumulates usage and cost, fires the usage
// notification, and runs the agent's context-budget check.
func (g *Gateway) recordSuccess(_ context.Context, req model.Request, candidate string, cfg ModelConfig, resp *model.Response) {
	if resp.InputTokens == 0 {
		// Provider reported no usage; estimate so budgets still advance.
		resp.InputTokens = estimateInputTokens(req)
	}

	cost := cfg.cost(resp.InputTokens, resp.OutputTokens)
	g.usage.record(candidate, req.Agent, resp.InputTokens, resp.OutputTokens, cost)

	g.notifier.Publish(core.NewNotification(core.KindUsage, req.Agent, map[string]any{
		"model":         candidate,
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
		"cost_usd":      cost,
	}))

	if req.Agent != "" {
		g.checkContextBudget(req.Agent, candidate, cfg)
	}
}

// checkContextBudget warns whenever the agent's cumulative input tokens
// sit at or above the configured fraction of the model's context window.
// The warning deliberately re-fires on every check that remains above
// threshold; it stops only after usage is reset via ResetAgentUsage.
func (g *Gateway) checkContextBudget(agent, modelID string, cfg ModelConfig) {
	if cfg.ContextWindow <= 0 {
		return
	}
	usage := g.usage.agent(agent)
	threshold := int(float64(cfg.ContextWindow) * g.warnFraction)
	if usage.InputTokens < threshold {
		return
	}

	g.usage.recordWarning(agent)
	g.logger.Warn("agent context budget threshold crossed",
		"agent", agent, "model", modelID, "input_tokens", usage.InputTokens, "context_window", cfg.ContextWindow)
	g.notifier.Publish(core.NewNotification(core.KindContextWarning, agent, map[string]any{
		"model":          modelID,
		"input_tokens":   usage.InputTokens,
		"context_window": cfg.ContextWindow,
		"fraction":       g.warnFraction,
		"recommendation": "compact conversation context and reset usage",
	}))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
