package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenthub/breaker"
	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/model"
)

type capturingNotifier struct {
	notifications []core.Notification
}

func (c *capturingNotifier) Publish(n core.Notification) {
	c.notifications = append(c.notifications, n)
}

func (c *capturingNotifier) byKind(kind core.NotificationKind) []core.Notification {
	var out []core.Notification
	for _, n := range c.notifications {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func testModels() map[string]ModelConfig {
	return map[string]ModelConfig{
		"primary": {
			Provider:           "mock",
			ContextWindow:      1000,
			InputPricePerMTok:  3.0,
			OutputPricePerMTok: 15.0,
			Fallbacks:          []string{"backup"},
		},
		"backup": {
			Provider:      "alt",
			ContextWindow: 1000,
		},
	}
}

// newTestGateway wires mock providers behind the routing table and
// replaces the backoff sleep with a recorder.
func newTestGateway(t *testing.T, primary, alt *model.MockProvider, optFns ...func(o *Options)) (*Gateway, *[]time.Duration) {
	t.Helper()
	delays := &[]time.Duration{}
	g := New(append([]func(o *Options){func(o *Options) {
		o.Providers = []model.Provider{primary, alt}
		o.Models = testModels()
	}}, optFns...)...)
	g.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return g, delays
}

func success(text string) model.Response {
	return model.Response{Text: text, StopReason: "stop", InputTokens: 10, OutputTokens: 5}
}

func TestChat_RetriesRateLimitThenSucceeds(t *testing.T) {
	primary := model.NewMockProvider("mock").
		EnqueueError(&model.Error{Type: model.ErrorTypeRateLimit, StatusCode: 429}).
		EnqueueError(&model.Error{Type: model.ErrorTypeRateLimit, StatusCode: 429}).
		EnqueueResponse(success("third time lucky"))
	alt := model.NewMockProvider("alt")

	g, _ := newTestGateway(t, primary, alt)
	resp, err := g.Chat(context.Background(), model.Request{Model: "primary", Messages: []model.Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "third time lucky", resp.Text)
	assert.Equal(t, 3, primary.CallCount(), "exactly three invocations against the primary model")
	assert.Zero(t, alt.CallCount())
}

func TestChat_PermanentErrorAdvancesWithoutRetry(t *testing.T) {
	primary := model.NewMockProvider("mock").
		EnqueueError(&model.Error{Type: model.ErrorTypePermanent, StatusCode: 401})
	alt := model.NewMockProvider("alt").
		EnqueueResponse(success("from backup"))

	g, delays := newTestGateway(t, primary, alt)
	resp, err := g.Chat(context.Background(), model.Request{Model: "primary"})
	require.NoError(t, err)
	assert.Equal(t, "from backup", resp.Text)
	assert.Equal(t, 1, primary.CallCount(), "permanent failures abort the model after one try")
	assert.Equal(t, 1, alt.CallCount())
	assert.Empty(t, *delays, "no backoff on the permanent path")
}

func TestChat_AllCandidatesFailAggregates(t *testing.T) {
	lastFailure := &model.Error{Type: model.ErrorTypePermanent, StatusCode: 400, Message: "bad request"}
	primary := model.NewMockProvider("mock").
		EnqueueError(&model.Error{Type: model.ErrorTypePermanent, StatusCode: 401})
	alt := model.NewMockProvider("alt").EnqueueError(lastFailure)

	g, _ := newTestGateway(t, primary, alt)
	_, err := g.Chat(context.Background(), model.Request{Model: "primary"})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, []string{"primary", "backup"}, exhausted.Models)
	assert.ErrorIs(t, err, lastFailure)
}

func TestChat_TransientExhaustsRetriesThenFallsBack(t *testing.T) {
	primary := model.NewMockProvider("mock")
	for i := 0; i < 10; i++ {
		primary.EnqueueError(&model.Error{Type: model.ErrorTypeTransient, StatusCode: 503})
	}
	alt := model.NewMockProvider("alt").EnqueueResponse(success("backup wins"))

	g, _ := newTestGateway(t, primary, alt, func(o *Options) {
		o.Retry = RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	})
	resp, err := g.Chat(context.Background(), model.Request{Model: "primary"})
	require.NoError(t, err)
	assert.Equal(t, "backup wins", resp.Text)
	assert.Equal(t, 3, primary.CallCount(), "MaxRetries+1 attempts per candidate")
}

func TestChat_RetryAfterHintOverridesBackoff(t *testing.T) {
	primary := model.NewMockProvider("mock").
		EnqueueError(&model.Error{Type: model.ErrorTypeRateLimit, StatusCode: 429, RetryAfter: 7 * time.Second}).
		EnqueueResponse(success("ok"))
	alt := model.NewMockProvider("alt")

	g, delays := newTestGateway(t, primary, alt)
	_, err := g.Chat(context.Background(), model.Request{Model: "primary"})
	require.NoError(t, err)
	require.Len(t, *delays, 1)
	assert.Equal(t, 7*time.Second, (*delays)[0])
}

func TestChat_UnknownModelIsPermanent(t *testing.T) {
	g, _ := newTestGateway(t, model.NewMockProvider("mock"), model.NewMockProvider("alt"))
	_, err := g.Chat(context.Background(), model.Request{Model: "nope"})
	require.Error(t, err)
	assert.Equal(t, model.ErrorTypePermanent, model.Classify(err))
}

func TestChat_CircuitBreakerFastFails(t *testing.T) {
	primary := model.NewMockProvider("mock")
	for i := 0; i < 20; i++ {
		primary.EnqueueError(&model.Error{Type: model.ErrorTypePermanent, StatusCode: 401})
	}
	alt := model.NewMockProvider("alt")
	for i := 0; i < 20; i++ {
		alt.EnqueueError(&model.Error{Type: model.ErrorTypePermanent, StatusCode: 401})
	}

	breakers := breaker.NewRegistry(func(o *breaker.Options) {
		o.Config = breaker.Config{Threshold: 2, ResetTimeout: time.Hour}
	})
	g, _ := newTestGateway(t, primary, alt, func(o *Options) { o.Breakers = breakers })

	req := model.Request{Model: "primary", Agent: "coder"}
	for i := 0; i < 2; i++ {
		_, err := g.Chat(context.Background(), req)
		require.Error(t, err)
	}
	callsBefore := primary.CallCount()

	_, err := g.Chat(context.Background(), req)
	var oe *breaker.OpenError
	require.ErrorAs(t, err, &oe, "circuit-open must be distinguishable from backend errors")
	assert.Equal(t, callsBefore, primary.CallCount(), "open circuit must not reach the backend")

	// Requests without an agent name bypass the circuit.
	_, err = g.Chat(context.Background(), model.Request{Model: "backup"})
	require.Error(t, err) // backend still failing, but it was invoked
	assert.NotErrorAs(t, err, &oe)
}

func TestChat_RecordsUsageAndCost(t *testing.T) {
	primary := model.NewMockProvider("mock").
		EnqueueResponse(model.Response{Text: "ok", StopReason: "stop", InputTokens: 1_000_000, OutputTokens: 2_000_000})
	alt := model.NewMockProvider("alt")
	notifier := &capturingNotifier{}

	g, _ := newTestGateway(t, primary, alt, func(o *Options) { o.Notifier = notifier })
	_, err := g.Chat(context.Background(), model.Request{Model: "primary", Agent: "coder"})
	require.NoError(t, err)

	total := g.TotalUsage()
	assert.Equal(t, 1, total.Requests)
	assert.Equal(t, 1_000_000, total.InputTokens)
	assert.InDelta(t, 3.0+2*15.0, total.CostUSD, 1e-9)

	perModel := g.ModelUsage()
	assert.Equal(t, 1, perModel["primary"].Requests)

	agent := g.AgentUsage("coder")
	assert.Equal(t, 1_000_000, agent.InputTokens)
	assert.Equal(t, "primary", agent.Model)

	usageNotes := notifier.byKind(core.KindUsage)
	require.Len(t, usageNotes, 1)
	assert.Equal(t, "coder", usageNotes[0].Agent)
	assert.Equal(t, "primary", usageNotes[0].Payload["model"])
}

func TestHealthCheck_SwallowsFailures(t *testing.T) {
	primary := model.NewMockProvider("mock").EnqueueResponse(success("pong"))
	alt := model.NewMockProvider("alt").EnqueueError(errors.New("connection refused"))

	g, _ := newTestGateway(t, primary, alt)
	health := g.HealthCheck(context.Background())
	assert.True(t, health["mock"])
	assert.False(t, health["alt"])
}
