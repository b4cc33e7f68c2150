package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agenthub/core"
	"github.com/hupe1980/agenthub/model"
)

// feed pushes one successful call with the given input tokens through
// the gateway for the agent.
func feed(t *testing.T, g *Gateway, provider *model.MockProvider, agent string, inputTokens int) {
	t.Helper()
	provider.EnqueueResponse(model.Response{Text: "ok", StopReason: "stop", InputTokens: inputTokens, OutputTokens: 1})
	_, err := g.Chat(context.Background(), model.Request{Model: "primary", Agent: agent})
	require.NoError(t, err)
}

func TestContextWarning_FiresAtThresholdAndRefires(t *testing.T) {
	primary := model.NewMockProvider("mock")
	alt := model.NewMockProvider("alt")
	notifier := &capturingNotifier{}
	g, _ := newTestGateway(t, primary, alt, func(o *Options) { o.Notifier = notifier })

	// Context window is 1000, warn fraction 0.8 -> threshold 800.
	feed(t, g, primary, "coder", 500)
	assert.Empty(t, notifier.byKind(core.KindContextWarning))

	feed(t, g, primary, "coder", 300) // cumulative 800, at threshold
	require.Len(t, notifier.byKind(core.KindContextWarning), 1)

	// Still above threshold: the warning re-fires on every check.
	feed(t, g, primary, "coder", 10)
	feed(t, g, primary, "coder", 10)
	warnings := notifier.byKind(core.KindContextWarning)
	require.Len(t, warnings, 3)
	assert.Equal(t, "coder", warnings[0].Agent)
	assert.Equal(t, 1000, warnings[0].Payload["context_window"])
	assert.Equal(t, 3, g.AgentUsage("coder").Warnings)
}

func TestContextWarning_SilentAfterReset(t *testing.T) {
	primary := model.NewMockProvider("mock")
	alt := model.NewMockProvider("alt")
	notifier := &capturingNotifier{}
	g, _ := newTestGateway(t, primary, alt, func(o *Options) { o.Notifier = notifier })

	feed(t, g, primary, "coder", 900)
	require.Len(t, notifier.byKind(core.KindContextWarning), 1)

	// External compaction happened; usage resets and small calls stay quiet.
	g.ResetAgentUsage("coder")
	assert.Zero(t, g.AgentUsage("coder").InputTokens)

	feed(t, g, primary, "coder", 100)
	assert.Len(t, notifier.byKind(core.KindContextWarning), 1, "no new warning below threshold")
}

func TestContextWarning_AgentsAreSharded(t *testing.T) {
	primary := model.NewMockProvider("mock")
	alt := model.NewMockProvider("alt")
	notifier := &capturingNotifier{}
	g, _ := newTestGateway(t, primary, alt, func(o *Options) { o.Notifier = notifier })

	feed(t, g, primary, "hot", 900)
	feed(t, g, primary, "cold", 100)

	warnings := notifier.byKind(core.KindContextWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "hot", warnings[0].Agent)
}

func TestModelConfigCost(t *testing.T) {
	cfg := ModelConfig{InputPricePerMTok: 3.0, OutputPricePerMTok: 15.0}
	assert.InDelta(t, 0.0, cfg.cost(0, 0), 1e-12)
	assert.InDelta(t, 3.0, cfg.cost(1_000_000, 0), 1e-9)
	assert.InDelta(t, 0.003+0.0015, cfg.cost(1000, 100), 1e-9)
	assert.Zero(t, ModelConfig{}.cost(5000, 5000))
}

func TestEstimateInputTokens_UsedWhenProviderReportsNone(t *testing.T) {
	primary := model.NewMockProvider("mock").
		EnqueueResponse(model.Response{Text: "ok", StopReason: "stop"})
	alt := model.NewMockProvider("alt")
	g, _ := newTestGateway(t, primary, alt)

	_, err := g.Chat(context.Background(), model.Request{
		Model:    "primary",
		Agent:    "coder",
		Messages: []model.Message{{Role: "user", Content: "count my tokens please"}},
	})
	require.NoError(t, err)
	assert.Positive(t, g.AgentUsage("coder").InputTokens, "budget advances via estimation")
}
