package gateway

import "sync"

// Usage aggregates token and cost accounting for one accounting bucket
// (global or per model).
type Usage struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// AgentUsage tracks one agent's cumulative usage since its last reset,
// plus how many context warnings have fired for it.
type AgentUsage struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
	Warnings     int    `json:"warnings"`
}

// usageTracker owns the gateway's accounting maps, sharded by model and
// agent name. Instance-owned, never package level, so independent
// gateways cannot interfere.
type usageTracker struct {
	mu       sync.Mutex
	global   Usage
	perModel map[string]*Usage
	perAgent map[string]*AgentUsage
}

func newUsageTracker() *usageTracker {
	return &usageTracker{
		perModel: make(map[string]*Usage),
		perAgent: make(map[string]*AgentUsage),
	}
}

func (t *usageTracker) record(modelID, agent string, inputTokens, outputTokens int, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.global.Requests++
	t.global.InputTokens += inputTokens
	t.global.OutputTokens += outputTokens
	t.global.CostUSD += cost

	mu, ok := t.perModel[modelID]
	if !ok {
		mu = &Usage{}
		t.perModel[modelID] = mu
	}
	mu.Requests++
	mu.InputTokens += inputTokens
	mu.OutputTokens += outputTokens
	mu.CostUSD += cost

	if agent == "" {
		return
	}
	au, ok := t.perAgent[agent]
	if !ok {
		au = &AgentUsage{}
		t.perAgent[agent] = au
	}
	au.InputTokens += inputTokens
	au.OutputTokens += outputTokens
	au.Model = modelID
}

func (t *usageTracker) agent(name string) AgentUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	if au, ok := t.perAgent[name]; ok {
		return *au
	}
	return AgentUsage{}
}

func (t *usageTracker) recordWarning(agent string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if au, ok := t.perAgent[agent]; ok {
		au.Warnings++
	}
}

func (t *usageTracker) resetAgent(agent string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.perAgent, agent)
}

func (t *usageTracker) snapshot() (Usage, map[string]Usage, map[string]AgentUsage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	models := make(map[string]Usage, len(t.perModel))
	for k, v := range t.perModel {
		models[k] = *v
	}
	agents := make(map[string]AgentUsage, len(t.perAgent))
	for k, v := range t.perAgent {
		agents[k] = *v
	}
	return t.global, models, agents
}

// TotalUsage returns the gateway-wide accounting totals.
func (g *Gateway) TotalUsage() Usage {
	total, _, _ := g.usage.snapshot()
	return total
}

// ModelUsage returns accounting totals per model id.
func (g *Gateway) ModelUsage() map[string]Usage {
	_, models, _ := g.usage.snapshot()
	return models
}

// AgentUsage returns the named agent's cumulative usage since its last
// reset.
func (g *Gateway) AgentUsage(agent string) AgentUsage {
	return g.usage.agent(agent)
}

// ResetAgentUsage clears an agent's cumulative usage. Call after an
// external compaction action so context warnings stop firing.
func (g *Gateway) ResetAgentUsage(agent string) {
	g.usage.resetAgent(agent)
}
