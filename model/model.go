package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one turn of the ordered conversation sent to a provider.
// Role is "user", "assistant" or "tool".
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a function invocation request surfaced by a provider,
// unified across vendors so downstream logic needs no per-provider
// branching.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Request is the normalized chat input routed by the gateway. Agent is
// the logical caller name used for circuit breaking and usage
// accounting; it never reaches the provider.
type Request struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	System      string           `json:"system,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int64            `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	Agent       string           `json:"agent,omitempty"`
}

// Response is the normalized provider output.
type Response struct {
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	StopReason   string     `json:"stop_reason"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	Model        string     `json:"model"`
}

// Provider is the minimal interface a backend must implement. Chat is
// synchronous; resilience (retries, fallback, circuit breaking) lives in
// the gateway, not in providers.
type Provider interface {
	Chat(ctx context.Context, req Request) (Response, error)

	// Name returns the provider identifier ("anthropic", "openai", ...).
	Name() string
}

// MockProvider is a scripted in-memory Provider for tests. Each call to
// Chat consumes the next scripted step; once the script is exhausted the
// last step repeats.
type MockProvider struct {
	name string

	mu    sync.Mutex
	steps []mockStep
	calls []Request
}

type mockStep struct {
	resp Response
	err  error
}

// NewMockProvider constructs a MockProvider with the given name.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

// EnqueueResponse scripts a successful response for a future Chat call.
func (m *MockProvider) EnqueueResponse(resp Response) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, mockStep{resp: resp})
	return m
}

// EnqueueError scripts a failure for a future Chat call.
func (m *MockProvider) EnqueueError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, mockStep{err: err})
	return m
}

// Chat implements Provider by replaying the script in order.
func (m *MockProvider) Chat(_ context.Context, req Request) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if len(m.steps) == 0 {
		return Response{
			Text:         fmt.Sprintf("mock response from %s", m.name),
			StopReason:   "stop",
			InputTokens:  1,
			OutputTokens: 1,
			Model:        req.Model,
		}, nil
	}

	step := m.steps[0]
	if len(m.steps) > 1 {
		m.steps = m.steps[1:]
	}
	if step.err != nil {
		return Response{}, step.err
	}
	resp := step.resp
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return resp, nil
}

// Name implements Provider.
func (m *MockProvider) Name() string { return m.name }

// Calls returns a copy of every request received so far.
func (m *MockProvider) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many Chat calls the mock has received.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
