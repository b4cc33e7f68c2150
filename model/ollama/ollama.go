// Package ollama provides a model.Provider backed by a local Ollama
// runtime. Useful for development and for routing fallback traffic to
// open-source models without leaving the host.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/hupe1980/agenthub/model"
)

// DefaultHost is the standard Ollama server address.
const DefaultHost = "http://localhost:11434"

// Options configures the Ollama provider.
type Options struct {
	// Host is the Ollama server URL.
	Host string
	// HTTPClient overrides the client used for API calls.
	HTTPClient *http.Client
}

// Provider wraps the Ollama chat API behind model.Provider.
type Provider struct {
	client *api.Client
}

// New creates a new Ollama provider.
func New(optFns ...func(o *Options)) *Provider {
	opts := Options{Host: DefaultHost, HTTPClient: http.DefaultClient}
	for _, fn := range optFns {
		fn(&opts)
	}

	parsed, err := url.Parse(opts.Host)
	if err != nil {
		parsed, _ = url.Parse(DefaultHost)
	}
	return &Provider{client: api.NewClient(parsed, opts.HTTPClient)}
}

// Name implements model.Provider.
func (p *Provider) Name() string { return "ollama" }

// Chat implements model.Provider. Ollama runs locally, so failures are
// classified as transient network faults rather than HTTP statuses.
func (p *Provider) Chat(ctx context.Context, req model.Request) (model.Response, error) {
	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: buildMessages(req),
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.Temperature > 0 {
		chatReq.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = req.MaxTokens
	}

	var last api.ChatResponse
	err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		last = resp
		return nil
	})
	if err != nil {
		return model.Response{}, model.WrapError(model.ErrorTypeTransient, fmt.Errorf("ollama chat: %w", err))
	}

	out := model.Response{
		Text:         last.Message.Content,
		StopReason:   stopReason(&last),
		InputTokens:  last.PromptEvalCount,
		OutputTokens: last.EvalCount,
		Model:        req.Model,
	}
	for _, call := range last.Message.ToolCalls {
		args := json.RawMessage("{}")
		if encoded, err := json.Marshal(call.Function.Arguments); err == nil {
			args = encoded
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func buildMessages(req model.Request) []api.Message {
	messages := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

func stopReason(resp *api.ChatResponse) string {
	if len(resp.Message.ToolCalls) > 0 {
		return "tool_calls"
	}
	if resp.DoneReason != "" {
		return resp.DoneReason
	}
	return "stop"
}
