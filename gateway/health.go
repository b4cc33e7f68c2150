package gateway

import (
	"context"
	"sort"

	"github.com/hupe1980/agenthub/model"
)

// HealthCheck issues one minimal request per configured provider and
// reports boolean reachability. Failures are swallowed: an unreachable
// provider is simply false. Health probes bypass usage accounting and
// circuit breakers.
func (g *Gateway) HealthCheck(ctx context.Context) map[string]bool {
	health := make(map[string]bool, len(g.providers))
	for name, provider := range g.providers {
		modelID, ok := g.probeModel(name)
		if !ok {
			health[name] = false
			continue
		}
		_, err := provider.Chat(ctx, model.Request{
			Model:     modelID,
			Messages:  []model.Message{{Role: "user", Content: "ping"}},
			MaxTokens: 1,
		})
		health[name] = err == nil
	}
	return health
}

// probeModel picks a deterministic model served by the provider.
func (g *Gateway) probeModel(provider string) (string, bool) {
	var ids []string
	for id, cfg := range g.models {
		if cfg.Provider == provider {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", false
	}
	sort.Strings(ids)
	return ids[0], true
}
