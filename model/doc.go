// Package model defines the provider-neutral chat request/response shape
// and the Provider interface implemented by the concrete backends
// (anthropic, openai, ollama). Providers are thin translation layers:
// they map the neutral envelope to the vendor wire format, map responses
// back, and classify vendor errors into the shared taxonomy consumed by
// the gateway's retry and fallback logic.
package model
