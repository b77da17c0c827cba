// Package llm bridges the agent loop to providers and tools: it assembles
// the provider registry from the wire adapters and executes tool calls.
package llm

import (
	"github.com/i2y/merco/anthropic"
	"github.com/i2y/merco/gemini"
	"github.com/i2y/merco/openai"
	"github.com/i2y/merco/provider"
)

// Providers returns a new registry holding every built-in adapter.
func Providers() *provider.Registry {
	r := provider.NewRegistry()
	openai.Register(r)
	anthropic.Register(r)
	gemini.Register(r)
	return r
}

// NewProvider builds the adapter named by cfg.Provider.
//
// Example:
//
//	p, err := llm.NewProvider(provider.Config{Provider: "ollama"})
func NewProvider(cfg provider.Config) (provider.StreamingProvider, error) {
	return Providers().New(cfg)
}
