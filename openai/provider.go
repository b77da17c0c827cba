// Package openai implements the chat-completions wire adapter shared by
// OpenAI and the compatible services (Ollama, OpenRouter, or any custom
// endpoint).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/i2y/merco/provider"
)

// Provider names served by this package.
const (
	NameOpenAI     = "openai"
	NameOllama     = "ollama"
	NameOpenRouter = "openrouter"
	NameCustom     = "custom"
)

// variant describes one member of the chat-completions family.
type variant struct {
	name            string
	baseURL         string
	envKey          string
	keyRequired     bool
	baseURLRequired bool
}

var variants = map[string]variant{
	NameOpenAI:     {name: NameOpenAI, baseURL: "https://api.openai.com/v1", envKey: "OPENAI_API_KEY", keyRequired: true},
	NameOllama:     {name: NameOllama, baseURL: "http://localhost:11434/v1"},
	NameOpenRouter: {name: NameOpenRouter, baseURL: "https://openrouter.ai/api/v1", envKey: "OPENROUTER_API_KEY", keyRequired: true},
	NameCustom:     {name: NameCustom, baseURLRequired: true},
}

var errNoChoices = errors.New("response contains no choices")

// Register adds the chat-completions family to r.
func Register(r *provider.Registry) {
	for name := range variants {
		r.Register(name, func(cfg provider.Config) (provider.StreamingProvider, error) {
			return New(WithConfig(cfg))
		})
	}
}

// Provider implements provider.StreamingProvider over /chat/completions.
type Provider struct {
	name   string
	client *client
}

// Option configures the provider.
type Option func(*providerConfig)

type providerConfig struct {
	variant    string
	apiKey     string
	baseURL    string
	timeout    time.Duration
	headers    map[string]string
	httpClient *http.Client
}

// WithVariant selects a family member by name. The default is openai.
func WithVariant(name string) Option {
	return func(c *providerConfig) {
		c.variant = name
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *providerConfig) {
		c.apiKey = key
	}
}

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *providerConfig) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *providerConfig) {
		c.httpClient = client
	}
}

// WithHeader adds a header to every request (OpenRouter's HTTP-Referer, for example).
func WithHeader(key, value string) Option {
	return func(c *providerConfig) {
		if c.headers == nil {
			c.headers = make(map[string]string)
		}
		c.headers[key] = value
	}
}

// WithConfig applies every non-zero field of cfg.
func WithConfig(cfg provider.Config) Option {
	return func(c *providerConfig) {
		if cfg.Provider != "" {
			c.variant = cfg.Provider
		}
		if cfg.APIKey != "" {
			c.apiKey = cfg.APIKey
		}
		if cfg.BaseURL != "" {
			c.baseURL = cfg.BaseURL
		}
		if cfg.Timeout != 0 {
			c.timeout = cfg.Timeout
		}
		if cfg.HTTPClient != nil {
			c.httpClient = cfg.HTTPClient
		}
	}
}

// New creates a chat-completions provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{variant: NameOpenAI}
	for _, opt := range opts {
		opt(cfg)
	}

	v, ok := variants[cfg.variant]
	if !ok {
		return nil, &provider.ConfigError{Provider: cfg.variant, Message: "not an OpenAI-compatible provider"}
	}

	// Fall back to environment variable
	if cfg.apiKey == "" && v.envKey != "" {
		cfg.apiKey = os.Getenv(v.envKey)
	}
	if cfg.apiKey == "" && v.keyRequired {
		return nil, &provider.ConfigError{
			Provider: v.name,
			Message:  "API key required: set " + v.envKey + " or use WithAPIKey",
		}
	}
	if cfg.baseURL == "" && v.baseURLRequired {
		return nil, &provider.ConfigError{Provider: v.name, Message: "base URL required: use WithBaseURL"}
	}
	if cfg.baseURL == "" {
		cfg.baseURL = v.baseURL
	}

	return &Provider{
		name: v.name,
		client: &client{
			name:    v.name,
			apiKey:  cfg.apiKey,
			baseURL: cfg.baseURL,
			headers: cfg.headers,
			httpClient: provider.Config{
				Timeout:    cfg.timeout,
				HTTPClient: cfg.httpClient,
			}.Client(),
		},
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return p.name
}

// Completion implements provider.Provider.
func (p *Provider) Completion(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.chatCompletion(ctx, buildRequest(req))
	if err != nil {
		return nil, err
	}
	return p.convertResponse(apiResp)
}

// CompletionStream implements provider.StreamingProvider.
func (p *Provider) CompletionStream(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	events, err := p.client.chatCompletionStream(ctx, buildRequest(req))
	if err != nil {
		return nil, err
	}
	return provider.NewEventStream(events, p.decodeChunk), nil
}

// buildRequest converts a provider.Request to a chat completions request.
func buildRequest(req *provider.Request) *chatCompletionRequest {
	apiReq := &chatCompletionRequest{
		Model:       req.Model,
		Messages:    make([]message, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	for _, msg := range req.Messages {
		apiMsg := message{
			Role:       string(msg.Role),
			ToolCallID: msg.ToolCallID,
		}

		if len(msg.ToolCalls) > 0 {
			apiMsg.ToolCalls = make([]toolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				apiMsg.ToolCalls[i] = toolCall{
					ID:   tc.ID,
					Type: "function",
					Function: functionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
		} else {
			content := msg.Content
			apiMsg.Content = &content
		}

		apiReq.Messages = append(apiReq.Messages, apiMsg)
	}

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Type: "function",
			Function: functionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	if len(apiReq.Tools) > 0 {
		apiReq.ToolChoice = "auto"
	}

	return apiReq
}

// convertResponse maps the first choice onto the tagged response.
//
// With neither tool calls nor text, a tool_calls finish yields an empty call
// set and any other finish yields an empty message.
func (p *Provider) convertResponse(resp *chatCompletionResponse) (*provider.Response, error) {
	if len(resp.Choices) == 0 {
		raw, _ := json.Marshal(resp)
		return nil, &provider.ParseError{Provider: p.name, Data: string(raw), Cause: errNoChoices}
	}

	choice := resp.Choices[0]
	finish := convertFinishReason(choice.FinishReason)

	var result *provider.Response
	switch {
	case len(choice.Message.ToolCalls) > 0:
		calls := make([]provider.ToolCall, 0, len(choice.Message.ToolCalls))
		for _, tc := range choice.Message.ToolCalls {
			calls = append(calls, provider.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		result = provider.NewToolCallResponse(calls)
	case choice.Message.Content != nil && *choice.Message.Content != "":
		result = provider.NewMessageResponse(*choice.Message.Content)
	case finish == provider.FinishReasonToolCalls:
		result = provider.NewToolCallResponse(nil)
	default:
		result = provider.NewMessageResponse("")
	}

	result.FinishReason = finish
	result.Usage = convertUsage(resp.Usage)
	return result, nil
}

// decodeChunk turns one chat.completion.chunk payload into normalized chunks.
func (p *Provider) decodeChunk(ev *provider.Event, asm *provider.Reassembler) ([]provider.StreamChunk, bool, error) {
	var chunk streamChunk
	if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
		return nil, false, &provider.ParseError{Provider: p.name, Data: ev.Data, Cause: err}
	}
	if chunk.Error != nil {
		return nil, false, &provider.APIError{
			Provider: p.name,
			Type:     chunk.Error.Type,
			Message:  chunk.Error.Message,
			Body:     ev.Data,
		}
	}

	var out []provider.StreamChunk
	if len(chunk.Choices) > 0 {
		delta := chunk.Choices[0].Delta

		if delta.Content != nil && *delta.Content != "" {
			out = append(out, asm.Text(*delta.Content))
		}

		if len(delta.ToolCalls) > 0 {
			fragments := make([]provider.PartialToolCall, len(delta.ToolCalls))
			for i, tc := range delta.ToolCalls {
				fragments[i] = provider.PartialToolCall{
					Index:     tc.Index,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				}
			}
			out = append(out, asm.ToolCalls(fragments...))
		}

		if reason := chunk.Choices[0].FinishReason; reason != nil {
			asm.Observe(nil, convertFinishReason(*reason))
		}
	}

	// Usage arrives in a trailing chunk with empty choices.
	asm.Observe(convertUsage(chunk.Usage), "")
	return out, false, nil
}

// convertFinishReason normalizes a finish reason. Unknown values pass through.
func convertFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "function_call":
		return provider.FinishReasonToolCalls
	default:
		return provider.FinishReason(reason)
	}
}

func convertUsage(u *usage) *provider.Usage {
	if u == nil {
		return nil
	}
	return &provider.Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
