// Package anthropic implements the wire adapter for the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/i2y/merco/provider"
)

// Name is the provider identifier.
const Name = "anthropic"

// Register adds the Anthropic adapter to r.
func Register(r *provider.Registry) {
	r.Register(Name, func(cfg provider.Config) (provider.StreamingProvider, error) {
		return New(WithConfig(cfg))
	})
}

// Provider implements the Anthropic Messages API.
type Provider struct {
	client *client
}

// Option configures the Anthropic provider.
type Option func(*providerConfig)

type providerConfig struct {
	apiKey     string
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
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

// WithConfig applies every non-zero field of cfg.
func WithConfig(cfg provider.Config) Option {
	return func(c *providerConfig) {
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

// New creates a new Anthropic provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Fall back to environment variable
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.apiKey == "" {
		return nil, &provider.ConfigError{
			Provider: Name,
			Message:  "API key required: set ANTHROPIC_API_KEY or use WithAPIKey",
		}
	}
	if cfg.baseURL == "" {
		cfg.baseURL = defaultBaseURL
	}

	return &Provider{
		client: &client{
			apiKey:  cfg.apiKey,
			baseURL: strings.TrimSuffix(cfg.baseURL, "/"),
			httpClient: provider.Config{
				Timeout:    cfg.timeout,
				HTTPClient: cfg.httpClient,
			}.Client(),
		},
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return Name
}

// Completion implements provider.Provider.
func (p *Provider) Completion(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.messages(ctx, buildRequest(req))
	if err != nil {
		return nil, err
	}
	return convertResponse(apiResp), nil
}

// CompletionStream implements provider.StreamingProvider.
func (p *Provider) CompletionStream(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	events, err := p.client.messagesStream(ctx, buildRequest(req))
	if err != nil {
		return nil, err
	}
	return provider.NewEventStream(events, decodeEvent), nil
}

// buildRequest converts a provider.Request to a Messages API request.
// System messages are lifted into the top-level system field and tool
// results travel as user-role tool_result parts. Consecutive turns with the
// same wire role are merged because the API requires alternation.
func buildRequest(req *provider.Request) *messagesRequest {
	apiReq := &messagesRequest{
		Model:       req.Model,
		Messages:    make([]message, 0, len(req.Messages)),
		Temperature: req.Temperature,
	}
	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, msg := range req.Messages {
		var role string
		var parts []contentPart

		switch msg.Role {
		case provider.RoleSystem:
			if msg.Content != "" {
				system = append(system, msg.Content)
			}
			continue
		case provider.RoleTool:
			role = "user"
			parts = []contentPart{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}}
		case provider.RoleAssistant:
			role = "assistant"
			if msg.Content != "" {
				parts = append(parts, contentPart{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, contentPart{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: toolInput(tc.Arguments),
				})
			}
		default:
			// Empty text blocks are rejected by the API.
			role = "user"
			if msg.Content != "" {
				parts = []contentPart{{Type: "text", Text: msg.Content}}
			}
		}

		if len(parts) == 0 {
			continue
		}
		if n := len(apiReq.Messages); n > 0 && apiReq.Messages[n-1].Role == role {
			apiReq.Messages[n-1].Content = append(apiReq.Messages[n-1].Content, parts...)
			continue
		}
		apiReq.Messages = append(apiReq.Messages, message{Role: role, Content: parts})
	}
	apiReq.System = strings.Join(system, "\n\n")

	for _, tool := range req.Tools {
		schema := tool.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		apiReq.Tools = append(apiReq.Tools, toolDef{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	return apiReq
}

// toolInput turns an arguments string back into the object the API expects.
func toolInput(arguments string) json.RawMessage {
	if strings.TrimSpace(arguments) == "" {
		return json.RawMessage(`{}`)
	}
	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}
	// Use raw string as fallback if the model produced invalid JSON
	quoted, _ := json.Marshal(arguments)
	return quoted
}

// convertResponse maps content blocks onto the tagged response.
func convertResponse(resp *messagesResponse) *provider.Response {
	var text strings.Builder
	var calls []provider.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			calls = append(calls, provider.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	finish := convertStopReason(resp.StopReason)

	var result *provider.Response
	switch {
	case len(calls) > 0:
		result = provider.NewToolCallResponse(calls)
	case text.Len() > 0:
		result = provider.NewMessageResponse(text.String())
	case finish == provider.FinishReasonToolCalls:
		result = provider.NewToolCallResponse(nil)
	default:
		result = provider.NewMessageResponse("")
	}

	result.FinishReason = finish
	result.Usage = convertUsage(resp.Usage)
	return result
}

// decodeEvent handles one Messages streaming event. Content block indices
// double as tool-call indices for the reassembler.
func decodeEvent(ev *provider.Event, asm *provider.Reassembler) ([]provider.StreamChunk, bool, error) {
	var event streamEvent
	if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
		return nil, false, &provider.ParseError{Provider: Name, Data: ev.Data, Cause: err}
	}

	switch event.Type {
	case "message_start":
		if event.Message != nil && event.Message.Usage != nil {
			asm.Observe(convertUsage(event.Message.Usage), "")
		}

	case "content_block_start":
		if block := event.ContentBlock; block != nil {
			switch block.Type {
			case "tool_use":
				return []provider.StreamChunk{asm.ToolCalls(provider.PartialToolCall{
					Index: event.Index,
					ID:    block.ID,
					Name:  block.Name,
				})}, false, nil
			case "text":
				if block.Text != "" {
					return []provider.StreamChunk{asm.Text(block.Text)}, false, nil
				}
			}
		}

	case "content_block_delta":
		if event.Delta == nil {
			break
		}
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text != "" {
				return []provider.StreamChunk{asm.Text(event.Delta.Text)}, false, nil
			}
		case "input_json_delta":
			return []provider.StreamChunk{asm.ToolCalls(provider.PartialToolCall{
				Index:     event.Index,
				Arguments: event.Delta.PartialJSON,
			})}, false, nil
		}

	case "message_delta":
		if event.Delta != nil && event.Delta.StopReason != "" {
			asm.Observe(nil, convertStopReason(event.Delta.StopReason))
		}
		if event.Usage != nil {
			usage := asm.Usage()
			if usage == nil {
				usage = &provider.Usage{}
			}
			usage.CompletionTokens = event.Usage.OutputTokens
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			asm.Observe(usage, "")
		}

	case "message_stop":
		return nil, true, nil

	case "error":
		apiErr := &provider.APIError{Provider: Name, Body: ev.Data}
		if event.Error != nil {
			apiErr.Type = event.Error.Type
			apiErr.Message = event.Error.Message
		}
		return nil, false, apiErr
	}

	return nil, false, nil
}

// convertStopReason normalizes a stop reason. Unknown values pass through.
func convertStopReason(reason string) provider.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return provider.FinishReasonStop
	case "tool_use":
		return provider.FinishReasonToolCalls
	case "max_tokens":
		return provider.FinishReasonLength
	case "refusal":
		return provider.FinishReasonContentFilter
	default:
		return provider.FinishReason(reason)
	}
}

func convertUsage(u *messagesUsage) *provider.Usage {
	if u == nil {
		return nil
	}
	return &provider.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.InputTokens + u.OutputTokens,
	}
}
