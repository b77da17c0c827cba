// Package gemini implements the wire adapter for the Google Gemini
// generateContent API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/i2y/merco/provider"
)

// Name is the provider identifier.
const Name = "gemini"

var errNoCandidates = errors.New("response contains no candidates")

// Register adds the Gemini adapter to r.
func Register(r *provider.Registry) {
	r.Register(Name, func(cfg provider.Config) (provider.StreamingProvider, error) {
		return New(WithConfig(cfg))
	})
}

// Provider implements the Gemini API.
type Provider struct {
	client *client
	newID  func() string
}

// Option configures the Gemini provider.
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

// New creates a new Gemini provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &providerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Fall back to environment variable
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.apiKey == "" {
		return nil, &provider.ConfigError{
			Provider: Name,
			Message:  "API key required: set GEMINI_API_KEY or use WithAPIKey",
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
		newID: func() string { return "call_" + uuid.NewString() },
	}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return Name
}

// Completion implements provider.Provider.
func (p *Provider) Completion(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	apiResp, err := p.client.generateContent(ctx, req.Model, buildRequest(req))
	if err != nil {
		return nil, err
	}
	return p.convertResponse(apiResp)
}

// CompletionStream implements provider.StreamingProvider.
func (p *Provider) CompletionStream(ctx context.Context, req *provider.Request) (provider.Stream, error) {
	events, err := p.client.streamGenerateContent(ctx, req.Model, buildRequest(req))
	if err != nil {
		return nil, err
	}
	return provider.NewEventStream(events, p.streamDecoder()), nil
}

// buildRequest converts a provider.Request to a generateContent request.
//
// Function responses are addressed by function name, so the name for each
// tool result is recovered from the assistant turn that issued its call id.
func buildRequest(req *provider.Request) *generateContentRequest {
	apiReq := &generateContentRequest{
		Contents: make([]content, 0, len(req.Messages)),
	}

	if req.Temperature != nil || req.MaxTokens != nil {
		apiReq.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	callNames := make(map[string]string)
	var system []part

	for _, msg := range req.Messages {
		var role string
		var parts []part

		switch msg.Role {
		case provider.RoleSystem:
			if msg.Content != "" {
				system = append(system, part{Text: msg.Content})
			}
			continue
		case provider.RoleTool:
			name, ok := callNames[msg.ToolCallID]
			if !ok {
				name = msg.ToolCallID
			}
			role = "user"
			parts = []part{{
				FunctionResponse: &functionResponse{
					Name:     name,
					Response: responseObject(msg.Content),
				},
			}}
		case provider.RoleAssistant:
			role = "model"
			if msg.Content != "" {
				parts = append(parts, part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				callNames[tc.ID] = tc.Name
				parts = append(parts, part{
					FunctionCall: &functionCall{
						Name: tc.Name,
						Args: argsObject(tc.Arguments),
					},
				})
			}
		default:
			role = "user"
			if msg.Content != "" {
				parts = []part{{Text: msg.Content}}
			}
		}

		if len(parts) == 0 {
			continue
		}
		if n := len(apiReq.Contents); n > 0 && apiReq.Contents[n-1].Role == role {
			apiReq.Contents[n-1].Parts = append(apiReq.Contents[n-1].Parts, parts...)
			continue
		}
		apiReq.Contents = append(apiReq.Contents, content{Role: role, Parts: parts})
	}

	if len(system) > 0 {
		apiReq.SystemInstruction = &content{Parts: system}
	}

	if len(req.Tools) > 0 {
		funcDecls := make([]functionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			funcDecls = append(funcDecls, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		apiReq.Tools = []tool{{FunctionDeclarations: funcDecls}}
	}

	return apiReq
}

// argsObject returns arguments when they are a JSON object, else an empty object.
func argsObject(arguments string) json.RawMessage {
	trimmed := strings.TrimSpace(arguments)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return json.RawMessage(`{}`)
}

// responseObject wraps a tool result that is not already a JSON object.
func responseObject(result string) json.RawMessage {
	trimmed := strings.TrimSpace(result)
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	wrapped, _ := json.Marshal(map[string]string{"result": result})
	return wrapped
}

// convertResponse maps the first candidate onto the tagged response.
func (p *Provider) convertResponse(resp *generateContentResponse) (*provider.Response, error) {
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			result := provider.NewMessageResponse("")
			result.FinishReason = provider.FinishReasonContentFilter
			result.Usage = convertUsage(resp.UsageMetadata)
			return result, nil
		}
		raw, _ := json.Marshal(resp)
		return nil, &provider.ParseError{Provider: Name, Data: string(raw), Cause: errNoCandidates}
	}

	cand := resp.Candidates[0]
	finish := convertFinishReason(cand.FinishReason)

	var text strings.Builder
	var calls []provider.ToolCall
	if cand.Content != nil {
		for _, pt := range cand.Content.Parts {
			if pt.Text != "" {
				text.WriteString(pt.Text)
			}
			if pt.FunctionCall != nil {
				calls = append(calls, provider.ToolCall{
					ID:        p.newID(),
					Name:      pt.FunctionCall.Name,
					Arguments: string(argsObject(string(pt.FunctionCall.Args))),
				})
			}
		}
	}

	var result *provider.Response
	switch {
	case len(calls) > 0:
		result = provider.NewToolCallResponse(calls)
		finish = provider.FinishReasonToolCalls
	case text.Len() > 0:
		result = provider.NewMessageResponse(text.String())
	case finish == provider.FinishReasonToolCalls:
		result = provider.NewToolCallResponse(nil)
	default:
		result = provider.NewMessageResponse("")
	}

	result.FinishReason = finish
	result.Usage = convertUsage(resp.UsageMetadata)
	return result, nil
}

// streamDecoder returns a decoder for one stream. Gemini sends each function
// call whole, so every call gets the next index and a fresh id.
func (p *Provider) streamDecoder() provider.DecodeFunc {
	next := 0
	return func(ev *provider.Event, asm *provider.Reassembler) ([]provider.StreamChunk, bool, error) {
		var chunk generateContentResponse
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return nil, false, &provider.ParseError{Provider: Name, Data: ev.Data, Cause: err}
		}
		if chunk.Error != nil {
			return nil, false, &provider.APIError{
				Provider:   Name,
				StatusCode: chunk.Error.Code,
				Type:       chunk.Error.Status,
				Message:    chunk.Error.Message,
				Body:       ev.Data,
			}
		}

		asm.Observe(convertUsage(chunk.UsageMetadata), "")

		var out []provider.StreamChunk
		if len(chunk.Candidates) == 0 {
			return out, false, nil
		}

		cand := chunk.Candidates[0]
		if cand.Content != nil {
			for _, pt := range cand.Content.Parts {
				if pt.Text != "" {
					out = append(out, asm.Text(pt.Text))
				}
				if pt.FunctionCall != nil {
					out = append(out, asm.ToolCalls(provider.PartialToolCall{
						Index:     next,
						ID:        p.newID(),
						Name:      pt.FunctionCall.Name,
						Arguments: string(argsObject(string(pt.FunctionCall.Args))),
					}))
					next++
				}
			}
		}

		if reason := convertFinishReason(cand.FinishReason); reason != "" {
			if reason == provider.FinishReasonStop && len(asm.Completed()) > 0 {
				reason = provider.FinishReasonToolCalls
			}
			asm.Observe(nil, reason)
		}
		return out, false, nil
	}
}

// convertFinishReason normalizes a finish reason. Unknown values pass through.
func convertFinishReason(reason string) provider.FinishReason {
	switch reason {
	case "":
		return ""
	case "STOP":
		return provider.FinishReasonStop
	case "MAX_TOKENS":
		return provider.FinishReasonLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII":
		return provider.FinishReasonContentFilter
	default:
		return provider.FinishReason(reason)
	}
}

func convertUsage(u *usageMetadata) *provider.Usage {
	if u == nil {
		return nil
	}
	return &provider.Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}
