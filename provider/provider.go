// Package provider defines the provider-neutral completion protocol: the
// request/response model, streaming chunks, the delta reassembler shared by
// all wire adapters, and the error taxonomy.
package provider

import (
	"context"
	"net/http"
	"time"
)

// Provider is the core abstraction for LLM providers.
// All provider implementations must satisfy this interface.
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic").
	Name() string

	// Completion executes a non-streaming request.
	Completion(ctx context.Context, req *Request) (*Response, error)
}

// StreamingProvider extends Provider with streaming capability.
type StreamingProvider interface {
	Provider

	// CompletionStream executes a streaming request. Every call gets its own
	// reassembly state, so a provider may serve concurrent streams.
	CompletionStream(ctx context.Context, req *Request) (Stream, error)
}

// Stream represents a streaming response.
type Stream interface {
	// Next advances to the next chunk, returns false when done.
	Next() bool

	// Current returns the current chunk.
	Current() *StreamChunk

	// Err returns any error that occurred during streaming.
	Err() error

	// Close releases the HTTP connection and discards reassembly state.
	Close() error

	// Response returns the result accumulated so far as a tagged Response.
	Response() *Response
}

// StreamChunk represents a single normalized streaming chunk.
type StreamChunk struct {
	Delta        Delta
	Usage        *Usage
	FinishReason FinishReason
}

// IsTerminal reports whether the chunk carries end-of-stream information.
func (c *StreamChunk) IsTerminal() bool {
	return c.FinishReason != "" || c.Usage != nil
}

// DeltaKind tags the active variant of Delta.
type DeltaKind int

const (
	DeltaText DeltaKind = iota + 1
	DeltaToolCalls
)

// Delta is either a text fragment or the current state of one or more tool calls.
type Delta struct {
	Kind      DeltaKind
	Text      string
	ToolCalls []PartialToolCall
}

// PartialToolCall is the reassembly unit for streamed tool calls.
type PartialToolCall struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// DefaultTimeout is the HTTP request timeout used when Config.Timeout is zero.
const DefaultTimeout = 120 * time.Second

// Config is the explicit configuration an adapter is built from.
type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client returns the configured HTTP client or a new one honouring Timeout.
func (c Config) Client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
