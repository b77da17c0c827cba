package provider

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request represents a provider-agnostic completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
	Tools       []ToolDef
}

// Message represents a single message in the conversation.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall // When Role == RoleAssistant
	ToolCallID string     // When Role == RoleTool
}

// Role represents the message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// SystemMessage creates a system message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates a plain-text assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// AssistantToolCallMessage creates an assistant turn carrying tool calls and no content.
func AssistantToolCallMessage(calls []ToolCall) Message {
	cp := make([]ToolCall, len(calls))
	copy(cp, calls)
	return Message{Role: RoleAssistant, ToolCalls: cp}
}

// ToolResultMessage creates the tool-role reply to the call with the given id.
func ToolResultMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

var errMalformedMessage = errors.New("malformed message")

// Validate checks the per-role field invariants.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser:
		if len(m.ToolCalls) > 0 || m.ToolCallID != "" {
			return fmt.Errorf("%w: %s message carries tool fields", errMalformedMessage, m.Role)
		}
	case RoleAssistant:
		if m.ToolCallID != "" {
			return fmt.Errorf("%w: assistant message carries tool_call_id", errMalformedMessage)
		}
		if len(m.ToolCalls) > 0 && m.Content != "" {
			return fmt.Errorf("%w: assistant message carries both content and tool calls", errMalformedMessage)
		}
	case RoleTool:
		if m.ToolCallID == "" {
			return fmt.Errorf("%w: tool message without tool_call_id", errMalformedMessage)
		}
		if len(m.ToolCalls) > 0 {
			return fmt.Errorf("%w: tool message carries tool calls", errMalformedMessage)
		}
	default:
		return fmt.Errorf("%w: unknown role %q", errMalformedMessage, m.Role)
	}
	return nil
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON string, never parsed here
}

// ToolDef declares a tool the model can use.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema
}

// ResponseKind tags which variant of Response is active.
type ResponseKind int

const (
	KindMessage ResponseKind = iota + 1
	KindToolCalls
)

func (k ResponseKind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindToolCalls:
		return "tool_calls"
	default:
		return "unknown"
	}
}

// Response is the result of a completion: either a text message or a set of tool calls.
// Kind is authoritative; build values with NewMessageResponse or NewToolCallResponse.
type Response struct {
	Kind         ResponseKind
	Content      string     // KindMessage
	ToolCalls    []ToolCall // KindToolCalls, may be empty
	Usage        *Usage
	FinishReason FinishReason
}

// NewMessageResponse creates the text variant.
func NewMessageResponse(content string) *Response {
	return &Response{Kind: KindMessage, Content: content}
}

// NewToolCallResponse creates the tool-call variant.
func NewToolCallResponse(calls []ToolCall) *Response {
	if calls == nil {
		calls = []ToolCall{}
	}
	return &Response{Kind: KindToolCalls, ToolCalls: calls}
}

// FinishReason indicates why the model stopped generating.
// Unknown vendor reasons are kept verbatim.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content_filter"
)

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates other into u.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}
