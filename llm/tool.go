package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/rs/zerolog"

	"github.com/i2y/merco/provider"
	"github.com/i2y/merco/schema"
)

// Executor resolves tool calls by name. It is the only view of tools the
// agent loop has.
type Executor interface {
	// Execute runs the named tool with a JSON argument string and returns
	// its result text.
	Execute(ctx context.Context, name, arguments string) (string, error)

	// Specs returns the declarations sent to the provider.
	Specs() []provider.ToolDef
}

// Tool represents an executable tool that the LLM can call.
// This interface allows for heterogeneous collections of tools.
type Tool interface {
	// Name returns the tool's name as seen by the LLM.
	Name() string

	// Description returns the tool's description for the LLM.
	Description() string

	// Parameters returns the JSON schema for the tool's parameters.
	Parameters() *jsonschema.Schema

	// Execute runs the tool with the given JSON arguments.
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// TypedTool provides type-safe tool creation with auto-generated schema.
// In is the input type, Out is the output type.
type TypedTool[In any, Out any] struct {
	name        string
	description string
	fn          func(ctx context.Context, in In) (Out, error)
	schema      *jsonschema.Schema
}

// NewTool creates a type-safe tool from a function.
// The input type In is used to generate the JSON schema automatically.
//
// Example:
//
//	type TimeInput struct {
//	    Zone string `json:"zone,omitempty" jsonschema:"description=IANA time zone"`
//	}
//
//	clock, err := llm.NewTool("get_current_time", "Returns the current time",
//	    func(ctx context.Context, in TimeInput) (string, error) {
//	        return time.Now().Format(time.RFC3339), nil
//	    },
//	)
func NewTool[In any, Out any](
	name, description string,
	fn func(ctx context.Context, in In) (Out, error),
) (*TypedTool[In, Out], error) {
	if name == "" {
		return nil, ErrEmptyToolName
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %q: nil function", name)
	}

	var zero In
	return &TypedTool[In, Out]{
		name:        name,
		description: description,
		fn:          fn,
		schema:      schema.Reflector.Reflect(&zero),
	}, nil
}

// MustNewTool is like NewTool but panics on error.
// Useful for package-level tool definitions.
func MustNewTool[In any, Out any](
	name, description string,
	fn func(ctx context.Context, in In) (Out, error),
) *TypedTool[In, Out] {
	t, err := NewTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the tool's name.
func (t *TypedTool[In, Out]) Name() string {
	return t.name
}

// Description returns the tool's description.
func (t *TypedTool[In, Out]) Description() string {
	return t.description
}

// Parameters returns the JSON schema for the tool's parameters.
func (t *TypedTool[In, Out]) Parameters() *jsonschema.Schema {
	return t.schema
}

// Execute decodes args into In and runs the tool. Empty arguments decode as {}.
func (t *TypedTool[In, Out]) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var input In
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool arguments: %w", err)
		}
	}
	return t.fn(ctx, input)
}

// TypedCall provides a type-safe way to call the tool directly.
func (t *TypedTool[In, Out]) TypedCall(ctx context.Context, input In) (Out, error) {
	return t.fn(ctx, input)
}

// Registry manages a collection of tools in declaration order and
// implements Executor.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.Register(tools...)
	return r
}

// Register adds tools. Re-registering a name replaces the tool in place.
func (r *Registry) Register(tools ...Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tools {
		if _, exists := r.tools[t.Name()]; !exists {
			r.order = append(r.order, t.Name())
		}
		r.tools[t.Name()] = t
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns all registered tools in registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Specs implements Executor.
func (r *Registry) Specs() []provider.ToolDef {
	tools := r.All()
	if len(tools) == 0 {
		return nil
	}
	defs := make([]provider.ToolDef, 0, len(tools))
	for _, t := range tools {
		params, err := schema.Marshal(t.Parameters())
		if err != nil {
			params, _ = schema.Marshal(nil)
		}
		defs = append(defs, provider.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		})
	}
	return defs
}

// Execute implements Executor. Non-string results are JSON encoded.
func (r *Registry) Execute(ctx context.Context, name, arguments string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", &ToolNotFoundError{Name: name}
	}

	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}

	result, err := t.Execute(ctx, json.RawMessage(arguments))
	if err != nil {
		return "", &ToolError{ToolName: name, Cause: err}
	}

	switch v := result.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", &ToolError{ToolName: name, Cause: fmt.Errorf("marshaling result: %w", err)}
		}
		return string(b), nil
	}
}

// Dispatch executes calls strictly in order and returns one tool-result
// message per call. A failing call becomes an "Error: ..." result and never
// stops the batch. The only error returned is the context's, checked before
// each call.
func Dispatch(ctx context.Context, exec Executor, calls []provider.ToolCall) ([]provider.Message, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	log := zerolog.Ctx(ctx)
	messages := make([]provider.Message, 0, len(calls))

	for _, tc := range calls {
		if err := ctx.Err(); err != nil {
			return messages, err
		}

		var content string
		var err error
		if exec == nil {
			err = &ToolNotFoundError{Name: tc.Name}
		} else {
			content, err = exec.Execute(ctx, tc.Name, tc.Arguments)
		}
		if err != nil {
			log.Warn().Err(err).Str("tool", tc.Name).Str("call_id", tc.ID).Msg("tool call failed")
			content = fmt.Sprintf("Error: %v", err)
		} else {
			log.Debug().Str("tool", tc.Name).Str("call_id", tc.ID).Int("result_bytes", len(content)).Msg("tool call completed")
		}

		messages = append(messages, provider.ToolResultMessage(tc.ID, content))
	}

	return messages, nil
}
