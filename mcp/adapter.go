// Package mcp exposes the tools of Model Context Protocol servers as
// llm.Tool values an agent can call.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/i2y/merco/llm"
)

const defaultTimeout = 30 * time.Second

// Client is a connected MCP session whose tools are listed once.
type Client struct {
	name      string
	session   *mcp.ClientSession
	tools     []*mcp.Tool
	timeout   time.Duration
	namespace bool
	log       zerolog.Logger
}

// Option configures the MCP client.
type Option func(*clientConfig)

type clientConfig struct {
	timeout   time.Duration
	namespace bool
	env       map[string]string
	log       zerolog.Logger
}

// WithTimeout sets the timeout for tool execution.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithNamespace prefixes every tool name with "<server>_".
func WithNamespace() Option {
	return func(c *clientConfig) {
		c.namespace = true
	}
}

// WithEnv adds environment variables to a stdio server process.
func WithEnv(env map[string]string) Option {
	return func(c *clientConfig) {
		c.env = env
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *clientConfig) {
		c.log = logger
	}
}

func newConfig(opts []Option) *clientConfig {
	cfg := &clientConfig{
		timeout: defaultTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Connect opens a session over transport and lists the server's tools.
func Connect(ctx context.Context, name string, transport mcp.Transport, opts ...Option) (*Client, error) {
	return connect(ctx, name, transport, newConfig(opts))
}

func connect(ctx context.Context, name string, transport mcp.Transport, cfg *clientConfig) (*Client, error) {
	client := mcp.NewClient(&mcp.Implementation{
		Name:    "merco",
		Version: "0.1.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to MCP server %q: %w", name, err)
	}

	var tools []*mcp.Tool
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("listing tools of MCP server %q: %w", name, err)
		}
		tools = append(tools, tool)
	}

	log := cfg.log.With().Str("component", "mcp").Str("server", name).Logger()
	log.Debug().Int("tools", len(tools)).Msg("Connected to MCP server")

	return &Client{
		name:      name,
		session:   session,
		tools:     tools,
		timeout:   cfg.timeout,
		namespace: cfg.namespace,
		log:       log,
	}, nil
}

// NewStdioClient starts command as a subprocess and talks MCP over its stdio.
//
// Example:
//
//	client, err := mcp.NewStdioClient(ctx, "fs", "mcp-server-filesystem", []string{"."})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	registry := llm.NewRegistry(client.Tools()...)
func NewStdioClient(ctx context.Context, name, command string, args []string, opts ...Option) (*Client, error) {
	cfg := newConfig(opts)

	cmd := exec.Command(command, args...)
	if len(cfg.env) > 0 {
		cmd.Env = append(cmd.Environ(), formatEnv(cfg.env)...)
	}
	return connect(ctx, name, &mcp.CommandTransport{Command: cmd}, cfg)
}

func formatEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// Name returns the server name.
func (c *Client) Name() string {
	return c.name
}

// Tools returns the server's tools as llm.Tool values.
func (c *Client) Tools() []llm.Tool {
	tools := make([]llm.Tool, 0, len(c.tools))
	for _, t := range c.tools {
		name := t.Name
		if c.namespace {
			name = c.name + "_" + t.Name
		}
		tools = append(tools, &remoteTool{client: c, tool: t, name: name})
	}
	return tools
}

// Close ends the session.
func (c *Client) Close() error {
	return c.session.Close()
}

// remoteTool forwards calls to one tool of an MCP server.
type remoteTool struct {
	client *Client
	tool   *mcp.Tool
	name   string
}

func (t *remoteTool) Name() string {
	return t.name
}

func (t *remoteTool) Description() string {
	if t.tool.Description == "" {
		return fmt.Sprintf("Tool %s from MCP server %s", t.tool.Name, t.client.name)
	}
	return t.tool.Description
}

func (t *remoteTool) Parameters() *jsonschema.Schema {
	fallback := &jsonschema.Schema{Type: "object"}
	if t.tool.InputSchema == nil {
		return fallback
	}

	raw, err := json.Marshal(t.tool.InputSchema)
	if err != nil {
		return fallback
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return fallback
	}
	return &schema
}

func (t *remoteTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, t.client.timeout)
	defer cancel()

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		return nil, fmt.Errorf("parsing arguments: invalid JSON")
	}

	result, err := t.client.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.tool.Name,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("calling MCP tool: %w", err)
	}

	text := resultText(result.Content)
	if result.IsError {
		t.client.log.Warn().Str("tool", t.tool.Name).Str("error", text).Msg("MCP tool reported an error")
		return nil, fmt.Errorf("MCP tool error: %s", text)
	}
	return text, nil
}

// resultText flattens tool result content into text, one item per line.
// Non-text items are described rather than inlined.
func resultText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch item := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, item.Text)
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[Image: %s, %d bytes]", item.MIMEType, len(item.Data)))
		case *mcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[Audio: %s, %d bytes]", item.MIMEType, len(item.Data)))
		case *mcp.EmbeddedResource:
			if item.Resource != nil {
				parts = append(parts, fmt.Sprintf("[Resource: %s]", item.Resource.URI))
			} else {
				parts = append(parts, "[Resource: embedded]")
			}
		case *mcp.ResourceLink:
			parts = append(parts, fmt.Sprintf("[Resource: %s]", item.URI))
		}
	}
	return strings.Join(parts, "\n")
}
