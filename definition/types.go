// Package definition loads crews described as Markdown files with YAML
// frontmatter:
//
//	<dir>/agents/*.md     one agent per file, body is the backstory
//	<dir>/tasks/**/*.md   one task per file, body is the description
//	<dir>/.mcp.json       optional MCP servers providing extra tools
//
// Tasks run in path order.
package definition

import "encoding/json"

// Crew is a loaded crew directory.
type Crew struct {
	Name       string
	RootPath   string
	Agents     []Agent
	Tasks      []Task
	MCPServers map[string]MCPServer
}

// Agent describes one agent.
type Agent struct {
	Name        string // Derived from filename
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   *int
	MaxAttempts int
	Goals       []string
	Tools       []string
	Backstory   string
	FilePath    string
}

// Task describes one task.
type Task struct {
	Name           string // Path below tasks/ without extension
	Description    string
	ExpectedOutput string
	Schema         json.RawMessage
	FilePath       string
}

// MCPServer is a stdio MCP server command.
type MCPServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

type agentFrontmatter struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   *int     `yaml:"max_tokens"`
	MaxAttempts int      `yaml:"max_attempts"`
	Goals       []string `yaml:"goals"`
	Tools       []string `yaml:"tools"`
}

type taskFrontmatter struct {
	ExpectedOutput string         `yaml:"expected_output"`
	Schema         map[string]any `yaml:"schema"`
	SchemaFile     string         `yaml:"schema_file"`
}
