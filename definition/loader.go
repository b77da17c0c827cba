package definition

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"

	"github.com/i2y/merco/task"
)

// rootVar in .mcp.json values is replaced by the crew directory.
const rootVar = "${CREW_ROOT}"

// LoadDir loads the crew in path.
func LoadDir(path string) (*Crew, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("accessing crew path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("crew path must be a directory: %s", absPath)
	}

	agents, err := loadAgents(filepath.Join(absPath, "agents"))
	if err != nil {
		return nil, err
	}
	tasks, err := loadTasks(filepath.Join(absPath, "tasks"))
	if err != nil {
		return nil, err
	}
	servers, err := loadMCPServers(filepath.Join(absPath, ".mcp.json"), absPath)
	if err != nil {
		return nil, err
	}

	return &Crew{
		Name:       filepath.Base(absPath),
		RootPath:   absPath,
		Agents:     agents,
		Tasks:      tasks,
		MCPServers: servers,
	}, nil
}

func loadAgents(dir string) ([]Agent, error) {
	files, err := markdownFiles(dir, "*.md")
	if err != nil {
		return nil, err
	}

	agents := make([]Agent, 0, len(files))
	for _, f := range files {
		agent, err := ParseAgent(filepath.Join(dir, filepath.FromSlash(f)))
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	return agents, nil
}

func loadTasks(dir string) ([]Task, error) {
	files, err := markdownFiles(dir, "**/*.md")
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, 0, len(files))
	for _, f := range files {
		t, err := ParseTask(filepath.Join(dir, filepath.FromSlash(f)), strings.TrimSuffix(f, ".md"))
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

// markdownFiles returns the slash-separated paths below dir matching
// pattern, sorted. A missing dir holds no files.
func markdownFiles(dir, pattern string) ([]string, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	files, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func loadMCPServers(path, root string) (map[string]MCPServer, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]MCPServer{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading MCP config: %w", err)
	}

	var raw struct {
		MCPServers map[string]MCPServer `json:"mcpServers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing MCP config: %w", err)
	}

	expand := func(s string) string { return strings.ReplaceAll(s, rootVar, root) }
	return lo.MapValues(raw.MCPServers, func(cfg MCPServer, _ string) MCPServer {
		cfg.Command = expand(cfg.Command)
		cfg.Args = lo.Map(cfg.Args, func(a string, _ int) string { return expand(a) })
		cfg.Env = lo.MapValues(cfg.Env, func(v string, _ string) string { return expand(v) })
		return cfg
	}), nil
}

// Agent returns the agent with the given name, or nil.
func (c *Crew) Agent(name string) *Agent {
	for i := range c.Agents {
		if c.Agents[i].Name == name {
			return &c.Agents[i]
		}
	}
	return nil
}

// Spec converts t into a runnable task.
func (t *Task) Spec() *task.Spec {
	opts := []task.Option{task.WithExpectedOutput(t.ExpectedOutput)}
	if len(t.Schema) > 0 {
		opts = append(opts, task.WithSchema(t.Schema))
	}
	return task.New(t.Description, opts...)
}

// Specs converts every task of c, in order.
func (c *Crew) Specs() []task.Task {
	return lo.Map(c.Tasks, func(t Task, _ int) task.Task { return t.Spec() })
}
