package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/i2y/merco/agent"
	"github.com/i2y/merco/config"
	"github.com/i2y/merco/crew"
	"github.com/i2y/merco/definition"
	"github.com/i2y/merco/llm"
	"github.com/i2y/merco/logger"
	"github.com/i2y/merco/mcp"
	"github.com/i2y/merco/provider"
	"github.com/i2y/merco/tools"
)

type runOptions struct {
	configPath string
	provider   string
	model      string
	baseURL    string
	logLevel   string
	stream     bool
	all        bool
}

// loadSettings resolves the configuration and crew definition for dir.
func loadSettings(dir string, opts runOptions) (*config.Config, *definition.Crew, error) {
	if err := config.LoadEnv(filepath.Join(dir, ".env"), ".env"); err != nil {
		return nil, nil, err
	}

	path := opts.configPath
	if path == "" {
		path = filepath.Join(dir, config.DefaultFile)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	err = cfg.Merge(config.Config{
		Provider: opts.provider,
		Model:    opts.model,
		BaseURL:  opts.baseURL,
		Stream:   opts.stream,
		Log:      config.LogConfig{Level: opts.logLevel},
	})
	if err != nil {
		return nil, nil, err
	}

	def, err := definition.LoadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load crew: %w", err)
	}
	if !filepath.IsAbs(cfg.Workspace) {
		cfg.Workspace = filepath.Join(def.RootPath, cfg.Workspace)
	}
	return cfg, def, nil
}

// agentConfig overlays an agent's frontmatter onto the shared settings.
// Credentials do not carry over to a different provider.
func agentConfig(base config.Config, a definition.Agent) (config.Config, error) {
	merged := base
	if a.Provider != "" && a.Provider != base.Provider {
		merged.APIKey = ""
		merged.BaseURL = ""
	}
	err := merged.Merge(config.Config{
		Provider:    a.Provider,
		Model:       a.Model,
		Temperature: a.Temperature,
		MaxTokens:   a.MaxTokens,
		MaxAttempts: a.MaxAttempts,
	})
	if err != nil {
		return config.Config{}, err
	}
	if err := merged.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("agent %s: %w", a.Name, err)
	}
	return merged, nil
}

func checkCrew(dir string, opts runOptions, out io.Writer) error {
	cfg, def, err := loadSettings(dir, opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	registry := llm.Providers()
	for _, a := range def.Agents {
		acfg, err := agentConfig(*cfg, a)
		if err != nil {
			return err
		}
		if !registry.IsRegistered(acfg.Provider) {
			return &provider.ConfigError{Provider: acfg.Provider, Message: "unknown provider"}
		}
		fmt.Fprintf(out, "agent %s: %s/%s, tools %v\n", a.Name, acfg.Provider, acfg.Model, a.Tools)
	}
	for _, t := range def.Tasks {
		fmt.Fprintf(out, "task %s: schema=%t\n", t.Name, len(t.Schema) > 0)
	}
	servers := lo.Keys(def.MCPServers)
	sort.Strings(servers)
	fmt.Fprintf(out, "crew %s: %d agent(s), %d task(s), MCP servers %v\n",
		def.Name, len(def.Agents), len(def.Tasks), servers)
	return nil
}

func runCrew(ctx context.Context, dir string, opts runOptions, out, errOut io.Writer) error {
	cfg, def, err := loadSettings(dir, opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, closer, err := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Out:    errOut,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer closer.Close() //nolint:errcheck // Nothing to do on log close failure

	log.Info().Str("crew", def.Name).Int("agents", len(def.Agents)).Int("tasks", len(def.Tasks)).Msg("Loaded crew")

	workspace, err := tools.NewWorkspace(cfg.Workspace)
	if err != nil {
		return err
	}
	available := tools.Builtin(workspace)

	clients, err := connectMCP(ctx, def, cfg, log)
	defer func() {
		for _, c := range clients {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Str("server", c.Name()).Msg("Failed to close MCP client")
			}
		}
	}()
	if err != nil {
		return err
	}
	for _, c := range clients {
		available = append(available, c.Tools()...)
	}

	runners := make([]crew.Runner, 0, len(def.Agents))
	for _, a := range def.Agents {
		ag, err := buildAgent(*cfg, a, available, log, errOut)
		if err != nil {
			return err
		}
		runners = append(runners, ag)
	}

	c := crew.New(runners, def.Specs(), crew.WithLogger(log))
	if !opts.all {
		result, err := c.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, result)
		return nil
	}

	outputs, err := c.RunAll(ctx)
	if err != nil {
		return err
	}
	if len(outputs) == 0 {
		fmt.Fprintln(out, crew.NothingToRun)
	}
	for i, o := range outputs {
		fmt.Fprintf(out, "## %s\n\n%s\n\n", def.Tasks[i].Name, o)
	}
	return nil
}

// connectMCP starts every MCP server of the crew in name order. Clients
// connected before a failure are returned so the caller can close them.
func connectMCP(ctx context.Context, def *definition.Crew, cfg *config.Config, log zerolog.Logger) ([]*mcp.Client, error) {
	names := lo.Keys(def.MCPServers)
	sort.Strings(names)

	clients := make([]*mcp.Client, 0, len(names))
	for _, name := range names {
		srv := def.MCPServers[name]
		opts := []mcp.Option{mcp.WithEnv(srv.Env), mcp.WithLogger(log)}
		if cfg.Timeout > 0 {
			opts = append(opts, mcp.WithTimeout(cfg.Timeout))
		}
		client, err := mcp.NewStdioClient(ctx, name, srv.Command, srv.Args, opts...)
		if err != nil {
			return clients, fmt.Errorf("failed to start MCP server %s: %w", name, err)
		}
		log.Info().Str("server", name).Int("tools", len(client.Tools())).Msg("Connected to MCP server")
		clients = append(clients, client)
	}
	return clients, nil
}

func buildAgent(base config.Config, a definition.Agent, available []llm.Tool, log zerolog.Logger, errOut io.Writer) (*agent.Agent, error) {
	cfg, err := agentConfig(base, a)
	if err != nil {
		return nil, err
	}

	p, err := llm.NewProvider(cfg.ProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.Name, err)
	}

	acfg := agent.Config{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		MaxAttempts: cfg.MaxAttempts,
		Stream:      cfg.Stream,
	}
	if cfg.Stream {
		acfg.OnChunk = func(c *provider.StreamChunk) {
			if c.Delta.Kind == provider.DeltaText {
				fmt.Fprint(errOut, c.Delta.Text)
			}
		}
	}

	opts := []agent.Option{
		agent.WithBackstory(a.Backstory),
		agent.WithGoals(a.Goals...),
		agent.WithConfig(acfg),
		agent.WithLogger(log.With().Str("agent", a.Name).Logger()),
	}

	if len(a.Tools) > 0 {
		selected, err := tools.Select(available, a.Tools...)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.Name, err)
		}
		opts = append(opts, agent.WithTools(llm.NewRegistry(selected...)))
	}

	return agent.New(p, opts...), nil
}
