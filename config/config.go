// Package config loads merco's settings: built-in defaults, overridden by a
// YAML file, overridden by MERCO_* environment variables. API keys fall back
// to each vendor's conventional environment variable, which may come from a
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/i2y/merco/provider"
)

// DefaultFile is the config file looked up in the crew directory.
const DefaultFile = "merco.yaml"

// Config holds every setting needed to build and run agents.
type Config struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key,omitempty"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Temperature *float64      `yaml:"temperature,omitempty"`
	MaxTokens   *int          `yaml:"max_tokens,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	Stream      bool          `yaml:"stream,omitempty"`
	Workspace   string        `yaml:"workspace,omitempty"`
	Log         LogConfig     `yaml:"log"`
}

// LogConfig selects log verbosity and destination.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
	File   string `yaml:"file,omitempty"`
}

// apiKeyEnv maps providers to the environment variable holding their key.
var apiKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Provider:    "ollama",
		Model:       "qwen3:4b",
		Timeout:     provider.DefaultTimeout,
		MaxAttempts: 3,
		Workspace:   ".",
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if it
// exists) and the environment. Relative workspace paths are resolved against
// the file's directory.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //#nosec G304 -- intentional file read for config
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		default:
			fileCfg, err := Parse(data)
			if err != nil {
				return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
			}
			if err := cfg.Merge(*fileCfg); err != nil {
				return nil, err
			}
			if !filepath.IsAbs(cfg.Workspace) {
				base, err := filepath.Abs(filepath.Dir(path))
				if err != nil {
					return nil, fmt.Errorf("failed to resolve config directory: %w", err)
				}
				cfg.Workspace = filepath.Join(base, cfg.Workspace)
			}
		}
	}

	cfg.applyEnv()
	return &cfg, nil
}

// Parse decodes YAML configuration without applying defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Merge overlays every non-zero field of over onto c.
func (c *Config) Merge(over Config) error {
	if err := mergo.Merge(c, over, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// LoadEnv loads KEY=VALUE files into the process environment. Missing files
// are skipped and variables already set are kept.
func LoadEnv(paths ...string) error {
	existing := lo.Filter(paths, func(p string, _ int) bool {
		_, err := os.Stat(p)
		return err == nil
	})
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"MERCO_PROVIDER": &c.Provider,
		"MERCO_MODEL":    &c.Model,
		"MERCO_BASE_URL": &c.BaseURL,
		"MERCO_API_KEY":  &c.APIKey,
		"LOG_LEVEL":      &c.Log.Level,
	}
	for key, field := range overrides {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
}

// ResolveAPIKey returns the configured key or the provider's environment key.
func (c *Config) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if env, ok := apiKeyEnv[c.Provider]; ok {
		return os.Getenv(env)
	}
	return ""
}

// Validate reports settings that can never work as *provider.ConfigError.
func (c *Config) Validate() error {
	fail := func(msg string) error {
		return &provider.ConfigError{Provider: c.Provider, Message: msg}
	}

	switch {
	case c.Provider == "":
		return fail("provider is required")
	case c.Model == "":
		return fail("model is required")
	case c.MaxAttempts < 0:
		return fail("max_attempts must not be negative")
	case c.Timeout < 0:
		return fail("timeout must not be negative")
	case c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2):
		return fail(fmt.Sprintf("temperature %.2f is outside [0, 2]", *c.Temperature))
	case c.MaxTokens != nil && *c.MaxTokens <= 0:
		return fail("max_tokens must be positive")
	case c.Provider == "custom" && c.BaseURL == "":
		return fail("base_url is required for the custom provider")
	case !lo.Contains([]string{"", "console", "json"}, c.Log.Format):
		return fail(fmt.Sprintf("unknown log format %q", c.Log.Format))
	}

	if env, ok := apiKeyEnv[c.Provider]; ok && c.ResolveAPIKey() == "" {
		return fail("missing API key: set api_key or " + env)
	}
	return nil
}

// ProviderConfig returns the adapter configuration.
func (c *Config) ProviderConfig() provider.Config {
	return provider.Config{
		Provider: c.Provider,
		APIKey:   c.ResolveAPIKey(),
		BaseURL:  c.BaseURL,
		Timeout:  c.Timeout,
	}
}
