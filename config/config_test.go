package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/merco/provider"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MERCO_PROVIDER", "MERCO_MODEL", "MERCO_BASE_URL", "MERCO_API_KEY", "LOG_LEVEL",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "OPENROUTER_API_KEY",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), DefaultFile))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte(`
provider: anthropic
model: claude-sonnet-4-5
api_key: sk-test
timeout: 30s
temperature: 0.3
max_tokens: 2048
stream: true
workspace: data
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Model)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 0.3, lo.FromPtr(cfg.Temperature))
	assert.Equal(t, 2048, lo.FromPtr(cfg.MaxTokens))
	assert.True(t, cfg.Stream)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Workspace)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Unset fields keep their defaults.
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte("provider: openai\nmodel: gpt-4o\n"), 0o644))

	t.Setenv("MERCO_MODEL", "gpt-4o-mini")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFile)
	require.NoError(t, os.WriteFile(path, []byte("model: [unclosed\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("OPENAI_API_KEY=from-file\n"), 0o644))

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), envFile))

	cfg := Config{Provider: "openai"}
	assert.Equal(t, "from-file", cfg.ResolveAPIKey())

	assert.NoError(t, LoadEnv(filepath.Join(dir, "missing.env")))
}

func TestResolveAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "g-key")

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "explicit key wins", cfg: Config{Provider: "gemini", APIKey: "explicit"}, want: "explicit"},
		{name: "env fallback", cfg: Config{Provider: "gemini"}, want: "g-key"},
		{name: "no env for provider", cfg: Config{Provider: "ollama"}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.ResolveAPIKey())
		})
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	valid := func(mutate func(*Config)) Config {
		cfg := Default()
		mutate(&cfg)
		return cfg
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "defaults", cfg: Default()},
		{name: "no provider", cfg: valid(func(c *Config) { c.Provider = "" }), wantErr: "provider is required"},
		{name: "no model", cfg: valid(func(c *Config) { c.Model = "" }), wantErr: "model is required"},
		{name: "negative attempts", cfg: valid(func(c *Config) { c.MaxAttempts = -1 }), wantErr: "max_attempts"},
		{name: "temperature too high", cfg: valid(func(c *Config) { c.Temperature = lo.ToPtr(2.5) }), wantErr: "temperature"},
		{name: "zero max tokens", cfg: valid(func(c *Config) { c.MaxTokens = lo.ToPtr(0) }), wantErr: "max_tokens"},
		{name: "custom without base url", cfg: valid(func(c *Config) { c.Provider = "custom" }), wantErr: "base_url"},
		{name: "custom with base url", cfg: valid(func(c *Config) { c.Provider = "custom"; c.BaseURL = "http://localhost:8000/v1" })},
		{name: "openai without key", cfg: valid(func(c *Config) { c.Provider = "openai" }), wantErr: "OPENAI_API_KEY"},
		{name: "anthropic with key", cfg: valid(func(c *Config) { c.Provider = "anthropic"; c.APIKey = "k" })},
		{name: "bad log format", cfg: valid(func(c *Config) { c.Log.Format = "xml" }), wantErr: "log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			var cfgErr *provider.ConfigError
			assert.True(t, errors.As(err, &cfgErr))
			assert.True(t, provider.IsFatal(err))
		})
	}
}

func TestMerge(t *testing.T) {
	base := Default()
	require.NoError(t, base.Merge(Config{Model: "llama3.2", MaxTokens: lo.ToPtr(256)}))

	assert.Equal(t, "ollama", base.Provider)
	assert.Equal(t, "llama3.2", base.Model)
	assert.Equal(t, 256, lo.FromPtr(base.MaxTokens))
	assert.Nil(t, base.Temperature)
}

func TestProviderConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "or-key")

	cfg := Config{Provider: "openrouter", BaseURL: "https://example.test", Timeout: time.Minute}
	assert.Equal(t, provider.Config{
		Provider: "openrouter",
		APIKey:   "or-key",
		BaseURL:  "https://example.test",
		Timeout:  time.Minute,
	}, cfg.ProviderConfig())
}
