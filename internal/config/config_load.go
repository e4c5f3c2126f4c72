package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultAgentModel is the model used when config.json and the environment
// both leave Agent.Model blank.
const DefaultAgentModel = "claude-sonnet-4-5-20250929"

// Default returns a Config with sensible defaults, matching the teacher's
// Default() shape but scoped to this core's single agent/single workspace.
func Default() *Config {
	return &Config{
		Workspace: "~/.mom/workspace",
		Sandbox: SandboxConfig{
			Kind:           "host",
			GracePeriodSec: 5,
			MaxOutputBytes: 50 * 1024,
		},
		Agent: AgentConfig{
			Model:                DefaultAgentModel,
			MaxTokens:            4096,
			MaxToolIterations:    20,
			ContextWindow:        100000,
			RecentMessagesWindow: 20,
			MaxInputChars:        32000,
		},
		Events: EventsConfig{
			PollIntervalSec: 5,
			QueueCap:        5,
		},
	}
}

// Load reads config from a JSON file, then overlays env vars. A missing
// file is not an error — Default() plus env overrides is a valid config.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays environment variables onto the config. Env
// vars always take precedence over config.json values, and are the only
// source for every secret field.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("MOM_SLACK_APP_TOKEN", &c.Slack.AppToken)
	envStr("MOM_SLACK_BOT_TOKEN", &c.Slack.BotToken)
	envStr("ANTHROPIC_API_KEY", &c.Anthropic.APIKey)
	envStr("ANTHROPIC_OAUTH_TOKEN", &c.Anthropic.OAuthToken)
	envStr("ANTHROPIC_BASE_URL", &c.Anthropic.BaseURL)

	envStr("MOM_WORKSPACE", &c.Workspace)
	envStr("MOM_MODEL", &c.Agent.Model)
	envStr("MOM_SANDBOX", &c.Sandbox.Kind)

	if v := os.Getenv("MOM_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MOM_MAX_TOOL_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.MaxToolIterations = n
		}
	}
	if v := os.Getenv("MOM_CONTEXT_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Agent.ContextWindow = n
		}
	}
}

// Save writes the config to a JSON file. Every `json:"-"` secret field is
// therefore structurally excluded from what hits disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Hash returns a short SHA-256 hash of the config, for logging "which
// config is this process running" without printing the whole file.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Workspace)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config — used after a hot reload to restore runtime secrets env supplies
// but a reloaded config.json never carries.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
