// Package config loads mom's root configuration: workspace location,
// sandbox backend, model selection, event-scheduler tuning, and telemetry
// toggles. Secrets (Slack tokens, the Anthropic credential) are read from
// the environment only and never persisted to config.json (spec §6
// "Environment variables required at start").
package config

import (
	"sync"
)

// Config is mom's root configuration, loaded from config.json and
// overlaid with environment variables.
type Config struct {
	Workspace string          `json:"workspace"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Agent     AgentConfig     `json:"agent"`
	Events    EventsConfig    `json:"events,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Slack     SlackConfig     `json:"slack,omitempty"`
	Anthropic AnthropicConfig `json:"anthropic,omitempty"`

	mu sync.RWMutex
}

// SandboxConfig selects and tunes the backend tools.BashTool executes
// against (spec §4.1). Kind mirrors the `--sandbox` CLI flag's grammar
// (`host` or `docker:<name>`) so a config.json default and a flag override
// parse identically.
type SandboxConfig struct {
	Kind           string `json:"kind,omitempty"`             // "host" (default) or "docker:<container>"
	GracePeriodSec int    `json:"grace_period_sec,omitempty"` // SIGTERM-to-SIGKILL grace on stop (default 5s)
	MaxOutputBytes int    `json:"max_output_bytes,omitempty"` // rolling tail buffer cap per exec (default 50 KiB)
}

// AgentConfig tunes the Agent Runner's model selection and turn shape
// (spec §4.2, §4.3). Matching the teacher's AgentDefaults shape, narrowed
// to a single Anthropic-backed agent configuration shared by every channel.
type AgentConfig struct {
	Model                string  `json:"model,omitempty"`
	MaxTokens            int64   `json:"max_tokens,omitempty"`
	MaxToolIterations    int     `json:"max_tool_iterations,omitempty"`
	ContextWindow        int     `json:"context_window,omitempty"`        // compactionThreshold, in estimated tokens
	RecentMessagesWindow int     `json:"recent_messages_window,omitempty"` // log.jsonl lines folded into the user prompt
	MaxInputChars        int     `json:"max_input_chars,omitempty"`        // Supervisor-level inbound message size guard
}

// EventsConfig tunes the filesystem-notification/poll-fallback scheduler
// (spec §4.5, §9 "Event file watcher").
type EventsConfig struct {
	PollIntervalSec int `json:"poll_interval_sec,omitempty"` // fallback poll cadence when fsnotify fails to start (default 5s)
	QueueCap        int `json:"queue_cap,omitempty"`         // per-channel pending-firing cap (default 5, spec §5)
}

// TelemetryConfig toggles the stdout OTel trace exporter (spec §1 ambient
// logging/tracing, no managed-mode OTLP sink in this core).
type TelemetryConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}

// SlackConfig holds non-secret Slack Socket Mode tuning. The app-level and
// bot tokens are never read from this struct — see AppToken/BotToken below,
// both `json:"-"` and sourced from MOM_SLACK_APP_TOKEN/MOM_SLACK_BOT_TOKEN.
type SlackConfig struct {
	AppToken string `json:"-"`
	BotToken string `json:"-"`
	Debug    bool   `json:"debug,omitempty"`
}

// AnthropicConfig holds non-secret Anthropic provider tuning. Exactly one
// of APIKey/OAuthToken is read from the environment at startup (spec §6);
// neither is ever persisted.
type AnthropicConfig struct {
	APIKey     string `json:"-"`
	OAuthToken string `json:"-"`
	BaseURL    string `json:"base_url,omitempty"`
}

// ReplaceFrom copies every data field from src into c, preserving c's mutex
// — used when a reload produces a new *Config and callers hold a pointer to
// the old one.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Workspace = src.Workspace
	c.Sandbox = src.Sandbox
	c.Agent = src.Agent
	c.Events = src.Events
	c.Telemetry = src.Telemetry
	c.Slack = src.Slack
	c.Anthropic = src.Anthropic
}
