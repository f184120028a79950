// ABOUTME: Configuration loading and parsing for the slack relay.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relay configuration.
type Config struct {
	Slack    SlackConfig     `yaml:"slack"`
	Relay    RelayConfig     `yaml:"relay"`
	Agents   []AgentConfig   `yaml:"agents"`
	Channels []ChannelConfig `yaml:"channels"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// SlackConfig holds the Slack workspace credentials.
type SlackConfig struct {
	// AppToken is the xapp- app-level token for Socket Mode.
	AppToken string `yaml:"app_token"`

	// BotToken is the xoxb- bot token for Web API calls.
	BotToken string `yaml:"bot_token"`
}

// RelayConfig tunes output buffering. Zero values take the built-in defaults.
type RelayConfig struct {
	FlushInterval    time.Duration `yaml:"-"`
	MaxMessageLength int           `yaml:"max_message_length"`

	// Raw string value for YAML unmarshaling
	FlushIntervalRaw string `yaml:"flush_interval"`
}

// AgentConfig declares one model-backed agent.
type AgentConfig struct {
	Name         string `yaml:"name"`
	Provider     string `yaml:"provider"`
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	MaxTokens    int    `yaml:"max_tokens"`
	SystemPrompt string `yaml:"system_prompt"`

	MaxRunTime time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	MaxRunTimeRaw string `yaml:"max_run_time"`
}

// ChannelConfig binds one Slack channel to an agent.
type ChannelConfig struct {
	ChannelID string `yaml:"channel_id"`
	Agent     string `yaml:"agent"`

	// AllowedUsers, when non-empty, restricts who may start requests in
	// this channel.
	AllowedUsers []string `yaml:"allowed_users"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Slack.AppToken == "" {
		return fmt.Errorf("slack.app_token is required")
	}
	if c.Slack.BotToken == "" {
		return fmt.Errorf("slack.bot_token is required")
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	names := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agents[%d].name is required", i)
		}
		if names[a.Name] {
			return fmt.Errorf("agents[%d]: duplicate agent name %q", i, a.Name)
		}
		names[a.Name] = true
		if a.Provider != "" && a.Provider != "anthropic" {
			return fmt.Errorf("agents[%d]: unknown provider %q", i, a.Provider)
		}
		if a.APIKey == "" {
			return fmt.Errorf("agents[%d].api_key is required", i)
		}
	}

	if len(c.Channels) == 0 {
		return fmt.Errorf("at least one channel binding is required")
	}
	for i, ch := range c.Channels {
		if ch.ChannelID == "" {
			return fmt.Errorf("channels[%d].channel_id is required", i)
		}
		if ch.Agent == "" {
			return fmt.Errorf("channels[%d].agent is required", i)
		}
		if !names[ch.Agent] {
			return fmt.Errorf("channels[%d]: unknown agent %q", i, ch.Agent)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Relay.FlushIntervalRaw != "" {
		cfg.Relay.FlushInterval, err = time.ParseDuration(cfg.Relay.FlushIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing flush_interval %q: %w", cfg.Relay.FlushIntervalRaw, err)
		}
	}

	for i := range cfg.Agents {
		if raw := cfg.Agents[i].MaxRunTimeRaw; raw != "" {
			cfg.Agents[i].MaxRunTime, err = time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("parsing agents[%d].max_run_time %q: %w", i, raw, err)
			}
		}
	}

	return nil
}
