// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
slack:
  app_token: "xapp-test"
  bot_token: "xoxb-test"

relay:
  flush_interval: "250ms"
  max_message_length: 3900

agents:
  - name: "coder"
    provider: "anthropic"
    api_key: "sk-ant-test"
    model: "claude-sonnet-4-5"
    max_tokens: 8192
    max_run_time: "5m"
    system_prompt: "You are a coding assistant."

channels:
  - channel_id: "C0123456789"
    agent: "coder"
    allowed_users:
      - "U111"
      - "U222"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Slack.AppToken != "xapp-test" {
		t.Errorf("Slack.AppToken = %q, want %q", cfg.Slack.AppToken, "xapp-test")
	}
	if cfg.Slack.BotToken != "xoxb-test" {
		t.Errorf("Slack.BotToken = %q, want %q", cfg.Slack.BotToken, "xoxb-test")
	}

	// Verify relay config with duration parsing
	if cfg.Relay.FlushInterval != 250*time.Millisecond {
		t.Errorf("Relay.FlushInterval = %v, want %v", cfg.Relay.FlushInterval, 250*time.Millisecond)
	}
	if cfg.Relay.MaxMessageLength != 3900 {
		t.Errorf("Relay.MaxMessageLength = %d, want 3900", cfg.Relay.MaxMessageLength)
	}

	// Verify agent config
	if len(cfg.Agents) != 1 {
		t.Fatalf("len(Agents) = %d, want 1", len(cfg.Agents))
	}
	agent := cfg.Agents[0]
	if agent.Name != "coder" {
		t.Errorf("Agents[0].Name = %q, want %q", agent.Name, "coder")
	}
	if agent.Model != "claude-sonnet-4-5" {
		t.Errorf("Agents[0].Model = %q, want %q", agent.Model, "claude-sonnet-4-5")
	}
	if agent.MaxTokens != 8192 {
		t.Errorf("Agents[0].MaxTokens = %d, want 8192", agent.MaxTokens)
	}
	if agent.MaxRunTime != 5*time.Minute {
		t.Errorf("Agents[0].MaxRunTime = %v, want %v", agent.MaxRunTime, 5*time.Minute)
	}

	// Verify channel binding
	if len(cfg.Channels) != 1 {
		t.Fatalf("len(Channels) = %d, want 1", len(cfg.Channels))
	}
	ch := cfg.Channels[0]
	if ch.ChannelID != "C0123456789" {
		t.Errorf("Channels[0].ChannelID = %q, want %q", ch.ChannelID, "C0123456789")
	}
	if ch.Agent != "coder" {
		t.Errorf("Channels[0].Agent = %q, want %q", ch.Agent, "coder")
	}
	if len(ch.AllowedUsers) != 2 {
		t.Errorf("Channels[0].AllowedUsers len = %d, want 2", len(ch.AllowedUsers))
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_SLACK_APP_TOKEN", "xapp-from-env")
	t.Setenv("TEST_SLACK_BOT_TOKEN", "xoxb-from-env")
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-from-env")

	configPath := writeConfig(t, `
slack:
  app_token: "${TEST_SLACK_APP_TOKEN}"
  bot_token: "${TEST_SLACK_BOT_TOKEN}"

agents:
  - name: "coder"
    api_key: "${TEST_ANTHROPIC_KEY}"

channels:
  - channel_id: "C0123456789"
    agent: "coder"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Slack.AppToken != "xapp-from-env" {
		t.Errorf("Slack.AppToken = %q, want %q", cfg.Slack.AppToken, "xapp-from-env")
	}
	if cfg.Slack.BotToken != "xoxb-from-env" {
		t.Errorf("Slack.BotToken = %q, want %q", cfg.Slack.BotToken, "xoxb-from-env")
	}
	if cfg.Agents[0].APIKey != "sk-ant-from-env" {
		t.Errorf("Agents[0].APIKey = %q, want %q", cfg.Agents[0].APIKey, "sk-ant-from-env")
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	configPath := writeConfig(t, `
slack:
  app_token: "${DEFINITELY_NOT_SET_ANYWHERE}"
  bot_token: "xoxb-test"

agents:
  - name: "coder"
    api_key: "sk-ant-test"

channels:
  - channel_id: "C0123456789"
    agent: "coder"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() error = nil, want validation failure for empty app_token")
	}
	if !strings.Contains(err.Error(), "app_token") {
		t.Errorf("Load() error = %v, want mention of app_token", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
slack:
  app_token: "xapp-test"
  bot_token: "xoxb-test"

relay:
  flush_interval: "not-a-duration"

agents:
  - name: "coder"
    api_key: "sk-ant-test"

channels:
  - channel_id: "C0123456789"
    agent: "coder"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() error = nil, want duration parse failure")
	}
	if !strings.Contains(err.Error(), "flush_interval") {
		t.Errorf("Load() error = %v, want mention of flush_interval", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() error = nil, want file read failure")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Slack: SlackConfig{AppToken: "xapp-t", BotToken: "xoxb-t"},
			Agents: []AgentConfig{
				{Name: "coder", APIKey: "sk-ant-t"},
			},
			Channels: []ChannelConfig{
				{ChannelID: "C1", Agent: "coder"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing app token", func(c *Config) { c.Slack.AppToken = "" }, "app_token"},
		{"missing bot token", func(c *Config) { c.Slack.BotToken = "" }, "bot_token"},
		{"no agents", func(c *Config) { c.Agents = nil }, "at least one agent"},
		{"agent without name", func(c *Config) { c.Agents[0].Name = "" }, "name is required"},
		{"agent without api key", func(c *Config) { c.Agents[0].APIKey = "" }, "api_key"},
		{"unknown provider", func(c *Config) { c.Agents[0].Provider = "openai" }, "unknown provider"},
		{"duplicate agent", func(c *Config) { c.Agents = append(c.Agents, c.Agents[0]) }, "duplicate"},
		{"no channels", func(c *Config) { c.Channels = nil }, "at least one channel"},
		{"channel without id", func(c *Config) { c.Channels[0].ChannelID = "" }, "channel_id"},
		{"channel without agent", func(c *Config) { c.Channels[0].Agent = "" }, "agent is required"},
		{"channel with unknown agent", func(c *Config) { c.Channels[0].Agent = "ghost" }, "unknown agent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
