// ABOUTME: Entry point for the slack-relay service.
// ABOUTME: Bridges Slack channels to streaming model-backed agents.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/tokenring-ai/slack/internal/agents"
	"github.com/tokenring-ai/slack/internal/config"
	"github.com/tokenring-ai/slack/internal/llm"
	"github.com/tokenring-ai/slack/internal/relay"
	"github.com/tokenring-ai/slack/internal/slackbridge"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _            _                   _
 ___| | __ _  ___| | __     _ __ ___| | __ _ _   _
/ __| |/ _' |/ __| |/ /____| '__/ _ \ |/ _' | | | |
\__ \ | (_| | (__|   <_____| | |  __/ | (_| | |_| |
|___/_|\__,_|\___|_|\_\    |_|  \___|_|\__,_|\__, |
                                             |___/
`

// shutdownTimeout bounds how long in-flight request cycles may run after a
// termination signal.
const shutdownTimeout = 15 * time.Second

// getConfigPath returns the path to the relay config file.
// Priority: SLACK_RELAY_CONFIG env var > XDG_CONFIG_HOME/slack-relay/config.yaml > ~/.config/slack-relay/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SLACK_RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "slack-relay", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: slack-relay <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the relay")
		fmt.Println("  check     Validate the config file")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "check":
		err = runCheck()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Agents:   %d\n", len(cfg.Agents))
	green.Print("    ▶ ")
	fmt.Printf("Channels: %d\n", len(cfg.Channels))
	fmt.Println()

	logger.Info("starting slack-relay",
		"config", configPath,
		"agents", len(cfg.Agents),
		"channels", len(cfg.Channels),
	)

	// Build agent sessions
	manager := agents.NewManager(logger)
	for _, ac := range cfg.Agents {
		provider, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:    ac.APIKey,
			BaseURL:   ac.BaseURL,
			Model:     ac.Model,
			MaxTokens: ac.MaxTokens,
		})
		if err != nil {
			return fmt.Errorf("creating provider for agent %q: %w", ac.Name, err)
		}
		sess := agents.NewSession(agents.SessionConfig{
			Name:         ac.Name,
			Provider:     provider,
			SystemPrompt: ac.SystemPrompt,
			MaxTokens:    ac.MaxTokens,
			MaxRunTime:   ac.MaxRunTime,
			Logger:       logger,
		})
		if err := manager.Register(sess); err != nil {
			return fmt.Errorf("registering agent %q: %w", ac.Name, err)
		}
	}

	// Connect to Slack
	bridge, err := slackbridge.New(slackbridge.Config{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("connecting to slack: %w", err)
	}

	// Wire the relay between them
	bindings := make(map[string]relay.Binding, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		bindings[ch.ChannelID] = relay.Binding{
			Agent:        ch.Agent,
			AllowedUsers: ch.AllowedUsers,
		}
	}
	rl := relay.New(relay.Config{
		Transport:     bridge,
		Agents:        manager,
		Bindings:      bindings,
		Logger:        logger,
		FlushInterval: cfg.Relay.FlushInterval,
		MaxMessageLen: cfg.Relay.MaxMessageLength,
	})
	bridge.OnMessage(rl.HandleInbound)

	runErr := bridge.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := rl.Shutdown(shutdownCtx); err != nil {
		logger.Warn("relay shutdown incomplete", "error", err)
	}

	return runErr
}

func runCheck() error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Printf("config ok: %d agent(s), %d channel binding(s)\n", len(cfg.Agents), len(cfg.Channels))
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs (from WithAttrs) print before record attrs.
	for _, a := range h.attrs {
		writeAttr(&buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, a)
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func writeAttr(buf *strings.Builder, a slog.Attr) {
	buf.WriteString(color.HiBlackString(" " + a.Key + "="))
	buf.WriteString(a.Value.String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &colorHandler{
		level:  h.level,
		attrs:  append(append([]slog.Attr(nil), h.attrs...), attrs...),
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: append(append([]string(nil), h.groups...), name),
	}
}
