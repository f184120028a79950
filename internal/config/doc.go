// ABOUTME: Package documentation for the config package.
// ABOUTME: Describes the YAML layout, env expansion, and duration parsing.

// Package config handles configuration loading for the slack relay.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SLACK_RELAY_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/slack-relay/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	slack:
//	  bot_token: "${SLACK_BOT_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	relay:
//	  flush_interval: "250ms"
//
//	agents:
//	  - name: "coder"
//	    max_run_time: "5m"
package config
