// ABOUTME: Package documentation for the slackbridge package.
// ABOUTME: Describes the Socket Mode transport and event conversion.

// Package slackbridge is the Slack-facing edge of the relay.
//
// The Bridge holds one Socket Mode connection per workspace. Inbound Events
// API messages are converted to the relay's transport-neutral shape and
// handed to the registered handler; outbound traffic goes through the Web
// API as posts and in-place edits, keyed by Slack message timestamps.
//
// Every Socket Mode envelope is acked, handled or not. Slack redelivers
// unacked events and eventually tears down the connection.
package slackbridge
