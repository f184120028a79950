// ABOUTME: Package documentation for the agents package.
// ABOUTME: Describes sessions, the event log, and the manager registry.

// Package agents hosts the model-backed sessions the relay dispatches to.
//
// A Session owns one rolling conversation with a model provider. Submitted
// inputs run one at a time; everything a run produces is appended to an
// ordered event log, and subscribers replay the log from any cursor position.
// The log is what lets the relay observe a request it started without racing
// the provider: capture the cursor, submit, then read forward.
//
// The Manager is a name-to-session registry; the relay resolves the agent
// bound to a destination through it.
package agents
