// Package relay is the bidirectional bridge between a rate-limited chat
// surface and streaming agent sessions.
//
// # Overview
//
// The relay sits between two collaborators it does not own:
//
//   - a ChatTransport (post, in-place update, inbound message feed)
//   - AgentSessions resolved by name (idle wait, input submission, a
//     replayable event log)
//
// It reconciles three constraints at once: the transport enforces a minimum
// interval between sends and a maximum message size, agents emit unbounded
// streams of partial-output fragments, and threaded replies must route back
// to the specific logical conversation that started the thread.
//
// # Components
//
//   - Flusher: coalesces per-destination output and transmits it no more
//     often than the interval floor, splitting oversized buffers and
//     editing the current message in place while it still fits.
//   - Registry + Channel: tracked-message table mapping thread roots to
//     correlated channels; Channel gives callers send/receive/close over a
//     threaded side conversation.
//   - runRequest: drives one request/response cycle against an agent
//     session, classifying events from a captured cursor.
//   - Relay.HandleInbound: the dispatcher. Filters bot/self/blank
//     messages, drops redeliveries, delegates tracked thread replies,
//     applies allow-lists, strips the leading mention, and starts a cycle.
//
// # Message flow
//
//	inbound message -> HandleInbound
//	  threaded reply to tracked root -> Registry -> Channel.Receive
//	  new request -> runRequest -> Flusher -> transport
//
// # Lifecycle
//
//	rl := relay.New(relay.Config{Transport: t, Agents: m, Bindings: b})
//	// feed rl.HandleInbound from the transport's event loop
//	defer rl.Shutdown(ctx) // drains cycles, closes channels, final flush
//
// Errors in one destination's processing never touch another destination's
// buffer or channel; dispatcher-level failures drop the triggering message
// and keep the relay running.
package relay
