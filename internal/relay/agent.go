// ABOUTME: Agent collaborator contract consumed by the relay.
// ABOUTME: Defines the replayable event stream, cursor, and session operations.

package relay

import (
	"context"
	"errors"
	"time"
)

// ErrAgentBusy reports that the session stopped being idle between a
// caller's WaitIdle and its SubmitInput. Callers re-wait and resubmit; the
// request is queued behind the winner, never dropped.
var ErrAgentBusy = errors.New("agent busy")

// EventKind classifies an agent event.
type EventKind int

const (
	// EventOutput is a partial-output fragment; fragments for one request
	// concatenate, in order, into the full response.
	EventOutput EventKind = iota

	// EventInfo is a discrete informational emission.
	EventInfo

	// EventWarning is a discrete warning emission.
	EventWarning

	// EventError is a discrete error emission.
	EventError

	// EventInputHandled marks the completion of the request identified by
	// the event's RequestID.
	EventInputHandled
)

// String returns the tag used when surfacing a discrete event to chat.
func (k EventKind) String() string {
	switch k {
	case EventOutput:
		return "output"
	case EventInfo:
		return "info"
	case EventWarning:
		return "warning"
	case EventError:
		return "error"
	case EventInputHandled:
		return "input-handled"
	default:
		return "unknown"
	}
}

// AgentEvent is one entry in an agent session's append-only event log.
type AgentEvent struct {
	// Seq is the event's position in the session log. Subscribing from a
	// cursor replays events with Seq >= cursor.
	Seq uint64

	// Kind classifies the event.
	Kind EventKind

	// Text carries the fragment or emission body.
	Text string

	// RequestID identifies which submitted input produced this event.
	RequestID string
}

// AgentSession is one conversational agent the relay can drive. Sessions are
// long-lived; each request/response cycle runs WaitIdle, Cursor, SubmitInput,
// then Subscribe from the captured cursor.
type AgentSession interface {
	// WaitIdle blocks until the session is not processing a request, or
	// until ctx is done. Concurrent callers racing to submit are
	// serialized here, never queued.
	WaitIdle(ctx context.Context) error

	// Cursor returns the current end-of-log position. Events produced
	// after this call have Seq >= the returned cursor.
	Cursor() uint64

	// SubmitInput hands text to the agent and returns the request ID its
	// completion event will carry. Returns ErrAgentBusy if another request
	// won the idle race.
	SubmitInput(ctx context.Context, text string) (string, error)

	// Subscribe returns a channel replaying the event log from the given
	// cursor and then following new events. The channel closes when ctx
	// is done.
	Subscribe(ctx context.Context, from uint64) <-chan AgentEvent

	// MaxRunTime is the per-request time budget. Zero means unbounded.
	MaxRunTime() time.Duration
}

// AgentResolver maps a configured agent name to a live session.
type AgentResolver interface {
	Resolve(name string) (AgentSession, bool)
}
