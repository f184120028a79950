// ABOUTME: Drives one request/response cycle against an agent session.
// ABOUTME: Waits for idle, submits input, classifies replayed events, handles timeout.

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// noResponseNotice is sent when a request completes without producing any
// output fragment.
const noResponseNotice = "_(no response)_"

// runRequest performs a single request against sess for a destination:
// wait for idle, capture a cursor, submit, then consume events from the
// cursor until the matching completion event, timeout, or cancellation.
func (rl *Relay) runRequest(ctx context.Context, sess AgentSession, destination, input string) {
	// WaitIdle and SubmitInput are separate calls, so two requests can both
	// observe an idle session; the loser resubmits behind the winner.
	var cursor uint64
	var requestID string
	for {
		if err := sess.WaitIdle(ctx); err != nil {
			rl.logger.Debug("abandoned waiting for idle agent",
				"destination", destination,
				"error", err)
			return
		}

		// Capture before submitting so no event from this request is
		// missed; earlier history stays invisible to this cycle.
		cursor = sess.Cursor()

		var err error
		requestID, err = sess.SubmitInput(ctx, input)
		if errors.Is(err, ErrAgentBusy) {
			continue
		}
		if err != nil {
			rl.logger.Error("submitting input failed",
				"destination", destination,
				"error", err)
			rl.postNotice(destination, fmt.Sprintf("_[error]_ %v", err))
			return
		}
		break
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut atomic.Bool
	if budget := sess.MaxRunTime(); budget > 0 {
		timer := time.AfterFunc(budget, func() {
			timedOut.Store(true)
			cancel()
		})
		defer timer.Stop()
	}

	sawOutput := false
	for ev := range sess.Subscribe(runCtx, cursor) {
		switch ev.Kind {
		case EventOutput:
			sawOutput = true
			rl.flusher.Record(destination, ev.Text)

		case EventInfo, EventWarning, EventError:
			// Discrete emissions bypass the flusher.
			rl.postNotice(destination, fmt.Sprintf("_[%s]_ %s", ev.Kind, ev.Text))

		case EventInputHandled:
			if ev.RequestID != requestID {
				continue
			}
			if !sawOutput {
				rl.postNotice(destination, noResponseNotice)
			}
			cancel()
		}
	}

	if timedOut.Load() {
		rl.postNotice(destination, fmt.Sprintf("_[error]_ agent did not finish within %s", sess.MaxRunTime()))
	}

	rl.flusher.Flush(destination)
}

// postNotice sends a discrete user-visible message immediately, outside the
// flusher's buffering. Failures are logged and otherwise ignored.
func (rl *Relay) postNotice(destination, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if _, err := rl.transport.PostMessage(ctx, destination, text); err != nil {
		rl.logger.Error("posting notice failed",
			"destination", destination,
			"error", err)
	}
}
