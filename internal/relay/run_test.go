// ABOUTME: Tests for the request/response cycle driver.
// ABOUTME: Covers fragment forwarding, discrete emissions, completion, fallback, and timeout.

package relay

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession is a scripted AgentSession backed by an in-memory event log.
type fakeSession struct {
	mu         sync.Mutex
	events     []AgentEvent
	notify     chan struct{}
	busy       bool
	idleDone   chan struct{}
	maxRunTime time.Duration
	requestID  string
	submitted  []string
	script     func(s *fakeSession, requestID string)

	// rejectSubmits makes the next N SubmitInput calls fail as if another
	// request claimed the session between WaitIdle and the submit.
	rejectSubmits int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		notify:    make(chan struct{}),
		requestID: "req-1",
	}
}

func (s *fakeSession) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.busy {
			s.mu.Unlock()
			return nil
		}
		ch := s.idleDone
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (s *fakeSession) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.events))
}

func (s *fakeSession) SubmitInput(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	if s.rejectSubmits > 0 {
		s.rejectSubmits--
		s.mu.Unlock()
		return "", ErrAgentBusy
	}
	s.submitted = append(s.submitted, text)
	s.busy = true
	s.idleDone = make(chan struct{})
	id := s.requestID
	script := s.script
	s.mu.Unlock()

	if script != nil {
		go script(s, id)
	}
	return id, nil
}

func (s *fakeSession) Subscribe(ctx context.Context, from uint64) <-chan AgentEvent {
	out := make(chan AgentEvent, 16)
	go func() {
		defer close(out)
		next := from
		for {
			s.mu.Lock()
			for next < uint64(len(s.events)) {
				ev := s.events[next]
				s.mu.Unlock()
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				next++
				s.mu.Lock()
			}
			wait := s.notify
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-wait:
			}
		}
	}()
	return out
}

func (s *fakeSession) MaxRunTime() time.Duration { return s.maxRunTime }

func (s *fakeSession) emit(kind EventKind, text, requestID string) {
	s.mu.Lock()
	s.events = append(s.events, AgentEvent{
		Seq:       uint64(len(s.events)),
		Kind:      kind,
		Text:      text,
		RequestID: requestID,
	})
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
}

func (s *fakeSession) finish() {
	s.mu.Lock()
	s.busy = false
	done := s.idleDone
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
}

// staticResolver maps one name to one session.
type staticResolver map[string]AgentSession

func (r staticResolver) Resolve(name string) (AgentSession, bool) {
	sess, ok := r[name]
	return sess, ok
}

func newTestRelay(tr *fakeTransport, sess AgentSession) *Relay {
	return New(Config{
		Transport:     tr,
		Agents:        staticResolver{"coder": sess},
		Bindings:      map[string]Binding{"C1": {Agent: "coder"}},
		FlushInterval: 5 * time.Millisecond,
	})
}

func TestRunRequest_StreamsFragmentsThenCompletes(t *testing.T) {
	tr := newFakeTransport()
	sess := newFakeSession()
	sess.script = func(s *fakeSession, reqID string) {
		s.emit(EventOutput, "Hello, ", reqID)
		s.emit(EventOutput, "world!", reqID)
		s.emit(EventInputHandled, "", reqID)
		s.finish()
	}
	rl := newTestRelay(tr, sess)

	rl.runRequest(context.Background(), sess, "C1", "greet me")

	sends := tr.sent()
	require.NotEmpty(t, sends)
	var full string
	for _, s := range sends {
		if s.messageID == "" {
			full += s.text
		} else {
			full = s.text // edit replaces the in-place message
		}
	}
	assert.Equal(t, "Hello, world!", full)
	for _, s := range sends {
		assert.NotEqual(t, noResponseNotice, s.text)
	}
	assert.Equal(t, []string{"greet me"}, sess.submitted)
}

func TestRunRequest_ResubmitsAfterLosingIdleRace(t *testing.T) {
	tr := newFakeTransport()
	sess := newFakeSession()
	sess.rejectSubmits = 1
	sess.script = func(s *fakeSession, reqID string) {
		s.emit(EventOutput, "served", reqID)
		s.emit(EventInputHandled, "", reqID)
		s.finish()
	}
	rl := newTestRelay(tr, sess)

	rl.runRequest(context.Background(), sess, "C1", "hello")

	sess.mu.Lock()
	submitted := append([]string(nil), sess.submitted...)
	sess.mu.Unlock()
	assert.Equal(t, []string{"hello"}, submitted, "losing the idle race must queue the request, not drop it")
	for _, s := range tr.sent() {
		assert.NotContains(t, s.text, "_[error]_")
	}
}

func TestRunRequest_NoOutputSendsFallbackNotice(t *testing.T) {
	tr := newFakeTransport()
	sess := newFakeSession()
	sess.script = func(s *fakeSession, reqID string) {
		s.emit(EventInputHandled, "", reqID)
		s.finish()
	}
	rl := newTestRelay(tr, sess)

	rl.runRequest(context.Background(), sess, "C1", "anything")

	sends := tr.sent()
	require.Len(t, sends, 1)
	assert.Equal(t, noResponseNotice, sends[0].text)
}

func TestRunRequest_DiscreteEmissionsBypassBuffering(t *testing.T) {
	tr := newFakeTransport()
	sess := newFakeSession()
	sess.script = func(s *fakeSession, reqID string) {
		s.emit(EventWarning, "context is getting long", reqID)
		s.emit(EventOutput, "answer", reqID)
		s.emit(EventInputHandled, "", reqID)
		s.finish()
	}
	rl := newTestRelay(tr, sess)

	rl.runRequest(context.Background(), sess, "C1", "q")

	var sawWarning, sawAnswer bool
	for _, s := range tr.sent() {
		if strings.Contains(s.text, "[warning]") && strings.Contains(s.text, "context is getting long") {
			sawWarning = true
		}
		if s.text == "answer" {
			sawAnswer = true
		}
	}
	assert.True(t, sawWarning, "warning posted as a tagged discrete message")
	assert.True(t, sawAnswer)
}

func TestRunRequest_ForeignCompletionIsIgnored(t *testing.T) {
	tr := newFakeTransport()
	sess := newFakeSession()
	sess.script = func(s *fakeSession, reqID string) {
		s.emit(EventInputHandled, "", "someone-elses-request")
		s.emit(EventOutput, "real answer", reqID)
		s.emit(EventInputHandled, "", reqID)
		s.finish()
	}
	rl := newTestRelay(tr, sess)

	rl.runRequest(context.Background(), sess, "C1", "q")

	var full string
	for _, s := range tr.sent() {
		if s.messageID == "" {
			full += s.text
		} else {
			full = s.text
		}
	}
	assert.Equal(t, "real answer", full, "cycle must not terminate on a foreign completion")
}

func TestRunRequest_EarlierHistoryIsInvisible(t *testing.T) {
	tr := newFakeTransport()
	sess := newFakeSession()
	// Events from a previous request sit in the log before this cycle.
	sess.emit(EventOutput, "stale output", "req-0")
	sess.emit(EventInputHandled, "", "req-0")

	sess.script = func(s *fakeSession, reqID string) {
		s.emit(EventOutput, "fresh", reqID)
		s.emit(EventInputHandled, "", reqID)
		s.finish()
	}
	rl := newTestRelay(tr, sess)

	rl.runRequest(context.Background(), sess, "C1", "q")

	for _, s := range tr.sent() {
		assert.NotContains(t, s.text, "stale output")
	}
}

func TestRunRequest_TimeoutCancelsAndNotifies(t *testing.T) {
	tr := newFakeTransport()
	sess := newFakeSession()
	sess.maxRunTime = 50 * time.Millisecond
	sess.script = func(s *fakeSession, reqID string) {
		s.emit(EventOutput, "partial...", reqID)
		// Never emits InputHandled: the run hangs.
	}
	rl := newTestRelay(tr, sess)

	done := make(chan struct{})
	go func() {
		rl.runRequest(context.Background(), sess, "C1", "q")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout did not terminate the cycle")
	}

	var sawTimeout bool
	for _, s := range tr.sent() {
		if strings.Contains(s.text, "did not finish") {
			sawTimeout = true
		}
	}
	assert.True(t, sawTimeout, "timeout surfaced as a user-visible notice")
}

func TestRunRequest_FinalFlushDrainsBufferedTail(t *testing.T) {
	tr := newFakeTransport()
	sess := newFakeSession()
	sess.script = func(s *fakeSession, reqID string) {
		s.emit(EventOutput, "tail content", reqID)
		s.emit(EventInputHandled, "", reqID)
		s.finish()
	}
	// Interval so long that only the final forced flush can transmit.
	rl := New(Config{
		Transport:     tr,
		Agents:        staticResolver{"coder": sess},
		Bindings:      map[string]Binding{"C1": {Agent: "coder"}},
		FlushInterval: 10 * time.Second,
	})

	rl.runRequest(context.Background(), sess, "C1", "q")

	var full string
	for _, s := range tr.sent() {
		full += s.text
	}
	assert.Contains(t, full, "tail content")
}
