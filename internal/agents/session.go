// ABOUTME: Event-log-backed agent session driving a streaming model provider.
// ABOUTME: Serializes requests, records classified events, and replays them to subscribers.

package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tokenring-ai/slack/internal/llm"
	"github.com/tokenring-ai/slack/internal/relay"
)

// ErrSessionBusy indicates a request was submitted while another is running.
// It is the relay's busy sentinel, so dispatch loops can errors.Is against
// either name and know to re-wait for idle.
var ErrSessionBusy = relay.ErrAgentBusy

// SessionConfig assembles a Session.
type SessionConfig struct {
	Name         string
	Provider     llm.Provider
	SystemPrompt string
	MaxTokens    int

	// MaxRunTime bounds one request; zero means unbounded.
	MaxRunTime time.Duration

	Logger *slog.Logger
}

// Session is a single long-lived conversation with a model provider. Each
// submitted input becomes one provider invocation; everything the provider
// produces is appended to an ordered event log that subscribers replay from
// any cursor position.
type Session struct {
	name         string
	provider     llm.Provider
	systemPrompt string
	maxTokens    int
	maxRunTime   time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	history  []llm.Message
	events   []relay.AgentEvent
	notify   chan struct{}
	busy     bool
	idleDone chan struct{}
}

// NewSession creates a Session around a provider.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		name:         cfg.Name,
		provider:     cfg.Provider,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		maxRunTime:   cfg.MaxRunTime,
		logger:       logger.With("component", "session", "agent", cfg.Name),
		notify:       make(chan struct{}),
	}
}

// Name returns the session's registered agent name.
func (s *Session) Name() string { return s.name }

// MaxRunTime implements relay.AgentSession.
func (s *Session) MaxRunTime() time.Duration { return s.maxRunTime }

// WaitIdle implements relay.AgentSession. It returns once no request is in
// flight, or when ctx is done.
func (s *Session) WaitIdle(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.busy {
			s.mu.Unlock()
			return nil
		}
		done := s.idleDone
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
	}
}

// Cursor implements relay.AgentSession. The returned position is the sequence
// number the next appended event will carry.
func (s *Session) Cursor() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.events))
}

// SubmitInput implements relay.AgentSession. It records the user turn, starts
// the provider invocation in the background, and returns the request ID whose
// completion event ends the cycle.
func (s *Session) SubmitInput(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return "", ErrSessionBusy
	}
	s.busy = true
	s.idleDone = make(chan struct{})
	s.history = append(s.history, llm.Message{Role: "user", Content: text})
	s.mu.Unlock()

	requestID := uuid.New().String()
	go s.run(requestID)
	return requestID, nil
}

// Subscribe implements relay.AgentSession. The returned channel replays events
// from the cursor position and then follows the live log until ctx is done.
func (s *Session) Subscribe(ctx context.Context, from uint64) <-chan relay.AgentEvent {
	out := make(chan relay.AgentEvent, 16)
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

// run performs one provider invocation and always ends with a completion
// event and an idle session, whatever the provider does.
func (s *Session) run(requestID string) {
	ctx := context.Background()
	if s.maxRunTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.maxRunTime)
		defer cancel()
	}

	s.mu.Lock()
	req := llm.ChatRequest{
		System:    s.systemPrompt,
		Messages:  append([]llm.Message(nil), s.history...),
		MaxTokens: s.maxTokens,
	}
	s.mu.Unlock()

	started := time.Now()
	resp, err := s.provider.ChatStream(ctx, req, func(delta string) {
		s.append(relay.EventOutput, delta, requestID)
	})

	switch {
	case err != nil:
		s.logger.Error("provider invocation failed",
			"request_id", requestID,
			"error", err)
		s.append(relay.EventError, fmt.Sprintf("request failed: %v", err), requestID)

	default:
		s.logger.Info("provider invocation finished",
			"request_id", requestID,
			"stop_reason", resp.StopReason,
			"output_tokens", resp.Usage.OutputTokens,
			"duration", time.Since(started))
		if resp.StopReason == "max_tokens" {
			s.append(relay.EventWarning, "response was truncated at the token limit", requestID)
		}
		s.mu.Lock()
		s.history = append(s.history, llm.Message{Role: "assistant", Content: resp.Content})
		s.mu.Unlock()
	}

	s.append(relay.EventInputHandled, "", requestID)

	s.mu.Lock()
	s.busy = false
	done := s.idleDone
	s.mu.Unlock()
	close(done)
}

// append adds one event to the log and wakes all followers.
func (s *Session) append(kind relay.EventKind, text, requestID string) {
	s.mu.Lock()
	s.events = append(s.events, relay.AgentEvent{
		Seq:       uint64(len(s.events)),
		Kind:      kind,
		Text:      text,
		RequestID: requestID,
	})
	close(s.notify)
	s.notify = make(chan struct{})
	s.mu.Unlock()
}
