// ABOUTME: Relay service wiring the inbound dispatcher to agents and the flusher.
// ABOUTME: Classifies transport messages, applies allow-lists, starts request cycles.

package relay

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/tokenring-ai/slack/internal/dedupe"
)

const (
	// dedupeTTL is how long an inbound message ID is remembered; Slack
	// redelivers Events API payloads within minutes when acks are slow.
	dedupeTTL = 5 * time.Minute

	// dedupeMaxEntries bounds the seen-message cache.
	dedupeMaxEntries = 100_000
)

// mentionRE matches a leading Slack-style mention token.
var mentionRE = regexp.MustCompile(`^<@[^>]+>\s*`)

// Binding ties a destination to the agent that serves it and, optionally,
// the users allowed to address it.
type Binding struct {
	// Agent is the name resolved through the AgentResolver.
	Agent string

	// AllowedUsers, when non-empty, restricts who may start requests in
	// this destination. Threaded replies into tracked conversations are
	// not subject to the allow-list.
	AllowedUsers []string
}

// Config assembles a Relay.
type Config struct {
	Transport ChatTransport
	Agents    AgentResolver

	// Bindings maps destination IDs to their serving agent.
	Bindings map[string]Binding

	Logger *slog.Logger

	// FlushInterval and MaxMessageLen tune the flusher; zero values take
	// the defaults.
	FlushInterval time.Duration
	MaxMessageLen int
}

// Relay is the bidirectional bridge between a chat transport and agent
// sessions. Inbound messages are dispatched to agents or to correlated
// channels; agent output is coalesced and rate-limited on the way out.
type Relay struct {
	transport ChatTransport
	agents    AgentResolver
	bindings  map[string]Binding
	flusher   *Flusher
	registry  *Registry
	seen      *dedupe.Cache
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Relay ready to receive inbound messages.
func New(cfg Config) *Relay {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		transport: cfg.Transport,
		agents:    cfg.Agents,
		bindings:  cfg.Bindings,
		flusher: NewFlusher(FlusherConfig{
			Transport:     cfg.Transport,
			Logger:        logger,
			Interval:      cfg.FlushInterval,
			MaxMessageLen: cfg.MaxMessageLen,
		}),
		registry: NewRegistry(logger),
		seen:     dedupe.New(dedupeTTL, dedupeMaxEntries),
		logger:   logger.With("component", "relay"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// CreateChannel returns a correlated channel bound to a destination, for
// callers that need a two-way side conversation (approvals, escalations).
func (rl *Relay) CreateChannel(destination string) *Channel {
	return rl.registry.NewChannel(rl.transport, destination)
}

// HandleInbound classifies one transport message and routes it. It never
// panics outward: processing errors are logged and the message dropped.
func (rl *Relay) HandleInbound(msg InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			rl.logger.Error("panic handling inbound message",
				"destination", msg.Destination,
				"message_id", msg.ID,
				"panic", r)
		}
	}()

	// Feedback-loop guard: no sender, bot authors (including ourselves),
	// and blank messages are discarded before anything else.
	if msg.Sender == "" || msg.FromBot || msg.Sender == rl.transport.BotID() {
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		return
	}

	if rl.seen.Seen(trackedID(msg.Destination, msg.ID)) {
		rl.logger.Debug("duplicate message ignored",
			"destination", msg.Destination,
			"message_id", msg.ID)
		return
	}

	// Threaded replies into conversations we started go to their channel
	// and stop here. Replies to untracked or foreign roots fall through.
	if msg.ThreadRoot != "" && rl.registry.Deliver(msg, rl.transport.BotID()) {
		return
	}

	binding, ok := rl.bindings[msg.Destination]
	if !ok {
		rl.logger.Debug("message from unbound destination ignored",
			"destination", msg.Destination,
			"sender", msg.Sender)
		return
	}

	if !binding.allows(msg.Sender) {
		rl.logger.Info("sender not on allow-list",
			"destination", msg.Destination,
			"sender", msg.Sender)
		rl.postNotice(msg.Destination, "Sorry, you are not authorized to use this bot.")
		return
	}

	input := strings.TrimSpace(mentionRE.ReplaceAllString(msg.Text, ""))
	if input == "" {
		return
	}

	sess, ok := rl.agents.Resolve(binding.Agent)
	if !ok {
		rl.logger.Error("bound agent unavailable",
			"destination", msg.Destination,
			"agent", binding.Agent)
		rl.postNotice(msg.Destination, "_[error]_ agent is not available")
		return
	}

	rl.logger.Info("dispatching request",
		"destination", msg.Destination,
		"sender", msg.Sender,
		"agent", binding.Agent,
		"len", len(input))

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				rl.logger.Error("panic in request cycle",
					"destination", msg.Destination,
					"panic", r)
			}
		}()
		rl.runRequest(rl.ctx, sess, msg.Destination, input)
	}()
}

// allows reports whether sender may start requests under this binding.
func (b Binding) allows(sender string) bool {
	if len(b.AllowedUsers) == 0 {
		return true
	}
	for _, u := range b.AllowedUsers {
		if u == sender {
			return true
		}
	}
	return false
}

// Shutdown cancels in-flight request cycles, waits for them (bounded by
// ctx), closes all correlated channels, and force-flushes buffered output.
func (rl *Relay) Shutdown(ctx context.Context) error {
	rl.logger.Info("shutting down relay")
	rl.cancel()

	done := make(chan struct{})
	go func() {
		rl.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		rl.logger.Warn("request cycles still running at shutdown deadline")
		err = ctx.Err()
	}

	rl.registry.CloseAll()
	rl.flusher.Close()
	rl.seen.Close()
	return err
}
