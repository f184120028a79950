// ABOUTME: Slack Socket Mode transport implementing the relay's ChatTransport.
// ABOUTME: Pumps Events API messages inbound and posts/edits messages outbound.

package slackbridge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/tokenring-ai/slack/internal/relay"
)

// Config configures the Slack bridge.
type Config struct {
	// BotToken is the xoxb- token used for Web API calls.
	BotToken string

	// AppToken is the xapp- token used for the Socket Mode connection.
	AppToken string

	Logger *slog.Logger
}

// Bridge connects a Slack workspace to the relay. It implements
// relay.ChatTransport for the outbound side and converts Events API payloads
// into relay.InboundMessage for the inbound side.
type Bridge struct {
	api       *slack.Client
	socket    *socketmode.Client
	botUserID string
	logger    *slog.Logger
	handler   func(relay.InboundMessage)
}

// New dials the Slack Web API, verifies the tokens, and returns a connected
// bridge. Run must be called to start receiving events.
func New(cfg Config) (*Bridge, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("app token is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "slackbridge")

	api := slack.New(
		cfg.BotToken,
		slack.OptionAppLevelToken(cfg.AppToken),
	)

	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack auth: %w", err)
	}
	logger.Info("slack bot authenticated",
		"user", authResp.User,
		"user_id", authResp.UserID,
		"team", authResp.Team)

	return &Bridge{
		api:       api,
		socket:    socketmode.New(api),
		botUserID: authResp.UserID,
		logger:    logger,
	}, nil
}

// BotID implements relay.ChatTransport.
func (b *Bridge) BotID() string { return b.botUserID }

// OnMessage registers the inbound handler. Must be called before Run.
func (b *Bridge) OnMessage(fn func(relay.InboundMessage)) {
	b.handler = fn
}

// PostMessage implements relay.ChatTransport. The returned ID is the message
// timestamp Slack assigned.
func (b *Bridge) PostMessage(ctx context.Context, destination, text string) (string, error) {
	_, ts, err := b.api.PostMessageContext(ctx, destination,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return "", fmt.Errorf("posting to %s: %w", destination, mapSlackError(err))
	}
	return ts, nil
}

// UpdateMessage implements relay.ChatTransport. Editing a message Slack has
// already discarded returns relay.ErrMessageNotFound.
func (b *Bridge) UpdateMessage(ctx context.Context, destination, messageID, text string) error {
	_, _, _, err := b.api.UpdateMessageContext(ctx, destination, messageID,
		slack.MsgOptionText(text, false),
	)
	if err != nil {
		return fmt.Errorf("editing %s in %s: %w", messageID, destination, mapSlackError(err))
	}
	return nil
}

// Run consumes Socket Mode events until ctx is done. Every event is acked
// whether or not it is handled; unacked events make Slack redeliver and
// eventually disconnect the socket.
func (b *Bridge) Run(ctx context.Context) error {
	go b.eventLoop(ctx)

	err := b.socket.RunContext(ctx)
	if ctx.Err() != nil {
		b.logger.Info("slack bridge disconnecting")
		return nil
	}
	return fmt.Errorf("slack socket mode: %w", err)
}

// eventLoop drains the socket's event channel. socketmode never closes the
// channel, so the loop exits on ctx instead.
func (b *Bridge) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socket.Events:
			if !ok {
				return
			}
			b.handleSocketEvent(evt)
		}
	}
}

func (b *Bridge) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		b.logger.Info("socket mode connected")

	case socketmode.EventTypeConnectionError:
		b.logger.Warn("socket mode connection error", "data", evt.Data)

	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		b.socket.Ack(*evt.Request)
		b.handleEventsAPI(apiEvent)

	default:
		if evt.Request != nil {
			b.socket.Ack(*evt.Request)
		}
	}
}

// handleEventsAPI converts callback events into inbound messages. Message
// edits, deletions, and other subtypes are skipped; the relay dispatcher
// applies its own filtering on top.
func (b *Bridge) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if ev.SubType != "" && ev.SubType != "bot_message" {
		return
	}
	if b.handler == nil {
		return
	}

	msg := toInbound(ev)
	b.logger.Debug("slack message received",
		"channel", msg.Destination,
		"sender", msg.Sender,
		"thread_root", msg.ThreadRoot,
		"len", len(msg.Text))
	b.handler(msg)
}

// toInbound maps a Slack message event onto the relay's transport-neutral
// shape. ThreadRoot is set only for replies; Slack sets ThreadTimeStamp on
// thread roots too, equal to their own timestamp.
func toInbound(ev *slackevents.MessageEvent) relay.InboundMessage {
	sender := ev.User
	if sender == "" {
		sender = ev.BotID
	}
	msg := relay.InboundMessage{
		ID:          ev.TimeStamp,
		Destination: ev.Channel,
		Sender:      sender,
		Text:        ev.Text,
		FromBot:     ev.BotID != "" || ev.SubType == "bot_message",
		Timestamp:   parseSlackTS(ev.TimeStamp),
	}
	if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
		msg.ThreadRoot = ev.ThreadTimeStamp
	}
	return msg
}

// mapSlackError translates Slack API error strings the relay cares about.
func mapSlackError(err error) error {
	if err != nil && err.Error() == "message_not_found" {
		return relay.ErrMessageNotFound
	}
	return err
}

// parseSlackTS converts a "seconds.fraction" Slack timestamp to wall time.
// Malformed input yields the zero time.
func parseSlackTS(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	secs, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		micros, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}
		}
	}
	return time.Unix(secs, micros*int64(time.Microsecond))
}
