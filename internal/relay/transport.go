// ABOUTME: Chat transport contract consumed by the relay.
// ABOUTME: Defines outbound post/update operations and the inbound message shape.

package relay

import (
	"context"
	"errors"
	"time"
)

// ErrMessageNotFound is returned by ChatTransport.UpdateMessage when the
// target message no longer exists (deleted, or too old to edit).
var ErrMessageNotFound = errors.New("message not found")

// ChatTransport is the chat surface the relay talks to. Implementations post
// and edit messages in a destination (a channel or conversation key) and know
// the identity the relay posts as.
type ChatTransport interface {
	// PostMessage sends text as a new message and returns its transport
	// message ID (for Slack, the message timestamp).
	PostMessage(ctx context.Context, destination, text string) (string, error)

	// UpdateMessage replaces the text of an existing message in place.
	// Returns ErrMessageNotFound if messageID no longer refers to an
	// editable message.
	UpdateMessage(ctx context.Context, destination, messageID, text string) error

	// BotID returns the transport identity the relay posts as.
	BotID() string
}

// InboundMessage is a message received from the chat transport.
type InboundMessage struct {
	// ID is the transport's unique identifier for this message within its
	// destination (for Slack, the message timestamp).
	ID string

	// Destination is the channel or conversation the message arrived in.
	Destination string

	// Sender is the transport user ID of the author. Empty for messages
	// with no attributable sender (system notices, some subtypes).
	Sender string

	// Text is the message body.
	Text string

	// ThreadRoot is the ID of the message this one replies to, or empty
	// for top-level messages.
	ThreadRoot string

	// FromBot is true when the author is a bot identity (including the
	// relay itself).
	FromBot bool

	// Timestamp is the transport arrival time.
	Timestamp time.Time
}
