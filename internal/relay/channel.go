// ABOUTME: Correlated channels and the thread correlation registry.
// ABOUTME: Routes threaded replies back to the logical conversation that started the thread.

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// ErrReceiverBusy is returned by Channel.Receive when another receive is
// already in flight; a channel supports a single concurrent consumer.
var ErrReceiverBusy = errors.New("channel already has a receiver")

// trackedMessage records who a thread root belongs to: the channel that
// posted it and the bot identity it was posted as.
type trackedMessage struct {
	channel  *Channel
	postedBy string
}

// Registry is the thread correlation router. It maps tracked outbound message
// IDs to the channels that produced them so threaded replies can be routed
// back, and owns removal: entries disappear when their channel closes or on
// CloseAll at shutdown.
type Registry struct {
	logger *slog.Logger

	mu       sync.Mutex
	tracked  map[string]*trackedMessage
	owned    map[*Channel][]string
	channels map[*Channel]struct{}
}

// NewRegistry creates an empty registry. Pass a nil logger for the default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger.With("component", "registry"),
		tracked:  make(map[string]*trackedMessage),
		owned:    make(map[*Channel][]string),
		channels: make(map[*Channel]struct{}),
	}
}

// trackedID composes the registry key for a message from its destination and
// transport timestamp, so IDs from different destinations cannot collide.
func trackedID(destination, messageID string) string {
	return destination + ":" + messageID
}

// NewChannel creates a correlated channel bound to a destination.
func (r *Registry) NewChannel(transport ChatTransport, destination string) *Channel {
	ch := &Channel{
		registry:    r,
		transport:   transport,
		destination: destination,
	}
	r.mu.Lock()
	r.channels[ch] = struct{}{}
	r.mu.Unlock()
	return ch
}

// track registers an outbound message ID against its channel.
func (r *Registry) track(id string, ch *Channel, postedBy string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[ch]; !ok {
		// Channel already closed; do not resurrect its entries.
		return
	}
	r.tracked[id] = &trackedMessage{channel: ch, postedBy: postedBy}
	r.owned[ch] = append(r.owned[ch], id)
}

// Deliver routes a threaded reply to the channel owning its thread root.
// The reply is accepted only if the root is tracked and was posted as selfID;
// on acceptance the reply's own ID is tracked under the same channel so
// chained replies keep routing. Returns true if the message was consumed.
func (r *Registry) Deliver(msg InboundMessage, selfID string) bool {
	rootID := trackedID(msg.Destination, msg.ThreadRoot)

	r.mu.Lock()
	tm, ok := r.tracked[rootID]
	if !ok || tm.postedBy != selfID {
		r.mu.Unlock()
		return false
	}
	ch := tm.channel
	replyID := trackedID(msg.Destination, msg.ID)
	r.tracked[replyID] = &trackedMessage{channel: ch, postedBy: tm.postedBy}
	r.owned[ch] = append(r.owned[ch], replyID)
	r.mu.Unlock()

	r.logger.Debug("threaded reply routed",
		"destination", msg.Destination,
		"thread_root", msg.ThreadRoot,
		"sender", msg.Sender)
	ch.deliver(msg.Text)
	return true
}

// release removes a channel and every message ID it owns. Called from
// Channel.Close.
func (r *Registry) release(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.owned[ch] {
		delete(r.tracked, id)
	}
	delete(r.owned, ch)
	delete(r.channels, ch)
}

// CloseAll closes every open channel. Used at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	open := make([]*Channel, 0, len(r.channels))
	for ch := range r.channels {
		open = append(open, ch)
	}
	r.mu.Unlock()

	for _, ch := range open {
		ch.Close()
	}
}

// Channel is a single logical two-way conversation over threaded replies.
// Send posts top-level messages whose threads route back here; Receive yields
// the replies in transport arrival order to a single consumer.
type Channel struct {
	registry    *Registry
	transport   ChatTransport
	destination string

	mu     sync.Mutex
	queue  []string
	waiter chan string
	closed bool
}

// Send posts text as a new top-level message and tracks its ID so threaded
// replies to it are delivered to this channel. The posted message ID is
// returned for callers that correlate threads themselves.
func (c *Channel) Send(ctx context.Context, text string) (string, error) {
	ts, err := c.transport.PostMessage(ctx, c.destination, text)
	if err != nil {
		return "", err
	}
	c.registry.track(trackedID(c.destination, ts), c, c.transport.BotID())
	return ts, nil
}

// Receive returns the next inbound reply, blocking until one arrives, ctx is
// done, or the channel closes. Returns io.EOF once the channel is closed and
// drained. Only one Receive may be in flight at a time.
func (c *Channel) Receive(ctx context.Context) (string, error) {
	c.mu.Lock()
	if len(c.queue) > 0 {
		text := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		return text, nil
	}
	if c.closed {
		c.mu.Unlock()
		return "", io.EOF
	}
	if c.waiter != nil {
		c.mu.Unlock()
		return "", ErrReceiverBusy
	}
	w := make(chan string, 1)
	c.waiter = w
	c.mu.Unlock()

	select {
	case text, ok := <-w:
		if !ok {
			return "", io.EOF
		}
		return text, nil
	case <-ctx.Done():
		c.mu.Lock()
		if c.waiter == w {
			c.waiter = nil
		}
		// A delivery may have raced the cancellation; keep it for the
		// next Receive rather than dropping it.
		select {
		case text, ok := <-w:
			if ok {
				c.queue = append([]string{text}, c.queue...)
			}
		default:
		}
		c.mu.Unlock()
		return "", ctx.Err()
	}
}

// deliver hands a reply to the waiting consumer, or enqueues it. Never both.
func (c *Channel) deliver(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.waiter != nil {
		c.waiter <- text
		c.waiter = nil
		return
	}
	c.queue = append(c.queue, text)
}

// Close ends the conversation: any waiting Receive returns io.EOF and every
// tracked message owned by the channel is released. Idempotent.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	w := c.waiter
	c.waiter = nil
	c.mu.Unlock()

	if w != nil {
		close(w)
	}
	c.registry.release(c)
}
