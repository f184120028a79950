// ABOUTME: Output flush scheduler that coalesces per-destination text fragments.
// ABOUTME: Enforces a minimum send interval, splits oversized buffers, reuses in-place edits.

package relay

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// defaultFlushInterval is the floor between flush cycle starts.
	defaultFlushInterval = 250 * time.Millisecond

	// defaultMaxMessageLen is the largest message the transport accepts,
	// in characters. Slack truncates around 4000; 3900 leaves headroom.
	defaultMaxMessageLen = 3900

	// sendTimeout bounds a single transport call from a flush cycle.
	sendTimeout = 30 * time.Second
)

// buffer accumulates unsent text for one destination.
type buffer struct {
	// text is everything recorded and not yet dropped by an overflow split.
	// In the fit case it is retransmitted whole via in-place edits.
	text string

	// lastSent is the text of the last successful transmission; a buffer
	// whose text equals lastSent produces no transport call.
	lastSent string

	// editID is the message that can still be edited in place, if any.
	editID string
}

// Flusher batches recorded output fragments and transmits them to the chat
// transport no more often than a fixed minimum interval. At most one flush
// cycle runs at a time across all destinations.
type Flusher struct {
	transport ChatTransport
	logger    *slog.Logger
	interval  time.Duration
	maxLen    int

	mu        sync.Mutex
	cond      *sync.Cond // signaled when a cycle finishes
	buffers   map[string]*buffer
	pending   map[string]struct{}
	timer     *time.Timer
	running   bool
	lastCycle time.Time
	closed    bool
}

// FlusherConfig configures a Flusher. Zero Interval and MaxMessageLen take
// the package defaults.
type FlusherConfig struct {
	Transport     ChatTransport
	Logger        *slog.Logger
	Interval      time.Duration
	MaxMessageLen int
}

// NewFlusher creates a flusher. Pass a nil logger for the default.
func NewFlusher(cfg FlusherConfig) *Flusher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	maxLen := cfg.MaxMessageLen
	if maxLen <= 0 {
		maxLen = defaultMaxMessageLen
	}
	f := &Flusher{
		transport: cfg.Transport,
		logger:    logger.With("component", "flusher"),
		interval:  interval,
		maxLen:    maxLen,
		buffers:   make(map[string]*buffer),
		pending:   make(map[string]struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Record appends text to the destination's buffer and ensures a flush cycle
// is scheduled. Safe to call from any goroutine.
func (f *Flusher) Record(destination, text string) {
	if text == "" {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		f.logger.Warn("output recorded after close, dropping",
			"destination", destination,
			"len", len(text))
		return
	}

	b := f.buffers[destination]
	if b == nil {
		b = &buffer{}
		f.buffers[destination] = b
	}
	b.text += text
	f.pending[destination] = struct{}{}
	f.scheduleLocked()
}

// Flush synchronously transmits the destination's pending content, including
// any overflow remainders, bypassing the interval floor. Used when an agent
// request finishes so the tail of a response is not left sitting in a buffer.
func (f *Flusher) Flush(destination string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.running {
		f.cond.Wait()
	}
	f.running = true

	for {
		if _, ok := f.pending[destination]; !ok {
			break
		}
		delete(f.pending, destination)
		if err := f.flushDestinationLocked(destination); err != nil {
			// Left pending for the next scheduled cycle.
			break
		}
	}

	f.running = false
	f.cond.Broadcast()
	f.scheduleLocked()
}

// ForceFlushAll transmits every pending destination immediately and returns
// when done. Used at shutdown.
func (f *Flusher) ForceFlushAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.running {
		f.cond.Wait()
	}
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}

	for len(f.pending) > 0 {
		if err := f.runCycleLocked(); err != nil {
			f.logger.Error("forced flush incomplete", "error", err)
			f.scheduleLocked()
			return
		}
	}
}

// Close force-flushes remaining output and releases all buffers. Further
// Record calls are dropped.
func (f *Flusher) Close() {
	f.ForceFlushAll()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.buffers = make(map[string]*buffer)
	f.pending = make(map[string]struct{})
}

// scheduleLocked arms the cycle timer if content is pending and no cycle is
// scheduled or running. The next cycle starts no earlier than
// lastCycle + interval. Must be called with mu held.
func (f *Flusher) scheduleLocked() {
	if f.running || f.timer != nil || len(f.pending) == 0 || f.closed {
		return
	}
	delay := time.Until(f.lastCycle.Add(f.interval))
	if delay < 0 {
		delay = 0
	}
	f.timer = time.AfterFunc(delay, f.timedCycle)
}

// timedCycle is the timer callback: run one cycle, then reschedule if
// destinations became pending during the cycle.
func (f *Flusher) timedCycle() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.timer = nil
	if f.closed || f.running || len(f.pending) == 0 {
		return
	}
	if err := f.runCycleLocked(); err != nil {
		f.logger.Debug("flush cycle completed with errors", "error", err)
	}
	f.scheduleLocked()
}

// runCycleLocked flushes a snapshot of the pending set. Destinations that
// overflow or fail re-enter the pending set for a later cycle. Must be called
// with mu held; the lock is released around transport calls. Returns the
// first per-destination error, if any.
func (f *Flusher) runCycleLocked() error {
	f.running = true
	f.lastCycle = time.Now()

	dests := make([]string, 0, len(f.pending))
	for d := range f.pending {
		dests = append(dests, d)
	}
	sort.Strings(dests)

	var firstErr error
	for _, d := range dests {
		delete(f.pending, d)
		if err := f.flushDestinationLocked(d); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	f.running = false
	f.cond.Broadcast()
	return firstErr
}

// flushDestinationLocked transmits one destination's buffer per the split
// policy. Must be called with mu held and the destination removed from the
// pending set; it re-adds the destination when more work remains. The lock is
// released during transport I/O, so the buffer may grow mid-send; the sent
// snapshot is always a prefix of the buffer because Record only appends.
func (f *Flusher) flushDestinationLocked(destination string) error {
	b := f.buffers[destination]
	if b == nil {
		return nil
	}
	text := b.text
	if text == "" || text == b.lastSent {
		return nil
	}

	if runes := []rune(text); len(runes) > f.maxLen {
		return f.sendOverflowLocked(destination, b, string(runes[:f.maxLen]))
	}
	return f.sendWholeLocked(destination, b, text)
}

// sendOverflowLocked transmits a full-size chunk and seals the message it
// landed in: the chunk is cut from the buffer, the edit handle is discarded,
// and the destination stays pending so the remainder starts a fresh message.
func (f *Flusher) sendOverflowLocked(destination string, b *buffer, chunk string) error {
	editID := b.editID

	f.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	var err error
	if editID != "" {
		err = f.transport.UpdateMessage(ctx, destination, editID, chunk)
		if errors.Is(err, ErrMessageNotFound) {
			err = nil
		}
	} else {
		_, err = f.transport.PostMessage(ctx, destination, chunk)
	}
	cancel()
	f.mu.Lock()

	if err != nil {
		f.logger.Error("flush failed", "destination", destination, "error", err)
		f.pending[destination] = struct{}{}
		return err
	}

	b.text = b.text[len(chunk):]
	b.editID = ""
	b.lastSent = ""
	f.pending[destination] = struct{}{}
	return nil
}

// sendWholeLocked transmits the buffer's full text, posting a new message or
// editing the existing one. A stale edit target is swallowed: that one update
// is lost rather than duplicated as a fresh post, and the dead message ID is
// discarded so later content starts a new message.
func (f *Flusher) sendWholeLocked(destination string, b *buffer, text string) error {
	editID := b.editID

	f.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	var newID string
	var staleEdit bool
	var err error
	if editID == "" {
		newID, err = f.transport.PostMessage(ctx, destination, text)
	} else {
		err = f.transport.UpdateMessage(ctx, destination, editID, text)
		if errors.Is(err, ErrMessageNotFound) {
			f.logger.Debug("edit target gone, dropping update",
				"destination", destination,
				"message_id", editID)
			err = nil
			staleEdit = true
		}
	}
	cancel()
	f.mu.Lock()

	if err != nil {
		f.logger.Error("flush failed", "destination", destination, "error", err)
		f.pending[destination] = struct{}{}
		return err
	}

	if staleEdit {
		b.editID = ""
	}
	if newID != "" {
		b.editID = newID
	}
	b.lastSent = text
	if b.text != text {
		// Grew during the send.
		f.pending[destination] = struct{}{}
	}
	return nil
}
