// ABOUTME: TTL cache of already-processed inbound message keys.
// ABOUTME: Drops Slack Events API redeliveries before they reach the dispatcher.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry pairs a key's arrival time with its position in the eviction order.
type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache remembers inbound message keys for a TTL so redelivered events are
// processed once. It is size-bounded: when full, the oldest key is evicted.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest key at the front
	ttl     time.Duration
	max     int
	done    chan struct{}
	closed  bool
}

// New creates a cache holding at most max keys for ttl each. A background
// goroutine sweeps expired keys until Close is called.
func New(ttl time.Duration, max int) *Cache {
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		max:     max,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen atomically reports whether key was already recorded within the TTL,
// recording it if not. True means duplicate.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if e, ok := c.entries[key]; ok {
		fresh := now.Sub(e.at) < c.ttl
		// Refresh either way: a duplicate restarts the key's clock, and
		// an expired entry is reused for the new sighting.
		e.at = now
		c.order.MoveToBack(e.elem)
		return fresh
	}

	if len(c.entries) >= c.max {
		if front := c.order.Front(); front != nil {
			delete(c.entries, front.Value.(string))
			c.order.Remove(front)
		}
	}
	c.entries[key] = &entry{at: now, elem: c.order.PushBack(key)}
	return false
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the sweep goroutine. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes expired entries from the front of the order list; entries
// are refreshed on every access, so the list stays ordered by last touch.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		if now.Sub(c.entries[key].at) < c.ttl {
			break
		}
		delete(c.entries, key)
		c.order.Remove(front)
	}
}
