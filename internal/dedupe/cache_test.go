// ABOUTME: Tests for the seen-message TTL cache.
// ABOUTME: Covers duplicate detection, expiry, eviction, and concurrent access.

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SeenMarksAndDetects(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen("slack:C1:1111.0001"), "first sighting is not a duplicate")
	assert.True(t, c.Seen("slack:C1:1111.0001"), "second sighting is a duplicate")
	assert.False(t, c.Seen("slack:C1:1111.0002"), "different key is independent")
}

func TestCache_Expiry(t *testing.T) {
	c := New(20*time.Millisecond, 100)
	defer c.Close()

	require.False(t, c.Seen("key"))
	time.Sleep(30 * time.Millisecond)
	assert.False(t, c.Seen("key"), "expired key counts as unseen")
}

func TestCache_DuplicateRefreshesTTL(t *testing.T) {
	c := New(50*time.Millisecond, 100)
	defer c.Close()

	require.False(t, c.Seen("key"))
	time.Sleep(30 * time.Millisecond)
	require.True(t, c.Seen("key")) // refresh
	time.Sleep(30 * time.Millisecond)
	// 60ms since first sighting but only 30ms since refresh.
	assert.True(t, c.Seen("key"))
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	require.False(t, c.Seen("a"))
	require.False(t, c.Seen("b"))
	require.False(t, c.Seen("c"))
	require.False(t, c.Seen("d")) // evicts "a"

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a"), "evicted key is unseen again")
	assert.True(t, c.Seen("c"))
	assert.True(t, c.Seen("d"))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(time.Minute, 10_000)
	defer c.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Seen(fmt.Sprintf("g%d-k%d", g, i))
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 8*200, c.Len())
}

func TestCache_CloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
