// Package dedupe provides a TTL-based seen-message cache.
//
// Slack's Events API redelivers payloads when an ack is slow or a socket
// reconnects, so the same message can arrive more than once. The dispatcher
// keys each inbound message by destination and timestamp and asks the cache
// whether it has been seen:
//
//	if cache.Seen(key) {
//	    return // duplicate
//	}
//
// Entries expire after a TTL and the cache is size-bounded with
// oldest-first eviction, so memory stays flat under sustained traffic.
package dedupe
