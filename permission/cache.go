package permission

import (
	"sync"
	"time"
)

// DefaultDecisionWindow is the width of a decision-cache time bucket.
const DefaultDecisionWindow = 5 * time.Minute

// CacheStats reports decision cache effectiveness.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

type decisionKey struct {
	user        string
	fingerprint string
	org         string
	bucket      int64
}

// decisionCache holds static (role/group/designation) decisions.
// Entries are only ever dropped when their bucket is older than the current one.
type decisionCache struct {
	mu         sync.Mutex
	window     time.Duration
	entries    map[decisionKey]Decision
	lastBucket int64
	hits       uint64
	misses     uint64
}

func newDecisionCache(window time.Duration) *decisionCache {
	if window <= 0 {
		window = DefaultDecisionWindow
	}
	return &decisionCache{window: window, entries: make(map[decisionKey]Decision)}
}

func (c *decisionCache) bucket(now time.Time) int64 {
	return now.UnixNano() / c.window.Nanoseconds()
}

func (c *decisionCache) get(user, fingerprint, org string, now time.Time) (Decision, bool) {
	key := decisionKey{user: user, fingerprint: fingerprint, org: org, bucket: c.bucket(now)}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.entries[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return d, ok
}

func (c *decisionCache) put(user, fingerprint, org string, now time.Time, d Decision) {
	b := c.bucket(now)
	c.mu.Lock()
	defer c.mu.Unlock()
	if b > c.lastBucket {
		for k := range c.entries {
			if k.bucket < b {
				delete(c.entries, k)
			}
		}
		c.lastBucket = b
	}
	c.entries[decisionKey{user: user, fingerprint: fingerprint, org: org, bucket: b}] = d
}

func (c *decisionCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits, Misses: c.misses}
}
