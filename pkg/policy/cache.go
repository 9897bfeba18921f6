package policy

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DecisionCache provides content-addressed, TTL-bound lookups for policy
// decisions, descended from the AVC (Access Vector Cache) pattern: cheap
// map reads replace re-running the evaluator/LLM pipeline for a request
// shape already seen.
//
// Two behaviors the ancestor cache lacked are added here per spec.md §5:
// a capacity bound with oldest-20% eviction, and single-flight protection
// so concurrent misses for the same key evaluate once, not N times.
type DecisionCache struct {
	mu       sync.RWMutex
	entries  map[string]cacheEntry
	ttl      time.Duration
	maxSize  int
	hits     uint64
	misses   uint64
	group    singleflight.Group
}

type cacheEntry struct {
	decision  Decision
	expiresAt time.Time
	storedAt  time.Time
}

// NewDecisionCache creates a cache with the given TTL and capacity. A
// maxSize of 0 disables the capacity bound (TTL-only eviction).
func NewDecisionCache(ttl time.Duration, maxSize int) *DecisionCache {
	return &DecisionCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// CacheKey builds the content-addressed key spec.md §3 fixes for the
// Decision Cache: agentId, action, resource, agentType, plus the active
// policy-set version so a reload invalidates every prior entry implicitly.
func CacheKey(dc DecisionContext, policyVersion string) string {
	var b strings.Builder
	b.WriteString(dc.AgentID)
	b.WriteByte('|')
	b.WriteString(dc.Action)
	b.WriteByte('|')
	b.WriteString(dc.Resource)
	b.WriteByte('|')
	b.WriteString(string(dc.AgentType))
	b.WriteByte('|')
	b.WriteString(policyVersion)
	return b.String()
}

// Get retrieves a cached decision. Returns (decision, true) on hit,
// (zero-value, false) on miss or expiry.
func (c *DecisionCache) Get(key string) (Decision, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.recordMiss()
		return Decision{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.recordMiss()
		return Decision{}, false
	}
	c.recordHit()
	entry.decision.Metadata.Cached = true
	return entry.decision, true
}

// Set stores a decision, evicting the oldest 20% of entries first if the
// cache is at capacity (spec.md §5 "bounded growth").
func (c *DecisionCache) Set(key string, decision Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = cacheEntry{
		decision:  decision,
		expiresAt: time.Now().Add(c.ttl),
		storedAt:  time.Now(),
	}
}

// evictOldestLocked removes the oldest 20% of entries (at least one).
// Caller must hold c.mu.
func (c *DecisionCache) evictOldestLocked() {
	n := len(c.entries) / 5
	if n < 1 {
		n = 1
	}
	type keyed struct {
		key      string
		storedAt time.Time
	}
	ordered := make([]keyed, 0, len(c.entries))
	for k, e := range c.entries {
		ordered = append(ordered, keyed{k, e.storedAt})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].storedAt.Before(ordered[j].storedAt)
	})
	for i := 0; i < n && i < len(ordered); i++ {
		delete(c.entries, ordered[i].key)
	}
}

// GetOrEvaluate is the single-flight-protected read path: on a miss, only
// one caller per key runs fn; concurrent callers for the same key block on
// and share its result (spec.md §5 "Shared-resource policy").
func (c *DecisionCache) GetOrEvaluate(ctx context.Context, key string, fn func(context.Context) (Decision, error)) (Decision, error) {
	if d, ok := c.Get(key); ok {
		return d, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if d, ok := c.Get(key); ok {
			return d, nil
		}
		d, err := fn(ctx)
		if err != nil {
			return Decision{}, err
		}
		c.Set(key, d)
		return d, nil
	})
	if err != nil {
		return Decision{}, err
	}
	return v.(Decision), nil
}

// InvalidatePrefix removes all entries whose key starts with prefix, used
// when a single policy is updated rather than the whole set.
func (c *DecisionCache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			count++
		}
	}
	return count
}

// InvalidateAll clears the entire cache, used on a full policy-set reload.
func (c *DecisionCache) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	return count
}

// Stats returns cache hit/miss counters and the derived hit rate percentage.
func (c *DecisionCache) Stats() (hits, misses uint64, hitRate float64) {
	c.mu.RLock()
	hits, misses = c.hits, c.misses
	c.mu.RUnlock()
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return
}

func (c *DecisionCache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *DecisionCache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// Size returns the current number of cached entries.
func (c *DecisionCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// DebugString renders a small diagnostic summary, handy in CLI tooling.
func (c *DecisionCache) DebugString() string {
	hits, misses, rate := c.Stats()
	return fmt.Sprintf("entries=%d hits=%d misses=%d hitRate=%s%%",
		c.Size(), hits, misses, strconv.FormatFloat(rate, 'f', 1, 64))
}
