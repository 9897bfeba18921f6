package constraints

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aegis-proxy/aegis/pkg/aegiserr"
)

// RateDirective is a parsed "N per window" rate limit.
type RateDirective struct {
	Limit  int
	Window time.Duration
}

var (
	// "100/min", "100/m", "50/s", "1000/h", "5/d"
	shortForm = regexp.MustCompile(`^(\d+)\s*/\s*(s|sec|secs|second|seconds|m|min|mins|minute|minutes|h|hr|hrs|hour|hours|d|day|days)$`)
	// "100 requests per minute"
	longForm = regexp.MustCompile(`^(\d+)\s*(?:requests?|reqs?|calls?)?\s*per\s*(second|minute|hour|day)s?$`)
	// "100回/分" — localized Japanese form: N-counter/unit.
	localizedForm = regexp.MustCompile(`^(\d+)回\s*/\s*(秒|分|時|日)$`)
)

var unitDurations = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"秒": time.Second, "分": time.Minute, "時": time.Hour, "日": 24 * time.Hour,
}

// ParseRateDirective accepts "N/{s,m,h,d}", "N requests per <unit>", and
// the localized Japanese "N回/<unit>" form, all yielding an equivalent
// RateDirective (spec.md §8 boundary behavior).
func ParseRateDirective(s string) (RateDirective, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))

	if m := shortForm.FindStringSubmatch(trimmed); m != nil {
		return buildDirective(m[1], unitDurations[m[2]])
	}
	if m := longForm.FindStringSubmatch(trimmed); m != nil {
		return buildDirective(m[1], unitDurations[m[2]])
	}
	// Localized form keeps original casing / script, so match on the
	// untrimmed-to-lower-only input (digits and CJK are unaffected by
	// ToLower, so this is still safe to run against trimmed).
	if m := localizedForm.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
		return buildDirective(m[1], unitDurations[m[2]])
	}
	return RateDirective{}, fmt.Errorf("unrecognized rate directive %q", s)
}

func buildDirective(numStr string, unit time.Duration) (RateDirective, error) {
	n, err := strconv.Atoi(numStr)
	if err != nil {
		return RateDirective{}, err
	}
	return RateDirective{Limit: n, Window: unit}, nil
}

// RateLimiter implements spec.md §4.5's sliding-window algorithm: per key,
// maintain a timestamp list; on each call evict timestamps older than the
// window, then admit if the remaining count is below the limit.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewRateLimiter builds a RateLimiter. now defaults to time.Now; tests may
// override it for deterministic window-aging assertions.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[string][]time.Time), now: time.Now}
}

// Match recognizes "rateLimit:<directive>" directives.
func (r *RateLimiter) Match(directive string) bool {
	return strings.HasPrefix(directive, "rateLimit:")
}

// Apply admits or rejects the call for dc's key. Key = (agent, action,
// resource, clientIP) per spec.md §4.5.
func (r *RateLimiter) Apply(_ context.Context, directive string, payload Payload, dc DecisionContext) (Payload, error) {
	rd, err := ParseRateDirective(strings.TrimPrefix(directive, "rateLimit:"))
	if err != nil {
		return payload, err
	}

	key := fmt.Sprintf("%s|%s|%s|%s", dc.AgentID, dc.Action, dc.Resource, dc.ClientIP)
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	timestamps := r.windows[key]
	cutoff := now.Add(-rd.Window)
	kept := timestamps[:0:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rd.Limit {
		resetAt := kept[0].Add(rd.Window)
		r.windows[key] = kept
		return payload, &aegiserr.ConstraintViolationError{
			Stage:      "rate-limiter",
			Violation:  fmt.Sprintf("rate limit exceeded: %d/%s", rd.Limit, rd.Window),
			RetryAfter: resetAt.Sub(now),
		}
	}

	kept = append(kept, now)
	r.windows[key] = kept

	if payload == nil {
		payload = Payload{}
	}
	payload["X-RateLimit-Limit"] = rd.Limit
	payload["X-RateLimit-Remaining"] = rd.Limit - len(kept)
	payload["X-RateLimit-Reset"] = now.Add(rd.Window).Unix()
	return payload, nil
}
