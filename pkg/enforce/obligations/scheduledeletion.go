package obligations

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aegis-proxy/aegis/pkg/policy"
)

// DeletionScheduler receives scheduled deletions; a real deployment wires
// this to whatever job scheduler owns actual resource cleanup (external
// collaborator, same register as the LLM/log sinks in spec.md §1). The
// in-memory default below satisfies the idempotence invariant spec.md
// §4.6 requires without committing to a concrete scheduler.
type DeletionScheduler interface {
	Enqueue(ctx context.Context, resource string, at time.Time) error
}

// ScheduleDeletion implements the schedule-deletion obligation (spec.md
// §4.6): directive grammar "scheduleDeletion:<duration>", e.g.
// "scheduleDeletion:30d" schedules dc.Resource for deletion 30 days from
// now. Enqueue is idempotent per (resource, scheduledAt) — a repeat call
// for the same pair is a no-op, matching spec.md's "idempotent per
// (resource, scheduledAt)" requirement.
type ScheduleDeletion struct {
	scheduler DeletionScheduler
	now       func() time.Time
}

// NewScheduleDeletion builds a ScheduleDeletion obligation.
func NewScheduleDeletion(scheduler DeletionScheduler) *ScheduleDeletion {
	return &ScheduleDeletion{scheduler: scheduler, now: time.Now}
}

// Match recognizes "scheduleDeletion:..." directives.
func (ScheduleDeletion) Match(directive string) bool {
	return strings.HasPrefix(directive, "scheduleDeletion:")
}

// Execute parses the duration and enqueues dc.Resource for deletion.
func (s *ScheduleDeletion) Execute(ctx context.Context, directive string, dc policy.DecisionContext, _ policy.Decision) error {
	raw := strings.TrimPrefix(directive, "scheduleDeletion:")
	d, err := parseRetention(raw)
	if err != nil {
		return fmt.Errorf("schedule deletion: %w", err)
	}
	return s.scheduler.Enqueue(ctx, dc.Resource, s.now().Add(d))
}

// parseRetention accepts Go's native duration grammar plus the bare "Nd"
// day-suffix form (time.ParseDuration has no day unit).
func parseRetention(raw string) (time.Duration, error) {
	if strings.HasSuffix(raw, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid day-count duration %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(raw)
}

// InMemoryScheduler is a DeletionScheduler test double / local-development
// default: it records each (resource, scheduledAt) pair once.
type InMemoryScheduler struct {
	mu      sync.Mutex
	pending map[string]time.Time
}

// NewInMemoryScheduler builds an InMemoryScheduler.
func NewInMemoryScheduler() *InMemoryScheduler {
	return &InMemoryScheduler{pending: make(map[string]time.Time)}
}

// Enqueue records resource's scheduled deletion time, idempotently.
func (s *InMemoryScheduler) Enqueue(_ context.Context, resource string, at time.Time) error {
	key := resource + "|" + at.UTC().Format(time.RFC3339)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[key]; exists {
		return nil
	}
	s.pending[key] = at
	return nil
}

// Pending returns a snapshot of all enqueued (resource -> scheduledAt)
// pairs, for tests.
func (s *InMemoryScheduler) Pending() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.pending))
	for k, v := range s.pending {
		out[k] = v
	}
	return out
}

// Count returns the number of distinct (resource, scheduledAt) pairs
// enqueued so far, for the idempotence test.
func (s *InMemoryScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
