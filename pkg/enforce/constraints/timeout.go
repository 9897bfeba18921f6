package constraints

import (
	"context"
	"strings"
	"time"

	"github.com/aegis-proxy/aegis/pkg/aegiserr"
)

// ExecutionTimeLimit implements the execution-time-limit processor
// (spec.md §4.5): directive grammar "timeLimit:<duration>" (a Go
// duration string, e.g. "5s"). Unlike the other processors it does not
// transform payload in place — the downstream call it bounds hasn't
// happened yet when constraints run post-response — so Apply only
// validates the directive and records the bound in the payload.
// RunWithTimeout bounds a call by such a duration, but the MCP Router
// does not call it, so the bound is not enforced on the upstream call.
type ExecutionTimeLimit struct{}

// NewExecutionTimeLimit builds an ExecutionTimeLimit.
func NewExecutionTimeLimit() *ExecutionTimeLimit { return &ExecutionTimeLimit{} }

// Match recognizes "timeLimit:<duration>" directives.
func (ExecutionTimeLimit) Match(directive string) bool {
	return strings.HasPrefix(directive, "timeLimit:")
}

// Apply validates the duration and annotates payload with the bound that
// applied, so a caller inspecting the enforced payload can see it.
func (ExecutionTimeLimit) Apply(_ context.Context, directive string, payload Payload, _ DecisionContext) (Payload, error) {
	d, err := ParseExecutionTimeLimit(directive)
	if err != nil {
		return payload, err
	}
	if payload == nil {
		payload = Payload{}
	}
	payload["_executionTimeLimit"] = d.String()
	return payload, nil
}

// ParseExecutionTimeLimit parses "timeLimit:<duration>" into a time.Duration.
func ParseExecutionTimeLimit(directive string) (time.Duration, error) {
	raw := strings.TrimPrefix(directive, "timeLimit:")
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &aegiserr.ConstraintViolationError{Stage: "execution-time-limit", Violation: "invalid duration " + raw}
	}
	return d, nil
}

// RunWithTimeout wraps a downstream call in the bound named by directive,
// cancelling ctx and returning a Timeout-shaped ConstraintViolationError
// if fn has not returned when the bound elapses (spec.md §4.5).
func RunWithTimeout(ctx context.Context, directive string, fn func(context.Context) (Payload, error)) (Payload, error) {
	d, err := ParseExecutionTimeLimit(directive)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		payload Payload
		err     error
	}
	done := make(chan result, 1)
	go func() {
		p, err := fn(ctx)
		done <- result{p, err}
	}()

	select {
	case r := <-done:
		return r.payload, r.err
	case <-ctx.Done():
		return nil, &aegiserr.ConstraintViolationError{Stage: "execution-time-limit", Violation: "downstream call exceeded " + d.String()}
	}
}
