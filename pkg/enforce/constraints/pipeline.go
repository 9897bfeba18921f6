// Package constraints implements the Constraint Pipeline (C5): a chain of
// directive-matched processors that transform or reject a tool payload
// after the PDP has already permitted the call.
package constraints

import (
	"context"
	"fmt"
	"strings"

	"github.com/aegis-proxy/aegis/pkg/aegiserr"
)

// Payload is the mutable tool request/response body a processor may
// rewrite; processors recurse into nested maps/slices as needed.
type Payload = map[string]any

// Processor is a single constraint directive handler, per spec.md §4.5:
// Match decides whether this processor owns a directive string, Apply
// transforms the payload or returns an error to abort enforcement.
type Processor interface {
	Match(directive string) bool
	Apply(ctx context.Context, directive string, payload Payload, dc DecisionContext) (Payload, error)
}

// DecisionContext is the subset of policy.DecisionContext the constraint
// processors need, redeclared here to avoid a dependency from this leaf
// package onto pkg/policy.
type DecisionContext struct {
	AgentID  string
	Action   string
	Resource string
	ClientIP string
}

// Pipeline runs directives in declaration order against registered
// processors (spec.md §4.5).
type Pipeline struct {
	processors []Processor
}

// NewPipeline builds a Pipeline from an ordered processor list; the first
// processor whose Match returns true for a directive owns it.
func NewPipeline(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Run applies every directive in order, returning the transformed
// payload. An unrecognized directive is skipped (logged by the caller)
// unless it is required (prefixed "!"), in which case it aborts with a
// ConstraintViolationError.
func (p *Pipeline) Run(ctx context.Context, directives []string, payload Payload, dc DecisionContext) (Payload, []string, error) {
	var skipped []string
	for _, directive := range directives {
		required := strings.HasPrefix(directive, "!")
		lookup := strings.TrimPrefix(directive, "!")

		proc := p.find(lookup)
		if proc == nil {
			if required {
				return payload, skipped, &aegiserr.ConstraintViolationError{
					Stage:     "constraint-pipeline",
					Violation: fmt.Sprintf("no processor registered for required directive %q", lookup),
				}
			}
			skipped = append(skipped, lookup)
			continue
		}

		next, err := proc.Apply(ctx, lookup, payload, dc)
		if err != nil {
			return payload, skipped, err
		}
		payload = next
	}
	return payload, skipped, nil
}

func (p *Pipeline) find(directive string) Processor {
	for _, proc := range p.processors {
		if proc.Match(directive) {
			return proc
		}
	}
	return nil
}
