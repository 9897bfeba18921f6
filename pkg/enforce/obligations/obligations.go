// Package obligations implements the Obligation Pipeline (C6): a registry
// of executors dispatched in parallel for the side effects a Decision owes
// (audit logging, notification, scheduled deletion, reporting), each
// governed by its own failure policy.
package obligations

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aegis-proxy/aegis/pkg/aegiserr"
	"github.com/aegis-proxy/aegis/pkg/policy"
)

// FailurePolicy is the per-obligation failure handling mode (spec.md §4.6).
type FailurePolicy string

const (
	PolicyIgnore   FailurePolicy = "ignore"
	PolicyRetry    FailurePolicy = "retry"
	PolicyEscalate FailurePolicy = "escalate"
)

// Result is what an Executor reports back to the pipeline for logging and
// tests; it is never propagated to the RPC caller (spec.md §7 "Obligation
// Failure ... never propagated to the caller").
type Result struct {
	Directive string
	Err       error
	Attempts  int
}

// Executor is a single obligation directive handler (spec.md §4.6).
type Executor interface {
	Match(directive string) bool
	Execute(ctx context.Context, directive string, dc policy.DecisionContext, decision policy.Decision) error
}

// Escalator is invoked when an obligation's failure policy is "escalate"
// and all attempts have been exhausted; it models spec.md §4.6's
// "configured escalation chain".
type Escalator interface {
	Escalate(ctx context.Context, directive string, err error)
}

// EscalatorFunc adapts a function to Escalator.
type EscalatorFunc func(ctx context.Context, directive string, err error)

func (f EscalatorFunc) Escalate(ctx context.Context, directive string, err error) { f(ctx, directive, err) }

// directivePolicy parses the "<name>:<args>!<policy>" suffix grammar this
// pipeline uses to attach a failure policy to a directive, e.g.
// "audit:full" (defaults to ignore), "notify:email:ops@x!retry:3",
// "scheduleDeletion:30d!escalate". Directives with no "!" suffix default
// to PolicyIgnore with 1 attempt.
func directivePolicy(directive string) (base string, fp FailurePolicy, attempts int) {
	base = directive
	fp = PolicyIgnore
	attempts = 1
	idx := strings.LastIndex(directive, "!")
	if idx < 0 {
		return
	}
	base = directive[:idx]
	suffix := directive[idx+1:]
	switch {
	case suffix == "escalate":
		return base, PolicyEscalate, 1
	case strings.HasPrefix(suffix, "retry:"):
		n := 1
		fmt.Sscanf(strings.TrimPrefix(suffix, "retry:"), "%d", &n)
		if n < 1 {
			n = 1
		}
		return base, PolicyRetry, n
	default:
		return base, PolicyIgnore, 1
	}
}

// Pipeline dispatches a Decision's obligation directives to registered
// executors in parallel, bounded by a concurrency cap (spec.md §4.6).
type Pipeline struct {
	executors []Executor
	escalator Escalator
	cap       int
}

// NewPipeline builds a Pipeline. concurrencyCap <= 0 means unbounded.
func NewPipeline(concurrencyCap int, escalator Escalator, executors ...Executor) *Pipeline {
	return &Pipeline{executors: executors, escalator: escalator, cap: concurrencyCap}
}

func (p *Pipeline) find(directive string) Executor {
	for _, e := range p.executors {
		if e.Match(directive) {
			return e
		}
	}
	return nil
}

// Dispatch runs every directive's executor concurrently and returns once
// all have finished (or been abandoned per their failure policy); it
// never blocks the caller past that point and never returns an error a
// caller must act on — every failure is already contained per executor.
func (p *Pipeline) Dispatch(ctx context.Context, dc policy.DecisionContext, decision policy.Decision) []Result {
	directives := decision.Obligations
	results := make([]Result, len(directives))

	var sem chan struct{}
	if p.cap > 0 {
		sem = make(chan struct{}, p.cap)
	}

	var wg sync.WaitGroup
	for i, directive := range directives {
		wg.Add(1)
		go func(i int, directive string) {
			defer wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			results[i] = p.run(ctx, directive, dc, decision)
		}(i, directive)
	}
	wg.Wait()
	return results
}

func (p *Pipeline) run(ctx context.Context, directive string, dc policy.DecisionContext, decision policy.Decision) Result {
	base, fp, maxAttempts := directivePolicy(directive)
	executor := p.find(base)
	if executor == nil {
		return Result{Directive: directive, Err: fmt.Errorf("no executor registered for obligation %q", base)}
	}

	var lastErr error
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		lastErr = executor.Execute(ctx, base, dc, decision)
		if lastErr == nil {
			return Result{Directive: directive, Attempts: attempts}
		}
		if fp != PolicyRetry {
			break
		}
		backoff := time.Duration(attempts) * 100 * time.Millisecond
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempts = maxAttempts
		}
	}

	if lastErr == nil {
		return Result{Directive: directive, Attempts: attempts}
	}

	failure := &aegiserr.ObligationFailureError{Obligation: base, Attempts: attempts, Cause: lastErr}
	if fp == PolicyEscalate && p.escalator != nil {
		p.escalator.Escalate(ctx, base, failure)
	}
	return Result{Directive: directive, Err: failure, Attempts: attempts}
}
