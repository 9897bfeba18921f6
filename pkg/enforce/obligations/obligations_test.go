package obligations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aegis-proxy/aegis/pkg/audit"
	"github.com/aegis-proxy/aegis/pkg/policy"
)

func TestPipeline_AuditDispatch(t *testing.T) {
	recorder := audit.NewRecorder(10)
	p := NewPipeline(4, nil, NewAuditLogger(recorder))

	decision := policy.Decision{Verdict: policy.Permit, Obligations: []string{"audit:full"}}
	results := p.Dispatch(context.Background(), policy.DecisionContext{AgentID: "a"}, decision)

	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected 1 successful result, got %#v", results)
	}
	total, _, _, _, _ := recorder.Counts()
	if total != 1 {
		t.Fatalf("expected 1 audit entry recorded, got %d", total)
	}
}

func TestPipeline_NotifyDispatch(t *testing.T) {
	channel := &RecordingChannel{}
	notifier := NewNotifier(map[string]Channel{"webhook": channel})
	p := NewPipeline(0, nil, notifier)

	decision := policy.Decision{Verdict: policy.Deny, Reason: "nope", Obligations: []string{"notify:webhook:https://example.com/hook"}}
	results := p.Dispatch(context.Background(), policy.DecisionContext{AgentID: "a", Action: "fs__read"}, decision)

	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("expected successful notify dispatch, got %#v", results)
	}
	if len(channel.Sent) != 1 {
		t.Fatalf("expected 1 notification sent, got %d", len(channel.Sent))
	}
}

func TestPipeline_ScheduleDeletionIdempotent(t *testing.T) {
	scheduler := NewInMemoryScheduler()
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sd := &ScheduleDeletion{scheduler: scheduler, now: func() time.Time { return frozen }}
	p := NewPipeline(0, nil, sd)

	decision := policy.Decision{Obligations: []string{"scheduleDeletion:30d"}}
	dc := policy.DecisionContext{Resource: "file:report.csv"}

	p.Dispatch(context.Background(), dc, decision)
	p.Dispatch(context.Background(), dc, decision)

	if got := scheduler.Count(); got != 1 {
		t.Fatalf("expected idempotent enqueue to collapse to 1 pending entry, got %d", got)
	}
}

func TestPipeline_UnknownObligationSkippedNonFatal(t *testing.T) {
	p := NewPipeline(0, nil, NewAuditLogger(audit.NewRecorder(1)))
	decision := policy.Decision{Obligations: []string{"totallyUnknownObligation:x"}}
	results := p.Dispatch(context.Background(), policy.DecisionContext{}, decision)
	if len(results) != 1 || results[0].Err == nil {
		t.Fatalf("expected unknown obligation to report a non-fatal error in its own Result, got %#v", results)
	}
}

func TestPipeline_RetryExhaustsThenEscalates(t *testing.T) {
	attempts := 0
	failing := &failingExecutor{fn: func() error { attempts++; return errors.New("boom") }}
	escalated := false
	escalator := EscalatorFunc(func(_ context.Context, _ string, _ error) { escalated = true })

	p := NewPipeline(0, escalator, failing)
	decision := policy.Decision{Obligations: []string{"fail:x!retry:3"}}
	p.Dispatch(context.Background(), policy.DecisionContext{}, decision)

	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}

	attempts = 0
	decision = policy.Decision{Obligations: []string{"fail:x!escalate"}}
	p.Dispatch(context.Background(), policy.DecisionContext{}, decision)
	if !escalated {
		t.Fatalf("expected escalate policy to invoke the escalator after exhausting attempts")
	}
}

type failingExecutor struct {
	fn func() error
}

func (failingExecutor) Match(directive string) bool { return directive == "fail:x" }
func (f *failingExecutor) Execute(context.Context, string, policy.DecisionContext, policy.Decision) error {
	return f.fn()
}
