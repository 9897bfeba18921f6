package obligations

import (
	"context"
	"strings"
	"time"

	"github.com/aegis-proxy/aegis/pkg/audit"
	"github.com/aegis-proxy/aegis/pkg/policy"
)

// AuditLogger implements the audit-log obligation (spec.md §4.6):
// directive "audit:<level>" (level is free-form, e.g. "full", "summary";
// this executor does not branch on it today but preserves it in the
// recorded entry's metadata for a future filtering obligation).
type AuditLogger struct {
	recorder *audit.Recorder
	start    func() time.Time
}

// NewAuditLogger builds an AuditLogger backed by an existing Recorder
// (C10); the obligation pipeline and the router share the same Recorder
// instance so a directive-triggered audit write and an unconditional
// per-call audit write land in the same log.
func NewAuditLogger(recorder *audit.Recorder) *AuditLogger {
	return &AuditLogger{recorder: recorder, start: time.Now}
}

// Match recognizes "audit:..." directives.
func (AuditLogger) Match(directive string) bool {
	return strings.HasPrefix(directive, "audit:")
}

// Execute appends a structured audit.Entry for dc/decision.
func (a *AuditLogger) Execute(_ context.Context, directive string, dc policy.DecisionContext, decision policy.Decision) error {
	level := strings.TrimPrefix(directive, "audit:")
	a.recorder.Record(audit.Entry{
		Timestamp:      a.start(),
		Context:        dc,
		Decision:       decision,
		PolicyUsed:     decision.Metadata.PolicyUID,
		ProcessingTime: decision.Metadata.EvaluationTime,
		Outcome:        audit.OutcomeSuccess,
		Metadata:       map[string]any{"auditLevel": level},
	})
	return nil
}
