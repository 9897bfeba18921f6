package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aegis-proxy/aegis/pkg/audit"
	"github.com/aegis-proxy/aegis/pkg/pdp"
	"github.com/aegis-proxy/aegis/pkg/policy"
	"github.com/aegis-proxy/aegis/pkg/policystore"
)

// hybridDecider is the process's single mcprouter.Decider implementation:
// it compiles the live policystore.Snapshot into the Evaluator/
// NaturalLanguagePolicy shape pkg/pdp consumes, calls the Hybrid PDP, then
// performs the boundary-level normalization spec.md §4.4/§7 describe as
// the enforcement boundary's job rather than the PDP's: "the PDP never
// escalates to human review; indeterminates become DENY at the
// enforcement boundary." pkg/pdp itself deliberately returns the raw
// NOT_APPLICABLE/INDETERMINATE verdict (it "never throws; it returns a
// decision") so this is the one place that conservative collapse happens,
// and the one place every permitted upstream call is guaranteed to have
// a matching audit entry (spec.md §8 "no unauthorized upstream traffic").
type hybridDecider struct {
	store    *policystore.Store
	engine   *pdp.PDP
	recorder *audit.Recorder
	log      *zap.Logger
	tel      *telemetry

	mu    sync.RWMutex
	evalr *policy.Evaluator
	nl    []policy.NaturalLanguagePolicy
}

// newHybridDecider builds a decider bound to store's current snapshot and
// registers itself for every subsequent hot reload. tel may be nil, in
// which case decisions are made and recorded without tracing/metrics.
func newHybridDecider(store *policystore.Store, engine *pdp.PDP, recorder *audit.Recorder, log *zap.Logger, tel *telemetry) *hybridDecider {
	d := &hybridDecider{store: store, engine: engine, recorder: recorder, log: log, tel: tel}
	d.rebuild(store.Snapshot())
	store.OnReload(d.rebuild)
	return d
}

// rebuild recompiles the Evaluator from a freshly published Snapshot.
// Called once at construction and again on every policy hot-reload;
// readers never block on it since it only ever swaps the two pointers
// under a short-held write lock (spec.md §5 "copy-on-write").
func (d *hybridDecider) rebuild(snap *policystore.Snapshot) {
	evalr, nl := compileSnapshot(snap)
	d.mu.Lock()
	d.evalr = evalr
	d.nl = nl
	d.mu.Unlock()
	if d.log != nil {
		d.log.Info("policy snapshot compiled",
			zap.String("version", evalr.Version()),
			zap.Int("naturalLanguagePolicies", len(nl)),
		)
	}
}

// Decide satisfies both mcprouter.Decider and any other boundary that
// needs a policy.Decision for a policy.DecisionContext.
func (d *hybridDecider) Decide(ctx context.Context, dc policy.DecisionContext) (policy.Decision, error) {
	d.mu.RLock()
	evalr, nl := d.evalr, d.nl
	d.mu.RUnlock()

	var span trace.Span
	if d.tel != nil {
		ctx, span = d.tel.startDecisionSpan(ctx, dc.AgentID, dc.Action)
		defer span.End()
	}

	start := time.Now()
	decision, err := d.engine.Decide(ctx, evalr, nl, dc)
	if err != nil {
		if span != nil {
			span.RecordError(err)
		}
		return policy.Decision{}, err
	}

	normalized := normalizeAtBoundary(decision)

	var traceID string
	if span != nil {
		traceID = recordDecision(span, d.tel.decisionCounter, ctx, verdictLabel(normalized.Verdict))
	}

	outcome := audit.OutcomeSuccess
	if normalized.Verdict == policy.Deny {
		outcome = audit.OutcomeFailure
	}
	if d.recorder != nil {
		var meta map[string]any
		if traceID != "" {
			meta = map[string]any{"traceId": traceID}
		}
		d.recorder.Record(audit.Entry{
			ID:             uuid.NewString(),
			Timestamp:      time.Now(),
			Context:        dc,
			Decision:       normalized,
			PolicyUsed:     normalized.Metadata.PolicyUID,
			ProcessingTime: time.Since(start),
			Outcome:        outcome,
			Metadata:       meta,
		})
	}
	return normalized, nil
}

func verdictLabel(v policy.Verdict) string {
	switch v {
	case policy.Permit:
		return "PERMIT"
	case policy.Deny:
		return "DENY"
	case policy.Indeterminate:
		return "INDETERMINATE"
	default:
		return "NOT_APPLICABLE"
	}
}

// normalizeAtBoundary collapses NOT_APPLICABLE and INDETERMINATE into a
// conservative DENY, preserving the original reason for the audit trail.
// PERMIT and DENY pass through unchanged.
func normalizeAtBoundary(decision policy.Decision) policy.Decision {
	switch decision.Verdict {
	case policy.Permit, policy.Deny:
		return decision
	case policy.Indeterminate:
		decision.Verdict = policy.Deny
		decision.Reason = "indeterminate at enforcement boundary: " + decision.Reason
		return decision
	default: // NotApplicable
		decision.Verdict = policy.Deny
		decision.Reason = "no applicable policy: " + decision.Reason
		return decision
	}
}

// compileSnapshot classifies every active record with pdp.DetectFormat
// and splits it into the declarative PolicySet the Rule Evaluator
// consumes and the natural-language corpus the LLM adapter consumes. A
// record whose JSON decodes cleanly as a DeclarativePolicy but also
// carries a NaturalLanguageSource contributes to both engines, matching
// spec.md §3's "rules carry an optional naturalLanguageSource ... an LLM
// adapter may use it directly instead of the structured form."
func compileSnapshot(snap *policystore.Snapshot) (*policy.Evaluator, []policy.NaturalLanguagePolicy) {
	var declarative []policy.DeclarativePolicy
	var nl []policy.NaturalLanguagePolicy

	for _, rec := range snap.ListActive() {
		raw := string(rec.Policy)
		format, _ := pdp.DetectFormat(raw)

		switch format {
		case pdp.FormatDeclarative:
			var dp policy.DeclarativePolicy
			if err := json.Unmarshal(rec.Policy, &dp); err != nil {
				continue // malformed record: skip rather than fail the whole snapshot
			}
			if dp.UID == "" {
				dp.UID = rec.ID
			}
			if dp.Priority == 0 {
				dp.Priority = rec.Metadata.Priority
			}
			declarative = append(declarative, dp)
			if dp.NaturalLanguageSource != "" {
				nl = append(nl, policy.NaturalLanguagePolicy{UID: dp.UID, Text: dp.NaturalLanguageSource})
			}
		case pdp.FormatNaturalLanguage:
			var text string
			if err := json.Unmarshal(rec.Policy, &text); err != nil {
				text = raw
			}
			nl = append(nl, policy.NaturalLanguagePolicy{UID: rec.ID, Text: text})
		default:
			// UNKNOWN per spec.md §3: the caller must reject or force a
			// path; a stored record that classifies as UNKNOWN is simply
			// excluded from both engines rather than guessed at.
		}
	}

	return policy.NewEvaluator(policy.PolicySet{Version: snap.Version, Declarative: declarative, NaturalLang: nl}), nl
}
