package pdp

import (
	"context"
	"time"

	"github.com/aegis-proxy/aegis/pkg/llmjudge"
	"github.com/aegis-proxy/aegis/pkg/policy"
)

// Trace is the evaluation record Explain returns: which engine(s) ran,
// what each produced, and why the final verdict was reached. Unlike
// Decide, Explain never reads or writes the Decision Cache and never
// fires obligations. No caller in this repository uses it; pkg/policy's
// CheckDivergence runs the native Evaluator directly.
type Trace struct {
	Selection          EngineSelection
	DeclarativeRan     bool
	DeclarativeResult  policy.Decision
	LLMRan             bool
	LLMResult          llmjudge.Judgment
	Final              policy.Decision
	Steps              []string
}

// Explain runs the same decision pipeline as Decide but records every
// intermediate step instead of short-circuiting into the cache.
func (p *PDP) Explain(ctx context.Context, evalr *policy.Evaluator, nlPolicies []policy.NaturalLanguagePolicy, dc policy.DecisionContext) Trace {
	start := time.Now()
	trace := Trace{Selection: p.selectEngines(evalr, nlPolicies)}
	trace.Steps = append(trace.Steps, "selected engines: "+selectionString(trace.Selection))

	ranDeclarative := trace.Selection == SelectDeclarative || trace.Selection == SelectBoth
	if ranDeclarative {
		trace.DeclarativeRan = true
		trace.DeclarativeResult = evalr.Evaluate(dc)
		trace.Steps = append(trace.Steps, "declarative verdict: "+trace.DeclarativeResult.Verdict.String())
		if trace.DeclarativeResult.Verdict == policy.Permit || trace.DeclarativeResult.Verdict == policy.Deny {
			trace.Final = trace.DeclarativeResult
			trace.Final.Metadata = metadata("declarative", start, trace.DeclarativeResult.Metadata.MatchedRules, trace.DeclarativeResult.Metadata.PolicyUID)
			trace.Steps = append(trace.Steps, "declarative verdict is determining; stopping")
			return trace
		}
	}

	runLLM := trace.Selection == SelectNaturalLanguage || trace.Selection == SelectBoth
	if !runLLM || p.judge == nil || len(nlPolicies) == 0 {
		trace.Final = p.notApplicableOrIndeterminate(trace.DeclarativeResult, ranDeclarative, start)
		trace.Steps = append(trace.Steps, "no LLM engine available; finalizing on declarative/none")
		return trace
	}

	trace.LLMRan = true
	trace.LLMResult = p.judge.Judge(ctx, joinPolicyText(nlPolicies), dc)
	trace.Steps = append(trace.Steps, "llm verdict: "+trace.LLMResult.Verdict.String())

	if trace.LLMResult.Confidence >= p.cfg.ConfidenceThreshold {
		trace.Final = policy.Decision{
			Verdict:    trace.LLMResult.Verdict,
			Reason:     trace.LLMResult.Reason,
			Confidence: trace.LLMResult.Confidence,
			Metadata:   metadata("llm", start, 0, ""),
		}
		trace.Steps = append(trace.Steps, "llm confidence above threshold; stopping")
		return trace
	}

	trace.Final = p.combine(trace.DeclarativeResult, ranDeclarative, trace.LLMResult, start)
	trace.Steps = append(trace.Steps, "combined both engines: "+trace.Final.Verdict.String())
	return trace
}

func selectionString(s EngineSelection) string {
	switch s {
	case SelectDeclarative:
		return "declarative"
	case SelectNaturalLanguage:
		return "natural-language"
	default:
		return "both"
	}
}
