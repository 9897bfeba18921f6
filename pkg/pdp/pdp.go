// Package pdp implements the Hybrid Policy Decision Point (C4): it wires
// the declarative Rule Evaluator (pkg/policy), the Decision Cache, and
// the LLM Judgment Adapter (pkg/llmjudge) together per spec.md §4.4's
// decide() algorithm, and never itself throws — every call path resolves
// to a policy.Decision.
package pdp

import (
	"context"
	"time"

	"github.com/aegis-proxy/aegis/pkg/llmjudge"
	"github.com/aegis-proxy/aegis/pkg/policy"
)

// EngineSelection names which engine(s) a format-detection pass picked.
type EngineSelection int

const (
	SelectDeclarative EngineSelection = iota
	SelectNaturalLanguage
	SelectBoth
)

// Judge abstracts the LLM adapter so the PDP does not depend on a
// concrete provider; llmjudge.FailSafe satisfies this.
type Judge interface {
	Judge(ctx context.Context, policyText string, dc policy.DecisionContext) llmjudge.Judgment
}

// Config tunes the hybrid merge per spec.md §4.4's named constants.
type Config struct {
	// ConfidenceThreshold is the C2-alone acceptance threshold (default 0.8).
	ConfidenceThreshold float64
	// DeclarativeWeight is wC1 in the combine step (default 0.4).
	DeclarativeWeight float64
	// FormatDetectionThreshold holds a format-detector confidence cut-off
	// (default 0.7). The PDP does not read it: selectEngines decides only
	// from which policy kinds are present.
	FormatDetectionThreshold float64
	CacheEnabled             bool
}

// DefaultConfig returns spec.md §4.4's stated defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:      0.8,
		DeclarativeWeight:        0.4,
		FormatDetectionThreshold: 0.7,
		CacheEnabled:             true,
	}
}

// PDP is the Hybrid Policy Decision Point.
type PDP struct {
	cfg   Config
	cache *policy.DecisionCache
	judge Judge
}

// New builds a PDP. cache may be nil when Config.CacheEnabled is false.
func New(cfg Config, cache *policy.DecisionCache, judge Judge) *PDP {
	return &PDP{cfg: cfg, cache: cache, judge: judge}
}

// Decide runs spec.md §4.4's algorithm against the given evaluator (the
// compiled declarative policy set) and natural-language policy texts.
func (p *PDP) Decide(ctx context.Context, evalr *policy.Evaluator, nlPolicies []policy.NaturalLanguagePolicy, dc policy.DecisionContext) (policy.Decision, error) {
	var cacheKey string
	if p.cfg.CacheEnabled && p.cache != nil {
		cacheKey = policy.CacheKey(dc, evalr.Version())
		if cached, ok := p.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	decision := p.decideUncached(ctx, evalr, nlPolicies, dc)

	if p.cfg.CacheEnabled && p.cache != nil {
		p.cache.Set(cacheKey, decision)
	}
	return decision, nil
}

func (p *PDP) decideUncached(ctx context.Context, evalr *policy.Evaluator, nlPolicies []policy.NaturalLanguagePolicy, dc policy.DecisionContext) policy.Decision {
	start := time.Now()
	selection := p.selectEngines(evalr, nlPolicies)

	var declarativeDecision policy.Decision
	ranDeclarative := selection == SelectDeclarative || selection == SelectBoth
	if ranDeclarative {
		declarativeDecision = evalr.Evaluate(dc)
		if declarativeDecision.Verdict == policy.Permit || declarativeDecision.Verdict == policy.Deny {
			declarativeDecision.Metadata.Engine = "declarative"
			declarativeDecision.Metadata.EvaluationTime = time.Since(start)
			return declarativeDecision
		}
	}

	runLLM := selection == SelectNaturalLanguage || selection == SelectBoth
	if !runLLM || p.judge == nil || len(nlPolicies) == 0 {
		return p.notApplicableOrIndeterminate(declarativeDecision, ranDeclarative, start)
	}

	llmDecision := p.judge.Judge(ctx, joinPolicyText(nlPolicies), dc)
	if llmDecision.Confidence >= p.cfg.ConfidenceThreshold {
		return policy.Decision{
			Verdict:    llmDecision.Verdict,
			Reason:     llmDecision.Reason,
			Confidence: llmDecision.Confidence,
			Metadata:   metadata("llm", start, 0, ""),
		}
	}

	return p.combine(declarativeDecision, ranDeclarative, llmDecision, start)
}

// combine applies spec.md §4.4 step 5: conservative DENY-wins merge with
// confidence-weighted scoring when neither engine alone resolved the case.
func (p *PDP) combine(declarative policy.Decision, declarativeApplicable bool, llm llmjudge.Judgment, start time.Time) policy.Decision {
	wC1 := 0.0
	if declarativeApplicable && declarative.Verdict != policy.NotApplicable {
		wC1 = p.cfg.DeclarativeWeight
	}
	confidence := wC1*1.0 + llm.Confidence

	verdict := policy.Permit
	reason := "hybrid combine: permit"
	if (declarativeApplicable && declarative.Verdict == policy.Deny) || llm.Verdict == policy.Deny {
		verdict = policy.Deny
		reason = "hybrid combine: at least one engine denied"
	} else if llm.Verdict == policy.Indeterminate {
		verdict = policy.Deny
		reason = "hybrid combine: llm judgment indeterminate: " + llm.Reason
	}

	return policy.Decision{
		Verdict:    verdict,
		Reason:     reason,
		Confidence: confidence,
		Metadata:   metadata("hybrid", start, 0, ""),
	}
}

func (p *PDP) notApplicableOrIndeterminate(declarative policy.Decision, ranDeclarative bool, start time.Time) policy.Decision {
	if ranDeclarative {
		declarative.Metadata.Engine = "declarative"
		declarative.Metadata.EvaluationTime = time.Since(start)
		return declarative
	}
	return policy.Decision{
		Verdict:    policy.NotApplicable,
		Reason:     "no engine applicable",
		Confidence: 1.0,
		Metadata:   metadata("none", start, 0, ""),
	}
}

func metadata(engine string, start time.Time, matched int, uid string) policy.DecisionMetadata {
	return policy.DecisionMetadata{
		Engine:         engine,
		EvaluationTime: time.Since(start),
		MatchedRules:   matched,
		PolicyUID:      uid,
	}
}

// selectEngines mirrors spec.md §4.4 step 2's static engine selection: a
// policy set with only declarative policies selects C1 only, only
// natural-language selects C2 only, and a mix selects both. No
// format-detector confidence is consulted.
func (p *PDP) selectEngines(evalr *policy.Evaluator, nlPolicies []policy.NaturalLanguagePolicy) EngineSelection {
	hasDeclarative := evalr != nil
	hasNL := len(nlPolicies) > 0
	switch {
	case hasDeclarative && hasNL:
		return SelectBoth
	case hasNL:
		return SelectNaturalLanguage
	default:
		return SelectDeclarative
	}
}

func joinPolicyText(policies []policy.NaturalLanguagePolicy) string {
	out := ""
	for i, p := range policies {
		if i > 0 {
			out += "\n---\n"
		}
		out += p.Text
	}
	return out
}
