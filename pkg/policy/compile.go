package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/rego"

	policyrego "github.com/aegis-proxy/aegis/pkg/policy/rego"
)

// CompiledPolicy pairs a DeclarativePolicy with its generated Rego module
// and prepared query, used only by CheckDivergence's consistency check
// described in SPEC_FULL.md §3 — the native Evaluator remains the
// evaluator of record on the request hot path.
type CompiledPolicy struct {
	Policy   DeclarativePolicy
	Module   string
	Prepared *rego.PreparedEvalQuery
}

// CompileDeclarative renders policy to Rego, validates the module, and
// prepares an OPA query against it. It does not run the query; that only
// happens during the consistency check, not per-request.
func CompileDeclarative(ctx context.Context, policy DeclarativePolicy) (*CompiledPolicy, error) {
	spec := toRegoSpec(policy)
	module, err := policyrego.CompileToRego(spec)
	if err != nil {
		return nil, fmt.Errorf("compile policy %s to rego: %w", policy.UID, err)
	}
	if err := policyrego.ValidateRegoModule(module); err != nil {
		return nil, fmt.Errorf("validate rego module for policy %s: %w", policy.UID, err)
	}

	query, err := rego.New(
		rego.Query("data.aegis_policy_"+safeUID(policy.UID)+".decision"),
		rego.Module(policy.UID+".rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rego query for policy %s: %w", policy.UID, err)
	}

	return &CompiledPolicy{Policy: policy, Module: module, Prepared: &query}, nil
}

func toRegoSpec(p DeclarativePolicy) *policyrego.PolicySpec {
	spec := &policyrego.PolicySpec{UID: p.UID}
	for _, r := range p.Permission {
		spec.Permission = append(spec.Permission, ruleToSpec(r))
	}
	for _, r := range p.Prohibition {
		spec.Prohibition = append(spec.Prohibition, ruleToSpec(r))
	}
	return spec
}

// ruleToSpec projects the renderable constraint subset (path/domain/size,
// via well-known leftOperand names) into a rego.RuleSpec. Constraint
// shapes this projection cannot express are simply omitted — divergence
// there is expected and is not treated as an inconsistency (see
// CheckDivergence).
func ruleToSpec(r Rule) policyrego.RuleSpec {
	spec := policyrego.RuleSpec{Action: r.Action, Target: r.Target}
	for _, c := range r.Constraints {
		switch c.LeftOperand {
		case "pathPattern":
			if s, ok := c.RightOperand.(string); ok {
				spec.PathPatterns = append(spec.PathPatterns, s)
			}
		case "allowedDomain":
			if s, ok := c.RightOperand.(string); ok {
				spec.AllowedDomains = append(spec.AllowedDomains, s)
			}
		case "deniedDomain":
			if s, ok := c.RightOperand.(string); ok {
				spec.DeniedDomains = append(spec.DeniedDomains, s)
			}
		case "maxSizeBytes":
			if f, ok := toFloat(c.RightOperand); ok {
				spec.MaxSizeBytes = int64(f)
			}
		}
	}
	return spec
}

func safeUID(uid string) string {
	out := make([]rune, 0, len(uid))
	for _, r := range uid {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// DivergenceReport describes a synthetic context where the native
// Evaluator and the compiled Rego module disagree. It is logged, never
// returned as an error: the native evaluator remains authoritative.
type DivergenceReport struct {
	Context      DecisionContext
	NativeVerdict Verdict
	RegoAllow    bool
	RegoDeny     bool
}

// CheckDivergence runs both the native evaluator and a compiled policy's
// Rego module over a small corpus of synthetic contexts derived from the
// policy's own rule actions/targets, and reports any rows where they
// disagree on allow/deny. Intended to run once, at policy-load time.
func CheckDivergence(ctx context.Context, compiled *CompiledPolicy) ([]DivergenceReport, error) {
	evalr := NewEvaluator(PolicySet{Declarative: []DeclarativePolicy{compiled.Policy}})
	var reports []DivergenceReport

	for _, synthetic := range syntheticContexts(compiled.Policy) {
		native := evalr.Evaluate(synthetic)

		rs, err := compiled.Prepared.Eval(ctx, rego.EvalInput(map[string]any{
			"action":   synthetic.Action,
			"resource": synthetic.Resource,
		}))
		if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
			continue
		}
		out, ok := rs[0].Expressions[0].Value.(map[string]any)
		if !ok {
			continue
		}
		regoAllow, _ := out["allow"].(bool)
		regoDeny, _ := out["deny"].(bool)

		nativeAllow := native.Verdict == Permit
		nativeDeny := native.Verdict == Deny
		if nativeAllow != regoAllow || nativeDeny != regoDeny {
			reports = append(reports, DivergenceReport{
				Context:       synthetic,
				NativeVerdict: native.Verdict,
				RegoAllow:     regoAllow,
				RegoDeny:      regoDeny,
			})
		}
	}
	return reports, nil
}

// syntheticContexts builds one DecisionContext per distinct action/target
// pair named by the policy's own rules, so the divergence check exercises
// exactly the surface the policy claims to govern.
func syntheticContexts(p DeclarativePolicy) []DecisionContext {
	seen := make(map[string]bool)
	var out []DecisionContext
	add := func(action, target string) {
		key := action + "|" + target
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, DecisionContext{
			AgentID:   "synthetic",
			AgentType: AgentUnknown,
			Action:    action,
			Resource:  target,
			Timestamp: time.Now(),
		})
	}
	for _, r := range p.Permission {
		add(r.Action, r.Target)
	}
	for _, r := range p.Prohibition {
		add(r.Action, r.Target)
	}
	return out
}
