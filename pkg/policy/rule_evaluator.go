package policy

import (
	"sort"
	"strings"
	"time"
)

// Evaluator is the compiled, sorted view of a PolicySet that the hot path
// evaluates against. It is immutable once built; a policy reload builds a
// fresh Evaluator rather than mutating one in place (copy-on-write, per
// spec.md §5).
type Evaluator struct {
	version  string
	policies []DeclarativePolicy // sorted by descending Priority
}

// NewEvaluator compiles a PolicySet into an Evaluator. Policies are sorted
// by descending priority; ties keep the PolicySet's original relative
// order (stable sort), which is the evaluator's documented tie-break rule.
func NewEvaluator(set PolicySet) *Evaluator {
	policies := make([]DeclarativePolicy, len(set.Declarative))
	copy(policies, set.Declarative)
	sort.SliceStable(policies, func(i, j int) bool {
		return policies[i].Priority > policies[j].Priority
	})
	return &Evaluator{version: set.Version, policies: policies}
}

// Version returns the PolicySet version this Evaluator was compiled from,
// used as part of the Decision Cache key.
func (e *Evaluator) Version() string {
	return e.version
}

// Evaluate walks the sorted policy list one priority tier at a time (ties
// keep the PolicySet's declaration order, per NewEvaluator). Within a tier,
// every policy's prohibitions are checked, across the whole tier, before
// any policy's permissions in that same tier — this is what makes
// "prohibition wins over permission at equal priority" (spec.md §4.1,
// §8 "Prohibition precedence") hold *across* policies, not just within
// one. A rule whose constraints resolve Indeterminate does not match
// outright; it only downgrades the final verdict to Indeterminate if no
// higher-priority tier already produced a Permit/Deny.
func (e *Evaluator) Evaluate(dc DecisionContext) Decision {
	start := time.Now()
	matched := 0
	sawIndeterminate := false

	for i := 0; i < len(e.policies); {
		j := i + 1
		for j < len(e.policies) && e.policies[j].Priority == e.policies[i].Priority {
			j++
		}
		tier := e.policies[i:j]
		i = j

		for _, p := range tier {
			for _, rule := range p.Prohibition {
				if !actionMatches(rule.Action, dc.Action) || !targetMatches(rule.Target, dc.Resource) {
					continue
				}
				matched++
				switch evaluateRuleConstraints(rule, dc) {
				case resTrue:
					return Decision{
						Verdict:     Deny,
						Reason:      "prohibition matched: " + rule.Action,
						Confidence:  1.0,
						Obligations: rule.Duties,
						Metadata:    e.metadata(start, matched, p.UID),
					}
				case resIndeterminate:
					sawIndeterminate = true
				}
			}
		}
		for _, p := range tier {
			for _, rule := range p.Permission {
				if !actionMatches(rule.Action, dc.Action) || !targetMatches(rule.Target, dc.Resource) {
					continue
				}
				matched++
				switch evaluateRuleConstraints(rule, dc) {
				case resTrue:
					return Decision{
						Verdict:     Permit,
						Reason:      "permission matched: " + rule.Action,
						Confidence:  1.0,
						Obligations: rule.Duties,
						Metadata:    e.metadata(start, matched, p.UID),
					}
				case resIndeterminate:
					sawIndeterminate = true
				}
			}
		}
	}

	if sawIndeterminate {
		return Decision{
			Verdict:    Indeterminate,
			Reason:     "matched rule constraints could not be resolved",
			Confidence: 0,
			Metadata:   e.metadata(start, matched, ""),
		}
	}

	return Decision{
		Verdict:    NotApplicable,
		Reason:     "no rule matched",
		Confidence: 1.0,
		Metadata:   e.metadata(start, matched, ""),
	}
}

func (e *Evaluator) metadata(start time.Time, matched int, policyUID string) DecisionMetadata {
	return DecisionMetadata{
		Engine:         "declarative",
		EvaluationTime: time.Since(start),
		MatchedRules:   matched,
		PolicyUID:      policyUID,
	}
}

// evaluateRuleConstraints ANDs a rule's top-level constraint list.
func evaluateRuleConstraints(rule Rule, dc DecisionContext) evalResult {
	if len(rule.Constraints) == 0 {
		return resTrue
	}
	sawIndeterminate := false
	for _, c := range rule.Constraints {
		switch EvaluateConstraint(c, dc) {
		case resFalse:
			return resFalse
		case resIndeterminate:
			sawIndeterminate = true
		}
	}
	if sawIndeterminate {
		return resIndeterminate
	}
	return resTrue
}

// actionMatches supports literal matches and a single trailing "*"
// wildcard, e.g. "fs__*" matching any action prefixed "fs__".
func actionMatches(pattern, action string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(action, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == action
}

// targetMatches mirrors actionMatches but treats an empty pattern as
// "unrestricted" rather than "never matches".
func targetMatches(pattern, resource string) bool {
	if pattern == "" {
		return true
	}
	return actionMatches(pattern, resource)
}
