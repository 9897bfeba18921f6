// Package policy implements the declarative rule evaluator, decision cache,
// and ODRL-shaped permission/prohibition/duty policy model that sit at the
// core of Aegis's Policy Decision Point.
//
// The evaluator follows the same "compile once, evaluate fast" discipline
// as the access-control engine this package is descended from: a policy
// set is sorted and indexed once per load, and each evaluation is a pure,
// side-effect-free walk over that index.
package policy

import "time"

// Verdict is the outcome of a policy evaluation.
type Verdict int

const (
	// NotApplicable means no rule's action pattern matched the request.
	NotApplicable Verdict = iota
	// Indeterminate means a rule matched but its constraints could not be
	// resolved (type mismatch, missing context field).
	Indeterminate
	// Permit means a permission rule matched with all constraints satisfied.
	Permit
	// Deny means a prohibition rule matched with all constraints satisfied.
	// Deny is conservative: once reached it is never overridden downstream.
	Deny
)

func (v Verdict) String() string {
	switch v {
	case Permit:
		return "PERMIT"
	case Deny:
		return "DENY"
	case Indeterminate:
		return "INDETERMINATE"
	default:
		return "NOT_APPLICABLE"
	}
}

// AgentType classifies the caller making a request.
type AgentType string

const (
	AgentResearch    AgentType = "research"
	AgentWriting     AgentType = "writing"
	AgentCoordinator AgentType = "coordinator"
	AgentAdmin       AgentType = "admin"
	AgentSystem      AgentType = "system"
	AgentExternal    AgentType = "external"
	AgentUnknown     AgentType = "unknown"
)

// ResourceClassification is the ordinal sensitivity of a resource.
// Comparisons (gt, gteq, lt, lteq) treat this as a total order:
// public < internal < confidential < critical.
type ResourceClassification string

const (
	ClassPublic       ResourceClassification = "public"
	ClassInternal     ResourceClassification = "internal"
	ClassConfidential ResourceClassification = "confidential"
	ClassCritical     ResourceClassification = "critical"
)

// DecisionContext is the input to every PDP evaluation (spec.md §3). Every
// field except AgentID, AgentType, Action and Resource is optional; a
// missing value is "unknown", never a permissive default.
type DecisionContext struct {
	AgentID                string                 `json:"agentId"`
	AgentType              AgentType              `json:"agentType"`
	Action                 string                 `json:"action"`
	Resource               string                 `json:"resource"`
	ResourceClassification ResourceClassification `json:"resourceClassification,omitempty"`
	Timestamp              time.Time              `json:"timestamp"`
	TrustScore             *float64               `json:"trustScore,omitempty"`
	ClearanceLevel         string                 `json:"clearanceLevel,omitempty"`
	DelegationChain        []string               `json:"delegationChain,omitempty"`
	Permissions            []string               `json:"permissions,omitempty"`
	Environment            map[string]string      `json:"environment,omitempty"`
}

// Decision is the output of a PDP evaluation (spec.md §3).
type Decision struct {
	Verdict     Verdict          `json:"verdict"`
	Reason      string           `json:"reason"`
	Confidence  float64          `json:"confidence"`
	Constraints []string         `json:"constraints,omitempty"`
	Obligations []string         `json:"obligations,omitempty"`
	Metadata    DecisionMetadata `json:"metadata"`
}

// DecisionMetadata records how a decision was produced, for audit and for
// the "no unauthorized upstream traffic" testable property.
type DecisionMetadata struct {
	Engine         string        `json:"engine"` // "declarative", "llm", "hybrid"
	EvaluationTime time.Duration `json:"evaluationTime"`
	MatchedRules   int           `json:"matchedRules"`
	PolicyUID      string        `json:"policyUid,omitempty"`
	Cached         bool          `json:"cached"`
}

// ConstraintOperator enumerates the total, side-effect-free comparison
// operators a Constraint may use.
type ConstraintOperator string

const (
	OpEq       ConstraintOperator = "eq"
	OpNeq      ConstraintOperator = "neq"
	OpLt       ConstraintOperator = "lt"
	OpLteq     ConstraintOperator = "lteq"
	OpGt       ConstraintOperator = "gt"
	OpGteq     ConstraintOperator = "gteq"
	OpIn       ConstraintOperator = "in"
	OpIsAnyOf  ConstraintOperator = "isAnyOf"
	OpIsNoneOf ConstraintOperator = "isNoneOf"
)

// LogicalOp composes two or more Constraints.
type LogicalOp string

const (
	LogicalAnd LogicalOp = "and"
	LogicalOr  LogicalOp = "or"
)

// Constraint is a single condition, or a logical composition of sub-
// constraints, evaluated against a DecisionContext.
type Constraint struct {
	LeftOperand  string             `json:"leftOperand,omitempty"`
	Operator     ConstraintOperator `json:"operator,omitempty"`
	RightOperand any                `json:"rightOperand,omitempty"`

	// Logical composes Clauses with And/Or when set; LeftOperand/Operator/
	// RightOperand are ignored in that case.
	Logical LogicalOp    `json:"logical,omitempty"`
	Clauses []Constraint `json:"clauses,omitempty"`
}

// IsLogical reports whether this constraint is a logical composition.
func (c Constraint) IsLogical() bool {
	return c.Logical != ""
}

// Rule is a single permission or prohibition entry.
type Rule struct {
	// Action is a literal action or an "upstream__*" wildcard pattern.
	Action string `json:"action"`
	// Target optionally restricts the rule to a specific resource pattern.
	Target string `json:"target,omitempty"`
	// Constraints must all be satisfied (implicit AND at the top level)
	// for the rule to match.
	Constraints []Constraint `json:"constraints,omitempty"`
	// Duties are obligation directives attached to this rule; copied into
	// the decision's Obligations when the rule determines the outcome.
	Duties []string `json:"duties,omitempty"`
}

// DeclarativePolicy is the structured, ODRL-shaped policy shape (spec.md §3).
type DeclarativePolicy struct {
	UID         string `json:"uid"`
	Priority    int    `json:"priority"`
	Permission  []Rule `json:"permission,omitempty"`
	Prohibition []Rule `json:"prohibition,omitempty"`
	Duty        []Rule `json:"duty,omitempty"`

	// NaturalLanguageSource, when present, lets the LLM adapter judge the
	// rule directly instead of (or in addition to) the structured form.
	NaturalLanguageSource string `json:"naturalLanguageSource,omitempty"`
}

// NaturalLanguagePolicy is opaque text interpreted only by the LLM adapter.
type NaturalLanguagePolicy struct {
	UID  string `json:"uid"`
	Text string `json:"text"`
}

// PolicySet is the unit the Rule Evaluator and Hybrid PDP operate over: the
// active declarative policies plus any natural-language policies, and a
// content version used for cache keys and invalidation.
type PolicySet struct {
	Version     string
	Declarative []DeclarativePolicy
	NaturalLang []NaturalLanguagePolicy
}
