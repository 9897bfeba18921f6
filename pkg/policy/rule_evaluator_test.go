package policy

import "testing"

func TestEvaluator_ProhibitionPrecedence(t *testing.T) {
	set := PolicySet{
		Version: "v1",
		Declarative: []DeclarativePolicy{
			{
				UID:      "p1",
				Priority: 10,
				Permission: []Rule{
					{Action: "fs__read"},
				},
				Prohibition: []Rule{
					{Action: "fs__read"},
				},
			},
		},
	}
	e := NewEvaluator(set)
	d := e.Evaluate(DecisionContext{Action: "fs__read", Resource: "/etc/passwd"})
	if d.Verdict != Deny {
		t.Fatalf("expected Deny when both permission and prohibition match, got %s", d.Verdict)
	}
}

func TestEvaluator_ProhibitionPrecedenceAcrossPolicies(t *testing.T) {
	set := PolicySet{
		Version: "v1",
		Declarative: []DeclarativePolicy{
			{UID: "permit-p", Priority: 10, Permission: []Rule{{Action: "fs__read"}}},
			{UID: "deny-p", Priority: 10, Prohibition: []Rule{{Action: "fs__read"}}},
		},
	}
	e := NewEvaluator(set)
	d := e.Evaluate(DecisionContext{Action: "fs__read", Resource: "/etc/passwd"})
	if d.Verdict != Deny {
		t.Fatalf("expected a same-priority prohibition in a different policy to win over a permission, got %s", d.Verdict)
	}
	if d.Metadata.PolicyUID != "deny-p" {
		t.Fatalf("expected matching policy uid 'deny-p', got %q", d.Metadata.PolicyUID)
	}
}

func TestEvaluator_PriorityOrder(t *testing.T) {
	set := PolicySet{
		Declarative: []DeclarativePolicy{
			{UID: "low", Priority: 1, Permission: []Rule{{Action: "net__fetch"}}},
			{UID: "high", Priority: 100, Prohibition: []Rule{{Action: "net__fetch"}}},
		},
	}
	e := NewEvaluator(set)
	d := e.Evaluate(DecisionContext{Action: "net__fetch", Resource: "https://example.com"})
	if d.Verdict != Deny {
		t.Fatalf("expected higher-priority prohibition to win, got %s", d.Verdict)
	}
	if d.Metadata.PolicyUID != "high" {
		t.Fatalf("expected matching policy uid 'high', got %q", d.Metadata.PolicyUID)
	}
}

func TestEvaluator_NotApplicable(t *testing.T) {
	e := NewEvaluator(PolicySet{})
	d := e.Evaluate(DecisionContext{Action: "fs__read", Resource: "/tmp/x"})
	if d.Verdict != NotApplicable {
		t.Fatalf("expected NotApplicable for empty policy set, got %s", d.Verdict)
	}
}

func TestEvaluator_IndeterminateWhenConstraintUnresolvable(t *testing.T) {
	set := PolicySet{
		Declarative: []DeclarativePolicy{
			{
				UID:      "p1",
				Priority: 1,
				Permission: []Rule{
					{
						Action: "fs__read",
						Constraints: []Constraint{
							{LeftOperand: "trustScore", Operator: OpGteq, RightOperand: 0.5},
						},
					},
				},
			},
		},
	}
	e := NewEvaluator(set)
	// TrustScore is unset -> resolveOperand fails -> Indeterminate.
	d := e.Evaluate(DecisionContext{Action: "fs__read", Resource: "/tmp/x"})
	if d.Verdict != Indeterminate {
		t.Fatalf("expected Indeterminate, got %s", d.Verdict)
	}
}

func TestEvaluator_WildcardAction(t *testing.T) {
	set := PolicySet{
		Declarative: []DeclarativePolicy{
			{UID: "p1", Priority: 1, Permission: []Rule{{Action: "fs__*"}}},
		},
	}
	e := NewEvaluator(set)
	d := e.Evaluate(DecisionContext{Action: "fs__write", Resource: "/tmp/x"})
	if d.Verdict != Permit {
		t.Fatalf("expected wildcard match to Permit, got %s", d.Verdict)
	}
}

func TestEvaluator_ConstraintAndOr(t *testing.T) {
	set := PolicySet{
		Declarative: []DeclarativePolicy{
			{
				UID:      "p1",
				Priority: 1,
				Permission: []Rule{
					{
						Action: "fs__read",
						Constraints: []Constraint{
							{
								Logical: LogicalOr,
								Clauses: []Constraint{
									{LeftOperand: "agentType", Operator: OpEq, RightOperand: "admin"},
									{LeftOperand: "agentType", Operator: OpEq, RightOperand: "system"},
								},
							},
						},
					},
				},
			},
		},
	}
	e := NewEvaluator(set)
	d := e.Evaluate(DecisionContext{Action: "fs__read", Resource: "/tmp/x", AgentType: AgentSystem})
	if d.Verdict != Permit {
		t.Fatalf("expected OR clause to permit system agent, got %s", d.Verdict)
	}
	d2 := e.Evaluate(DecisionContext{Action: "fs__read", Resource: "/tmp/x", AgentType: AgentResearch})
	if d2.Verdict != NotApplicable {
		t.Fatalf("expected research agent to not match, got %s", d2.Verdict)
	}
}
