package policy

import "testing"

func TestOrdinalCompare_ResourceClassification(t *testing.T) {
	order, ok := ordinalCompare(string(ClassCritical), string(ClassPublic))
	if !ok || order <= 0 {
		t.Fatalf("expected critical > public, got order=%d ok=%v", order, ok)
	}
}

func TestClearanceLabel_Dominance(t *testing.T) {
	high, ok := ParseClearanceLabel("s2:c1,c2")
	if !ok {
		t.Fatalf("failed to parse label")
	}
	low, ok := ParseClearanceLabel("s1:c1")
	if !ok {
		t.Fatalf("failed to parse label")
	}
	if !high.Dominates(low) {
		t.Fatalf("expected s2:c1,c2 to dominate s1:c1")
	}
	if low.Dominates(high) {
		t.Fatalf("did not expect s1:c1 to dominate s2:c1,c2")
	}
}

func TestClearanceLabel_RoundTrip(t *testing.T) {
	label := ClearanceLabel{Sensitivity: 3, Categories: []int{4, 1, 2}}
	parsed, ok := ParseClearanceLabel(label.String())
	if !ok {
		t.Fatalf("expected parse of generated label string to succeed")
	}
	if !parsed.Equals(ClearanceLabel{Sensitivity: 3, Categories: []int{1, 2, 4}}) {
		t.Fatalf("expected round-trip equality irrespective of category order")
	}
}

func TestEvaluateConstraint_ClearanceOrdering(t *testing.T) {
	c := Constraint{LeftOperand: "resourceClassification", Operator: OpGteq, RightOperand: string(ClassConfidential)}
	dc := DecisionContext{ResourceClassification: ClassCritical}
	if EvaluateConstraint(c, dc) != resTrue {
		t.Fatalf("expected critical >= confidential")
	}
	dc2 := DecisionContext{ResourceClassification: ClassInternal}
	if EvaluateConstraint(c, dc2) != resFalse {
		t.Fatalf("expected internal < confidential to be false")
	}
}
