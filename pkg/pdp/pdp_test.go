package pdp

import (
	"context"
	"testing"

	"github.com/aegis-proxy/aegis/pkg/llmjudge"
	"github.com/aegis-proxy/aegis/pkg/policy"
)

func evaluatorWithRule(rule policy.Rule, prohibition bool) *policy.Evaluator {
	dp := policy.DeclarativePolicy{UID: "p1", Priority: 1}
	if prohibition {
		dp.Prohibition = []policy.Rule{rule}
	} else {
		dp.Permission = []policy.Rule{rule}
	}
	return policy.NewEvaluator(policy.PolicySet{Version: "v1", Declarative: []policy.DeclarativePolicy{dp}})
}

func TestDecide_DeclarativeDeterminesWithoutLLM(t *testing.T) {
	evalr := evaluatorWithRule(policy.Rule{Action: "fs__read"}, false)
	p := New(DefaultConfig(), nil, nil)
	d, err := p.Decide(context.Background(), evalr, nil, policy.DecisionContext{Action: "fs__read", Resource: "/tmp/x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Verdict != policy.Permit {
		t.Fatalf("expected Permit, got %s", d.Verdict)
	}
}

type fakeJudge struct{ result llmjudge.Judgment }

func (f fakeJudge) Judge(context.Context, string, policy.DecisionContext) llmjudge.Judgment {
	return f.result
}

func TestDecide_NaturalLanguageOnlyUsesLLM(t *testing.T) {
	evalr := policy.NewEvaluator(policy.PolicySet{Version: "v1"})
	judge := fakeJudge{result: llmjudge.Judgment{Verdict: policy.Deny, Reason: "nope", Confidence: 0.95}}
	p := New(DefaultConfig(), nil, judge)
	nl := []policy.NaturalLanguagePolicy{{UID: "n1", Text: "never allow deletes"}}
	d, err := p.Decide(context.Background(), evalr, nl, policy.DecisionContext{Action: "fs__delete"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Verdict != policy.Deny {
		t.Fatalf("expected Deny from confident LLM verdict, got %s", d.Verdict)
	}
}

func TestDecide_ConservativeMergeDenyWins(t *testing.T) {
	evalr := policy.NewEvaluator(policy.PolicySet{Version: "v1"}) // declarative NOT_APPLICABLE
	judge := fakeJudge{result: llmjudge.Judgment{Verdict: policy.Deny, Reason: "risky", Confidence: 0.5}}
	p := New(DefaultConfig(), nil, judge)
	nl := []policy.NaturalLanguagePolicy{{UID: "n1", Text: "be careful with deletes"}}
	d, err := p.Decide(context.Background(), evalr, nl, policy.DecisionContext{Action: "fs__delete"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Verdict != policy.Deny {
		t.Fatalf("expected conservative merge to deny, got %s", d.Verdict)
	}
}

func TestDecide_EmptyPolicySetNotApplicable(t *testing.T) {
	evalr := policy.NewEvaluator(policy.PolicySet{Version: "v1"})
	p := New(DefaultConfig(), nil, nil)
	d, err := p.Decide(context.Background(), evalr, nil, policy.DecisionContext{Action: "fs__read"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Verdict != policy.NotApplicable {
		t.Fatalf("expected NotApplicable for empty policy set, got %s", d.Verdict)
	}
}

func TestDetectFormat(t *testing.T) {
	f, conf := DetectFormat(`{"permission": [], "prohibition": []}`)
	if f != FormatDeclarative || conf < 0.7 {
		t.Fatalf("expected confident DECLARATIVE detection, got %s conf=%f", f, conf)
	}
	f2, conf2 := DetectFormat("Never allow deletion of customer records without manager approval.")
	if f2 != FormatNaturalLanguage || conf2 < 0.7 {
		t.Fatalf("expected confident NATURAL_LANGUAGE detection, got %s conf=%f", f2, conf2)
	}
}
