package audit

import (
	"testing"
	"time"

	"github.com/aegis-proxy/aegis/pkg/policy"
)

func TestRecorder_RingBounded(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.Record(Entry{Context: policy.DecisionContext{AgentID: "a"}, Decision: policy.Decision{Verdict: policy.Permit}})
	}
	entries := r.Query(Filter{})
	if len(entries) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(entries))
	}
}

func TestRecorder_FilterByVerdictAndAgent(t *testing.T) {
	r := NewRecorder(10)
	r.Record(Entry{Context: policy.DecisionContext{AgentID: "a"}, Decision: policy.Decision{Verdict: policy.Permit}})
	r.Record(Entry{Context: policy.DecisionContext{AgentID: "b"}, Decision: policy.Decision{Verdict: policy.Deny}})

	denied := r.Query(Filter{Decisions: []policy.Verdict{policy.Deny}})
	if len(denied) != 1 || denied[0].Context.AgentID != "b" {
		t.Fatalf("expected only agent b's deny entry, got %#v", denied)
	}

	byAgent := r.Query(Filter{Agents: []string{"a"}})
	if len(byAgent) != 1 {
		t.Fatalf("expected 1 entry for agent a, got %d", len(byAgent))
	}
}

func TestRecorder_StatisticsSummary(t *testing.T) {
	r := NewRecorder(10)
	r.Record(Entry{Context: policy.DecisionContext{AgentID: "a"}, Decision: policy.Decision{Verdict: policy.Permit, Confidence: 0.95}, ProcessingTime: 10 * time.Millisecond})
	r.Record(Entry{Context: policy.DecisionContext{AgentID: "a"}, Decision: policy.Decision{Verdict: policy.Deny, Confidence: 0.3}, ProcessingTime: 30 * time.Millisecond})

	summary := r.StatisticsSummary(nil)
	if summary.Total != 2 {
		t.Fatalf("expected total 2, got %d", summary.Total)
	}
	if summary.ByVerdict["PERMIT"] != 1 || summary.ByVerdict["DENY"] != 1 {
		t.Fatalf("expected 1 permit and 1 deny, got %#v", summary.ByVerdict)
	}
	if summary.RiskDistribution["low"] != 1 || summary.RiskDistribution["high"] != 1 {
		t.Fatalf("expected 1 low-risk and 1 high-risk entry, got %#v", summary.RiskDistribution)
	}
	if summary.AvgProcessingTimeMs != 20 {
		t.Fatalf("expected avg processing time 20ms, got %v", summary.AvgProcessingTimeMs)
	}
}

func TestRecorder_Counts(t *testing.T) {
	r := NewRecorder(10)
	r.Record(Entry{Decision: policy.Decision{Verdict: policy.Permit}})
	r.Record(Entry{Decision: policy.Decision{Verdict: policy.Deny}})
	r.Record(Entry{Decision: policy.Decision{Verdict: policy.Deny}})

	total, permits, denies, _, _ := r.Counts()
	if total != 3 || permits != 1 || denies != 2 {
		t.Fatalf("expected total=3 permits=1 denies=2, got total=%d permits=%d denies=%d", total, permits, denies)
	}
}
