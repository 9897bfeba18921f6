package main

import (
	"strings"
	"testing"

	"github.com/aegis-proxy/aegis/pkg/policy"
)

func TestNormalizeAtBoundaryCollapsesToDeny(t *testing.T) {
	cases := []struct {
		name    string
		verdict policy.Verdict
	}{
		{"not applicable", policy.NotApplicable},
		{"indeterminate", policy.Indeterminate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := policy.Decision{Verdict: tc.verdict, Reason: "no matching rule"}
			got := normalizeAtBoundary(in)
			if got.Verdict != policy.Deny {
				t.Fatalf("verdict = %v, want DENY", got.Verdict)
			}
			if !strings.Contains(got.Reason, "no matching rule") {
				t.Fatalf("reason lost original detail: %q", got.Reason)
			}
		})
	}
}

func TestNormalizeAtBoundaryPassesThroughDecisive(t *testing.T) {
	for _, v := range []policy.Verdict{policy.Permit, policy.Deny} {
		in := policy.Decision{Verdict: v, Reason: "matched rule-1"}
		got := normalizeAtBoundary(in)
		if got.Verdict != v || got.Reason != in.Reason {
			t.Fatalf("decisive verdict %v was altered: %+v", v, got)
		}
	}
}
