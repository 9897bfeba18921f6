package main

import (
	"net/http/httptest"
	"testing"

	"github.com/aegis-proxy/aegis/pkg/policy"
)

func TestIdentityFromHeadersDecodesDelegationChainAndPermissions(t *testing.T) {
	r := httptest.NewRequest("POST", "/mcp/call", nil)
	r.Header.Set("X-Agent-ID", "agent-7")
	r.Header.Set("X-Agent-Type", "RESEARCH")
	r.Header.Set("X-Delegation-Chain", `["agent-1","agent-7"]`)
	r.Header.Set("X-Permissions", `["read","write"]`)
	r.Header.Set("X-Priority", "high")

	dc := identityFromHeaders(r)

	if dc.AgentID != "agent-7" {
		t.Fatalf("AgentID = %q, want agent-7", dc.AgentID)
	}
	if dc.AgentType != policy.AgentResearch {
		t.Fatalf("AgentType = %q, want lowercased research", dc.AgentType)
	}
	if len(dc.DelegationChain) != 2 || dc.DelegationChain[1] != "agent-7" {
		t.Fatalf("DelegationChain = %v", dc.DelegationChain)
	}
	if len(dc.Permissions) != 2 {
		t.Fatalf("Permissions = %v", dc.Permissions)
	}
	if dc.Environment["priority"] != "high" {
		t.Fatalf("Environment[priority] = %q", dc.Environment["priority"])
	}
}

func TestIdentityFromHeadersDefaultsUnknownAgentType(t *testing.T) {
	r := httptest.NewRequest("POST", "/mcp/call", nil)
	dc := identityFromHeaders(r)
	if dc.AgentType != policy.AgentUnknown {
		t.Fatalf("AgentType = %q, want %q", dc.AgentType, policy.AgentUnknown)
	}
	if dc.AgentID != "" {
		t.Fatalf("AgentID = %q, want empty (no permissive default)", dc.AgentID)
	}
}
