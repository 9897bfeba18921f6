package mcprouter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aegis-proxy/aegis/pkg/aegiserr"
	"github.com/aegis-proxy/aegis/pkg/policy"
)

var emptySchema = json.RawMessage(`{"type":"object"}`)

// stubDecider always returns the configured verdict, ignoring dc.
type stubDecider struct {
	verdict policy.Verdict
	reason  string
}

func (s stubDecider) Decide(_ context.Context, _ policy.DecisionContext) (policy.Decision, error) {
	return policy.Decision{Verdict: s.verdict, Reason: s.reason}, nil
}

// recordingDecider captures the DecisionContext it was called with, so
// tests can assert on the exact (action, resource) shape CallTool sends
// to the PDP.
type recordingDecider struct {
	verdict policy.Verdict
	got     policy.DecisionContext
}

func (s *recordingDecider) Decide(_ context.Context, dc policy.DecisionContext) (policy.Decision, error) {
	s.got = dc
	return policy.Decision{Verdict: s.verdict}, nil
}

// connectInMemoryUpstream wires an in-memory mcpsdk server/client pair into
// a router's upstream map directly, bypassing createTransport (grounded on
// tarsy's test/e2e/mcp_helpers.go SetupInMemoryMCP pattern).
func connectInMemoryUpstream(t *testing.T, name string, tools map[string]mcpsdk.ToolHandler) *upstream {
	t.Helper()
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: "test"}, nil)
	for toolName, handler := range tools {
		server.AddTool(&mcpsdk.Tool{Name: toolName, Description: "test tool", InputSchema: emptySchema}, handler)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Run(ctx, serverTransport) }()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "aegis-router-test", Version: "test"}, nil)
	session, err := client.Connect(context.Background(), clientTransport, nil)
	if err != nil {
		t.Fatalf("connect in-memory upstream: %v", err)
	}

	u := newUpstream(UpstreamConfig{Name: name, Transport: TransportStdio})
	u.client = client
	u.session = session
	return u
}

func staticHandler(text string) mcpsdk.ToolHandler {
	return func(_ context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}, nil
	}
}

func TestRouter_ListTools_PrefixesNames(t *testing.T) {
	r := NewRouter(nil, stubDecider{verdict: policy.Permit})
	r.upstreams["fs"] = connectInMemoryUpstream(t, "fs", map[string]mcpsdk.ToolHandler{
		"read": staticHandler("hello"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tools, err := r.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || prefixedName(tools[0].Upstream, tools[0].Local) != "fs__read" {
		t.Fatalf("expected single prefixed tool fs__read, got %#v", tools)
	}
}

func TestRouter_CallTool_DeniedSurfacesPolicyErrorCode(t *testing.T) {
	r := NewRouter(nil, stubDecider{verdict: policy.Deny, reason: "blocked by rule x"})
	r.upstreams["fs"] = connectInMemoryUpstream(t, "fs", map[string]mcpsdk.ToolHandler{
		"read": staticHandler("hello"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.CallTool(ctx, "fs__read", nil, policy.DecisionContext{AgentID: "a1"})
	if err == nil {
		t.Fatalf("expected policy denial error, got nil")
	}
	var wireErr *jsonrpc.Error
	if !errors.As(err, &wireErr) || wireErr.Code != aegiserr.CodePolicyDenied {
		t.Fatalf("expected JSON-RPC code %d, got %v", aegiserr.CodePolicyDenied, err)
	}
}

func TestRouter_CallTool_PermitsForward(t *testing.T) {
	r := NewRouter(nil, stubDecider{verdict: policy.Permit})
	r.upstreams["fs"] = connectInMemoryUpstream(t, "fs", map[string]mcpsdk.ToolHandler{
		"read": staticHandler("file contents"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := r.CallTool(ctx, "fs__read", map[string]any{}, policy.DecisionContext{AgentID: "a1"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	text, ok := result.Content[0].(*mcpsdk.TextContent)
	if !ok || text.Text != "file contents" {
		t.Fatalf("expected forwarded content 'file contents', got %#v", result.Content)
	}
}

func TestRouter_CallTool_DecidesOnToolCallActionAndPrefixedResource(t *testing.T) {
	decider := &recordingDecider{verdict: policy.Permit}
	r := NewRouter(nil, decider)
	r.upstreams["fs"] = connectInMemoryUpstream(t, "fs", map[string]mcpsdk.ToolHandler{
		"read": staticHandler("file contents"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.CallTool(ctx, "fs__read", map[string]any{}, policy.DecisionContext{AgentID: "a1"}); err != nil {
		t.Fatalf("CallTool: %v", err)
	}

	if decider.got.Action != "tool:call" {
		t.Fatalf("expected action %q, got %q", "tool:call", decider.got.Action)
	}
	if decider.got.Resource != "fs__read" {
		t.Fatalf("expected resource %q, got %q", "fs__read", decider.got.Resource)
	}
}

func TestSplitPrefixedName(t *testing.T) {
	cases := []struct {
		in             string
		wantUp, wantTl string
		wantErr        bool
	}{
		{"fs__read", "fs", "read", false},
		{"fs__nested__read", "fs", "nested__read", false},
		{"noseparator", "", "", true},
		{"__read", "", "", true},
	}
	for _, c := range cases {
		up, tl, err := splitPrefixedName(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("splitPrefixedName(%q): expected error", c.in)
			}
			continue
		}
		if err != nil || up != c.wantUp || tl != c.wantTl {
			t.Errorf("splitPrefixedName(%q) = (%q, %q, %v), want (%q, %q, nil)", c.in, up, tl, err, c.wantUp, c.wantTl)
		}
	}
}
