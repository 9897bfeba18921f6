package agentrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidateDelegation_AppendsSelfBeforeForwarding(t *testing.T) {
	next, err := validateDelegation([]string{"a", "b"}, "c", 3)
	if err != nil {
		t.Fatalf("validateDelegation: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if next[i] != id {
			t.Fatalf("expected chain %v, got %v", want, next)
		}
	}
}

func TestValidateDelegation_DepthExceeded(t *testing.T) {
	_, err := validateDelegation([]string{"a", "b", "c"}, "d", 3)
	if err == nil || !strings.Contains(err.Error(), "delegation") {
		t.Fatalf("expected a delegation depth error, got %v", err)
	}
}

func TestValidateDelegation_DuplicateRejected(t *testing.T) {
	_, err := validateDelegation([]string{"a", "b"}, "a", 3)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected a duplicate-agent error, got %v", err)
	}
}

func TestDelegator_UnknownTargetFailsWithoutNetworkCall(t *testing.T) {
	d := NewDelegator("coordinator", 3, nil)
	_, err := d.DelegateTask(context.Background(), "missing", nil, nil)
	if err == nil {
		t.Fatalf("expected error for unknown delegation target")
	}
}

func TestDelegator_DepthViolationFailsBeforeOutboundCall(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	d := NewDelegator("d", 3, []KnownTarget{{Name: "worker", URL: ts.URL}})
	_, err := d.DelegateTask(context.Background(), "worker", []string{"a", "b", "c"}, nil)
	if err == nil || !strings.Contains(err.Error(), "delegation") {
		t.Fatalf("expected a delegation error, got %v", err)
	}
	if called {
		t.Fatalf("expected no outbound call on a depth violation")
	}
}

func TestDelegator_SuccessfulCallCarriesExtendedChain(t *testing.T) {
	var gotChain []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		var params struct {
			DelegationChain []string `json:"delegationChain"`
		}
		json.Unmarshal(req.Params, &params)
		gotChain = params.DelegationChain

		resp := RPCResponse{JSONRPC: "2.0", Result: json.RawMessage(`{"taskId":"t1","state":"SUBMITTED"}`)}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	d := NewDelegator("coordinator", 3, []KnownTarget{{Name: "worker", URL: ts.URL}})
	result, err := d.DelegateTask(context.Background(), "worker", []string{"a"}, map[string]any{"prompt": "do it"})
	if err != nil {
		t.Fatalf("DelegateTask: %v", err)
	}
	if result.TaskID != "t1" {
		t.Fatalf("expected taskId t1, got %q", result.TaskID)
	}
	if len(gotChain) != 2 || gotChain[0] != "a" || gotChain[1] != "coordinator" {
		t.Fatalf("expected chain [a coordinator], got %v", gotChain)
	}
}
