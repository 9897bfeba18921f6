package agentrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultMaxDelegationDepth is spec.md §4.9's default chain-length cap.
const DefaultMaxDelegationDepth = 3

// validateDelegation enforces spec.md §4.9's two delegation invariants
// against the chain as it would look *after* appending selfID: length
// must stay within maxDepth, and no agent may appear twice. Both checks
// run synchronously before any outbound call is attempted.
func validateDelegation(chain []string, selfID string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDelegationDepth
	}
	next := append(append([]string(nil), chain...), selfID)

	if len(next) > maxDepth {
		return nil, fmt.Errorf("delegation chain depth %d exceeds max %d", len(next), maxDepth)
	}
	seen := make(map[string]bool, len(next))
	for _, id := range next {
		if seen[id] {
			return nil, fmt.Errorf("delegation chain contains duplicate agent %q", id)
		}
		seen[id] = true
	}
	return next, nil
}

// KnownTarget is a delegation target registered at startup; spec.md
// §4.9 requires the target URL be known in advance rather than
// accepted as free-form caller input.
type KnownTarget struct {
	Name string
	URL  string
}

// Delegator performs outbound tasks/send calls to known target agents,
// appending this agent's own ID to the delegation chain before the call
// (spec.md §9 Open Question: "append before forwarding").
type Delegator struct {
	selfID   string
	maxDepth int
	targets  map[string]KnownTarget
	client   *http.Client
}

// NewDelegator builds a Delegator. targets is the full set of agents
// this instance is allowed to delegate to, keyed by name, fixed at
// startup per spec.md §4.9.
func NewDelegator(selfID string, maxDepth int, targets []KnownTarget) *Delegator {
	m := make(map[string]KnownTarget, len(targets))
	for _, t := range targets {
		m[t.Name] = t
	}
	return &Delegator{selfID: selfID, maxDepth: maxDepth, targets: m, client: &http.Client{Timeout: 30 * time.Second}}
}

// DelegateTask sends a tasks/send JSON-RPC call to the named target,
// with the caller's delegation chain extended by this agent's ID. It
// fails synchronously, before any network call, on a chain-depth or
// duplicate violation — the error message always contains "delegation"
// per spec.md §8 scenario 5.
func (d *Delegator) DelegateTask(ctx context.Context, targetName string, chain []string, params map[string]any) (*TaskSendResult, error) {
	target, ok := d.targets[targetName]
	if !ok {
		return nil, fmt.Errorf("delegation target %q is not known at startup", targetName)
	}

	nextChain, err := validateDelegation(chain, d.selfID, d.maxDepth)
	if err != nil {
		return nil, fmt.Errorf("delegation rejected: %w", err)
	}

	body := params
	if body == nil {
		body = map[string]any{}
	}
	body["delegationChain"] = nextChain

	rawParams, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode delegated tasks/send params: %w", err)
	}
	req := RPCRequest{JSONRPC: "2.0", Method: "tasks/send", Params: rawParams, ID: json.RawMessage(`1`)}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode delegated tasks/send: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build delegated request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("delegated call to %q failed: %w", targetName, err)
	}
	defer resp.Body.Close()

	var rpcResp RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode delegated response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("delegated tasks/send error: %s", rpcResp.Error.Message)
	}

	var result TaskSendResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode tasks/send result: %w", err)
	}
	return &result, nil
}
