// Package llmjudge implements the LLM Judgment Adapter (C2): a thin,
// vendor-neutral interface the Hybrid PDP calls for natural-language
// policies or as a confidence-weighted second opinion alongside the
// declarative engine.
//
// No concrete vendor client ships here — the LLM provider integration is
// explicitly out of scope per spec.md §1 — but FailSafe enforces the
// timeout and response-shape guarantees regardless of which Client a
// deployment plugs in.
package llmjudge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aegis-proxy/aegis/pkg/policy"
)

// Judgment is an LLM-produced opinion on a single DecisionContext against
// a natural-language policy, shaped to merge with a declarative Decision
// in the Hybrid PDP's confidence-weighted combination (spec.md §4.4).
type Judgment struct {
	Verdict    policy.Verdict `json:"verdict"`
	Reason     string         `json:"reason"`
	Confidence float64        `json:"confidence"`
}

// Client is implemented by a concrete LLM provider integration. Judge
// receives the natural-language policy text and the context to evaluate
// it against, and must return within ctx's deadline.
type Client interface {
	Judge(ctx context.Context, policyText string, dc policy.DecisionContext) (Judgment, error)
}

// BatchClient is an optional Client capability for providers that can
// evaluate several contexts against the same policy text in one round
// trip. pkg/pdp does not use it; the PDP calls Judge once per decision.
type BatchClient interface {
	Client
	Batch(ctx context.Context, policyText string, dcs []policy.DecisionContext) ([]Judgment, error)
}

// FailSafe wraps a Client with the 15s default timeout (spec.md §5) and
// strict response-shape validation, so a misbehaving provider integration
// degrades to Indeterminate rather than corrupting a decision.
type FailSafe struct {
	Client  Client
	Timeout time.Duration
}

// NewFailSafe builds a FailSafe with spec.md's 15s default timeout.
func NewFailSafe(client Client) *FailSafe {
	return &FailSafe{Client: client, Timeout: 15 * time.Second}
}

// Judge calls the wrapped Client under a bounded timeout. Any error,
// including a deadline exceeded, is reported as Indeterminate rather than
// propagated, matching spec.md §7's "LLM provider errors never fail
// open" rule: the Hybrid PDP treats Indeterminate as DENY-weighted.
func (f *FailSafe) Judge(ctx context.Context, policyText string, dc policy.DecisionContext) Judgment {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	j, err := f.Client.Judge(ctx, policyText, dc)
	if err != nil {
		return Judgment{Verdict: policy.Indeterminate, Reason: fmt.Sprintf("llm judge error: %v", err), Confidence: 0}
	}
	if err := validate(j); err != nil {
		return Judgment{Verdict: policy.Indeterminate, Reason: fmt.Sprintf("llm response invalid: %v", err), Confidence: 0}
	}
	return j
}

func validate(j Judgment) error {
	if j.Confidence < 0 || j.Confidence > 1 {
		return errors.New("confidence out of [0,1] range")
	}
	switch j.Verdict {
	case policy.Permit, policy.Deny, policy.Indeterminate, policy.NotApplicable:
	default:
		return errors.New("unrecognized verdict")
	}
	return nil
}

// StaticClient is a test double returning a fixed Judgment regardless of
// input, or an error if Err is set.
type StaticClient struct {
	Result Judgment
	Err    error
	Delay  time.Duration
}

func (s *StaticClient) Judge(ctx context.Context, _ string, _ policy.DecisionContext) (Judgment, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return Judgment{}, ctx.Err()
		}
	}
	if s.Err != nil {
		return Judgment{}, s.Err
	}
	return s.Result, nil
}

// SchemaValidatingClient decorates a Client with a strict-struct decode
// round trip: the Judgment the wrapped client returns is re-marshaled and
// decoded again with unknown fields disallowed. Since the wrapped client
// already returns a typed Judgment, the round trip only ever sees
// Judgment's own three fields; extra or mistyped fields in a provider's
// raw response never reach it and are not detected here. No JSON Schema
// library is used; the payload shape is fully described by the Judgment
// struct tags.
type SchemaValidatingClient struct {
	Inner Client
}

func (s *SchemaValidatingClient) Judge(ctx context.Context, policyText string, dc policy.DecisionContext) (Judgment, error) {
	j, err := s.Inner.Judge(ctx, policyText, dc)
	if err != nil {
		return Judgment{}, err
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return Judgment{}, err
	}
	var reencoded Judgment
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&reencoded); err != nil {
		return Judgment{}, fmt.Errorf("llm response failed strict decode: %w", err)
	}
	return reencoded, nil
}
