package mcprouter

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aegis-proxy/aegis/pkg/aegiserr"
	"github.com/aegis-proxy/aegis/pkg/enforce/constraints"
	"github.com/aegis-proxy/aegis/pkg/enforce/obligations"
	"github.com/aegis-proxy/aegis/pkg/policy"
)

// asWireError converts an aegiserr.JSONRPCError (the single mapping
// spec.md §7's Propagation policy calls for) into the SDK's own wire
// error type, so every error this router returns to the SDK carries the
// right JSON-RPC code instead of being wrapped as a generic internal error.
func asWireError(e aegiserr.JSONRPCError) *jsonrpc.Error {
	return &jsonrpc.Error{Code: int64(e.Code), Message: e.Message}
}

// Decider evaluates one tool call against the policy engine; cmd/aegisd
// wires this to the Hybrid PDP (pkg/pdp) bound to the live policy
// snapshot. Kept as a narrow interface so this package never imports
// pkg/pdp or pkg/policystore directly (grounded on the Sentinel-Gate
// gateway's policy.PolicyEngine seam).
type Decider interface {
	Decide(ctx context.Context, dc policy.DecisionContext) (policy.Decision, error)
}

// Router multiplexes a set of upstream MCP servers behind one namespace.
type Router struct {
	mu        sync.RWMutex
	upstreams map[string]*upstream

	decider     Decider
	constraints *constraints.Pipeline
	obligations *obligations.Pipeline
}

// Option configures a Router at construction time.
type Option func(*Router)

// WithConstraintPipeline attaches the constraint pipeline applied to
// every permitted tool call's response payload.
func WithConstraintPipeline(p *constraints.Pipeline) Option {
	return func(r *Router) { r.constraints = p }
}

// WithObligationPipeline attaches the obligation pipeline dispatched
// after every decision (both permits and denies carry obligations in
// spec.md's model, e.g. an audit-log duty on a denial).
func WithObligationPipeline(p *obligations.Pipeline) Option {
	return func(r *Router) { r.obligations = p }
}

// NewRouter builds a Router over the given upstream configs. Call Start
// to connect.
func NewRouter(cfgs []UpstreamConfig, decider Decider, opts ...Option) *Router {
	r := &Router{upstreams: make(map[string]*upstream, len(cfgs)), decider: decider}
	for _, cfg := range cfgs {
		r.upstreams[cfg.Name] = newUpstream(cfg)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start connects every configured upstream concurrently. A failing
// upstream is logged and skipped; it does not prevent the router from
// serving the others (spec.md §4.8).
func (r *Router) Start(ctx context.Context) {
	var wg sync.WaitGroup
	r.mu.RLock()
	ups := make([]*upstream, 0, len(r.upstreams))
	for _, u := range r.upstreams {
		ups = append(ups, u)
	}
	r.mu.RUnlock()

	for _, u := range ups {
		wg.Add(1)
		go func(u *upstream) {
			defer wg.Done()
			if err := u.connect(ctx); err != nil {
				log.Printf("mcprouter: upstream %q failed to connect: %v", u.cfg.Name, err)
			}
		}(u)
	}
	wg.Wait()
}

// Close shuts down every upstream session.
func (r *Router) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for name, u := range r.upstreams {
		if err := u.close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close upstream %q: %w", name, err)
		}
	}
	return firstErr
}

// namespacedTool is one discovered tool with its router-visible prefixed
// name (spec.md §4.8 "<upstream>__<tool>").
type namespacedTool struct {
	Upstream string
	Local    string
	Tool     *mcpsdk.Tool
}

// ListTools fans out tools/list to every connected upstream in parallel
// and returns the merged, prefixed result. A failing upstream contributes
// no tools but does not fail the overall call (grounded on tarsy's
// ListAllTools "partial results" contract).
func (r *Router) ListTools(ctx context.Context) ([]namespacedTool, error) {
	r.mu.RLock()
	ups := make([]*upstream, 0, len(r.upstreams))
	for _, u := range r.upstreams {
		ups = append(ups, u)
	}
	r.mu.RUnlock()

	type result struct {
		name  string
		tools []*mcpsdk.Tool
		err   error
	}
	results := make(chan result, len(ups))
	var wg sync.WaitGroup
	for _, u := range ups {
		wg.Add(1)
		go func(u *upstream) {
			defer wg.Done()
			tools, err := u.listTools(ctx)
			results <- result{name: u.cfg.Name, tools: tools, err: err}
		}(u)
	}
	go func() { wg.Wait(); close(results) }()

	var out []namespacedTool
	var anyOK bool
	var lastErr error
	for res := range results {
		if res.err != nil {
			lastErr = res.err
			log.Printf("mcprouter: list tools from %q: %v", res.name, res.err)
			continue
		}
		anyOK = true
		for _, t := range res.tools {
			out = append(out, namespacedTool{Upstream: res.name, Local: t.Name, Tool: t})
		}
	}
	if !anyOK && lastErr != nil {
		return nil, fmt.Errorf("all upstreams failed to list tools: %w", lastErr)
	}
	return out, nil
}

// prefixedName returns the router-visible name for a raw upstream tool.
func prefixedName(upstreamName, toolName string) string {
	return upstreamName + toolPrefixSep + toolName
}

// splitPrefixedName reverses prefixedName, splitting on the first
// occurrence of the separator.
func splitPrefixedName(name string) (upstreamName, toolName string, err error) {
	idx := strings.Index(name, toolPrefixSep)
	if idx <= 0 || idx+len(toolPrefixSep) >= len(name) {
		return "", "", fmt.Errorf("tool name %q is not in '<upstream>%stool' format", name, toolPrefixSep)
	}
	return name[:idx], name[idx+len(toolPrefixSep):], nil
}

// CallTool evaluates dc against the Decider, and on a Permit verdict
// dispatches to the matching upstream, applying the constraint pipeline
// to the result. Every error this method returns has already passed
// through aegiserr.Translate, so the JSON-RPC code on the wire always
// traces back to that one mapping (spec.md §7 Propagation policy). The
// obligation pipeline is dispatched in both the permit and deny cases,
// fire-and-forget (its own goroutines outlive this call).
func (r *Router) CallTool(ctx context.Context, prefixedToolName string, args map[string]any, dc policy.DecisionContext) (*mcpsdk.CallToolResult, error) {
	dc.Action = "tool:call"
	dc.Resource = prefixedToolName
	decision, err := r.decider.Decide(ctx, dc)
	if err != nil {
		return nil, asWireError(aegiserr.Translate(err))
	}

	if r.obligations != nil {
		go r.obligations.Dispatch(context.WithoutCancel(ctx), dc, decision)
	}

	if decision.Verdict == policy.Deny {
		return nil, asWireError(aegiserr.Translate(&aegiserr.PolicyDeniedError{Reason: decision.Reason}))
	}

	upstreamName, toolName, err := splitPrefixedName(prefixedToolName)
	if err != nil {
		return nil, asWireError(aegiserr.Translate(&aegiserr.ValidationError{Field: "tool", Detail: err.Error()}))
	}

	r.mu.RLock()
	u, ok := r.upstreams[upstreamName]
	r.mu.RUnlock()
	if !ok {
		return nil, asWireError(aegiserr.Translate(&aegiserr.ValidationError{Field: "tool", Detail: fmt.Sprintf("unknown upstream %q", upstreamName)}))
	}

	result, err := u.callTool(ctx, toolName, args)
	if err != nil {
		logUpstreamFailure(upstreamName, err)
		return nil, asWireError(aegiserr.Translate(err))
	}

	if r.constraints != nil && len(decision.Constraints) > 0 {
		payload := constraints.Payload{"content": result.Content, "isError": result.IsError}
		ccx := constraints.DecisionContext{AgentID: dc.AgentID, Action: dc.Action, Resource: dc.Resource, ClientIP: dc.Environment["clientIP"]}
		transformed, _, err := r.constraints.Run(ctx, decision.Constraints, payload, ccx)
		if err != nil {
			return nil, asWireError(aegiserr.Translate(err))
		}
		if content, ok := transformed["content"].([]mcpsdk.Content); ok {
			result.Content = content
		}
		if isErr, ok := transformed["isError"].(bool); ok {
			result.IsError = isErr
		}
	}

	return result, nil
}
