package mcprouter

import (
	"context"

	"github.com/aegis-proxy/aegis/pkg/policy"
)

type identityCtxKey struct{}

// WithIdentity attaches a partial DecisionContext (agent identity,
// delegation chain, permissions, clearance) to ctx; the HTTP/stdio
// transport layer populates this once per inbound session before
// forwarding requests into the Router (spec.md §4.9 identity headers
// carried as X-Agent-ID / X-Delegation-Chain / X-Permissions).
func WithIdentity(ctx context.Context, dc policy.DecisionContext) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, dc)
}

// IdentityFromContext returns the identity attached by WithIdentity, or
// the zero DecisionContext if none was attached.
func IdentityFromContext(ctx context.Context) policy.DecisionContext {
	dc, _ := ctx.Value(identityCtxKey{}).(policy.DecisionContext)
	return dc
}
