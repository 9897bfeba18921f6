package main

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aegis-proxy/aegis/pkg/mcprouter"
	"github.com/aegis-proxy/aegis/pkg/policy"
)

// identityFromHeaders decodes spec.md §6's MCP-specific headers into a
// partial DecisionContext. A header that is absent or fails to parse is
// left at its zero value rather than defaulted permissively (spec.md §3
// "missing values are treated as unknown, never as a permissive
// default").
func identityFromHeaders(r *http.Request) policy.DecisionContext {
	dc := policy.DecisionContext{
		AgentID:   r.Header.Get("X-Agent-ID"),
		AgentType: policy.AgentType(strings.ToLower(r.Header.Get("X-Agent-Type"))),
		Timestamp: time.Now(),
		Environment: map[string]string{
			"clientIP": clientIP(r),
		},
	}
	if dc.AgentType == "" {
		dc.AgentType = policy.AgentUnknown
	}

	if raw := r.Header.Get("X-Delegation-Chain"); raw != "" {
		var chain []string
		if err := json.Unmarshal([]byte(raw), &chain); err == nil {
			dc.DelegationChain = chain
		}
	}
	if raw := r.Header.Get("X-Permissions"); raw != "" {
		var perms []string
		if err := json.Unmarshal([]byte(raw), &perms); err == nil {
			dc.Permissions = perms
		}
	}
	if taskID := r.Header.Get("X-Task-ID"); taskID != "" {
		dc.Environment["taskId"] = taskID
	}
	if priority := r.Header.Get("X-Priority"); priority != "" {
		dc.Environment["priority"] = priority
	}
	if instance := r.Header.Get("X-Agent-Instance"); instance != "" {
		dc.Environment["agentInstance"] = instance
	}
	if meta := r.Header.Get("X-Agent-Metadata"); meta != "" {
		var decoded map[string]string
		if err := json.Unmarshal([]byte(meta), &decoded); err == nil {
			for k, v := range decoded {
				dc.Environment["meta."+k] = v
			}
		}
	}
	return dc
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// withIdentityMiddleware attaches the caller identity derived from
// spec.md §6's MCP headers to the request context before handing off to
// next, so every tool call the MCP Router evaluates carries it (spec.md
// §4.8 "on the way in, call C4's decide with a context built from the
// request's agent-identity headers").
func withIdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dc := identityFromHeaders(r)
		ctx := mcprouter.WithIdentity(r.Context(), dc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
