package aegiserr

// JSONRPCError is the {code, message, data} shape spec.md §6 fixes for
// the wire protocol's error member.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSON-RPC error codes spec.md §6 names explicitly, plus the standard
// -32700/-32600/-32602 parse/invalid-request/invalid-params codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodePolicyDenied   = -32001
)

// Translate maps an internal error to the JSON-RPC error shape the MCP
// Router returns for every failed tool call, so the mapping in spec.md
// §7's "Propagation policy" has one place to audit. pkg/agentrpc does not
// call it; it builds its own RPC error values.
func Translate(err error) JSONRPCError {
	if err == nil {
		return JSONRPCError{Code: CodeInternal, Message: "unknown error"}
	}

	switch e := err.(type) {
	case *PolicyDeniedError:
		return JSONRPCError{Code: CodePolicyDenied, Message: "Policy denied: " + e.Reason, Data: map[string]any{"policyUid": e.PolicyUID}}
	case *PolicyIndeterminateError:
		return JSONRPCError{Code: CodePolicyDenied, Message: "Policy denied: indeterminate (" + e.Reason + ")"}
	case *ConstraintViolationError:
		return JSONRPCError{
			Code:    CodeInternal,
			Message: "Constraint violation: " + e.Violation,
			Data: map[string]any{
				"stage":      e.Stage,
				"retryAfter": e.RetryAfter.String(),
			},
		}
	case *UpstreamTimeoutError:
		return JSONRPCError{Code: CodeInternal, Message: "Upstream timeout: " + e.Upstream}
	case *UpstreamUnavailableError:
		return JSONRPCError{Code: CodeInternal, Message: "Upstream unavailable: " + e.Upstream}
	case *ObligationFailureError:
		return JSONRPCError{Code: CodeInternal, Message: "Obligation failed: " + e.Obligation}
	case *ConfigurationError:
		return JSONRPCError{Code: CodeInvalidRequest, Message: err.Error()}
	case *ValidationError:
		return JSONRPCError{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return JSONRPCError{Code: CodeInternal, Message: err.Error()}
	}
}
