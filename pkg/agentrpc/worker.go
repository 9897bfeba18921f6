package agentrpc

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/aegis-proxy/aegis/pkg/aegiserr"
)

// Processor runs a task's actual work (the agentic reasoning loop this
// spec treats as an external collaborator — Aegis is "not a general
// workflow engine", spec.md §1 Non-goals). mcpAgent is nil when the
// Server was built without a ToolCaller.
type Processor interface {
	Process(ctx context.Context, task Task, mcpAgent *MCPAgent) (result any, err error)
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, task Task, mcpAgent *MCPAgent) (any, error)

func (f ProcessorFunc) Process(ctx context.Context, task Task, mcpAgent *MCPAgent) (any, error) {
	return f(ctx, task, mcpAgent)
}

// runWorker is the worker fiber launched by tasks/send (spec.md §4.9): it
// moves the task SUBMITTED -> WORKING, runs the Processor, and finalizes
// into COMPLETED or FAILED. Cancellation is cooperative: ctx is the
// per-task cancellable context stored in managedTask.cancel, and the
// Processor is expected to honor ctx the way any suspension point would
// (spec.md §5 "the worker observes the CANCELLED state and aborts at the
// next suspension").
func (s *Server) runWorker(ctx context.Context, mt *managedTask) {
	working, ok := mt.transition(StateWorking, nil, nil)
	if !ok {
		return // already cancelled before the worker even started
	}
	s.hub.publish(TaskUpdate{TaskID: working.ID, State: working.State, At: working.UpdatedAt, Task: &working})

	var mcpAgent *MCPAgent
	if s.toolCaller != nil {
		mcpAgent = NewMCPAgent(s.toolCaller, working.PolicyContext)
	}

	var processor Processor
	if s.processor != nil {
		processor = s.processor
	} else {
		// Grounded on the teacher's router.Server.Execute: "no executor
		// configured - return success with placeholder" (pkg/router/server.go).
		processor = ProcessorFunc(func(_ context.Context, _ Task, _ *MCPAgent) (any, error) {
			return map[string]any{"message": "no processor configured"}, nil
		})
	}

	result, err := processor.Process(ctx, working, mcpAgent)

	if ctx.Err() != nil {
		return // cancelled mid-flight; tasks/cancel already finalized the state
	}

	if err != nil {
		taskErr := &TaskError{Code: "INTERNAL", Message: err.Error()}
		if isPolicyDenied(err) {
			taskErr.Code = "POLICY_DENIED"
		}
		final, applied := mt.transition(StateFailed, nil, taskErr)
		if applied {
			s.hub.publish(TaskUpdate{TaskID: final.ID, State: final.State, At: final.UpdatedAt, Task: &final})
		}
		return
	}

	final, applied := mt.transition(StateCompleted, result, nil)
	if applied {
		s.hub.publish(TaskUpdate{TaskID: final.ID, State: final.State, At: final.UpdatedAt, Task: &final})
	}
}

// isPolicyDenied reports whether err is (or wraps) a JSON-RPC error
// carrying aegiserr's policy-denied code, the signal that an MCP-enabled
// helper operation was blocked by policy rather than failing for any
// other reason (spec.md §4.9 "policy-denial errors ... surface as task
// FAILED with error.code = POLICY_DENIED").
func isPolicyDenied(err error) bool {
	var wireErr *jsonrpc.Error
	if errors.As(err, &wireErr) && int(wireErr.Code) == aegiserr.CodePolicyDenied {
		return true
	}
	_, ok := aegiserr.IsPolicyDenied(err)
	return ok
}
