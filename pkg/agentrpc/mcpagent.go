package agentrpc

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aegis-proxy/aegis/pkg/policy"
)

// mcpCallTimeout is spec.md §5's per-call MCP timeout.
const mcpCallTimeout = 30 * time.Second

// ToolCaller is the seam an MCP-enabled agent calls through; satisfied
// by *mcprouter.Router (C8) without agentrpc importing mcprouter's
// upstream-management internals, mirroring the Decider seam mcprouter
// itself uses to stay decoupled from pkg/pdp.
type ToolCaller interface {
	CallTool(ctx context.Context, prefixedToolName string, args map[string]any, dc policy.DecisionContext) (*mcpsdk.CallToolResult, error)
}

// MCPAgent wraps a ToolCaller with the four helper operations spec.md
// §4.9 names, pre-populating each call's identity/delegation/permission
// context from the owning task's policy context snapshot so every
// downstream tool call is gated by C8's policy check exactly as if the
// agent were any other MCP client.
type MCPAgent struct {
	caller ToolCaller
	dc     policy.DecisionContext
}

// NewMCPAgent binds a ToolCaller to one task's policy context.
func NewMCPAgent(caller ToolCaller, dc policy.DecisionContext) *MCPAgent {
	return &MCPAgent{caller: caller, dc: dc}
}

func (a *MCPAgent) call(ctx context.Context, tool string, args map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
	defer cancel()

	result, err := a.caller.CallTool(ctx, tool, args, a.dc)
	if err != nil {
		return "", err
	}
	var text string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			text += tc.Text
		}
	}
	if result.IsError {
		return "", fmt.Errorf("tool %q reported an error: %s", tool, text)
	}
	return text, nil
}

// ReadFile calls the <upstream>__read_file tool (or whatever filesystem
// upstream is wired under the "fs" prefix).
func (a *MCPAgent) ReadFile(ctx context.Context, upstream, path string) (string, error) {
	return a.call(ctx, upstream+"__read_file", map[string]any{"path": path})
}

// WriteFile calls the filesystem upstream's write_file tool.
func (a *MCPAgent) WriteFile(ctx context.Context, upstream, path, content string) (string, error) {
	return a.call(ctx, upstream+"__write_file", map[string]any{"path": path, "content": content})
}

// ListDirectory calls the filesystem upstream's list_directory tool.
func (a *MCPAgent) ListDirectory(ctx context.Context, upstream, path string) (string, error) {
	return a.call(ctx, upstream+"__list_directory", map[string]any{"path": path})
}

// ExecuteCommand calls the shell/exec upstream's execute_command tool.
func (a *MCPAgent) ExecuteCommand(ctx context.Context, upstream, command string, args []string) (string, error) {
	return a.call(ctx, upstream+"__execute_command", map[string]any{"command": command, "args": args})
}
