package mcprouter

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// BuildServer discovers every upstream's tools and registers them on a
// fresh mcpsdk.Server under their prefixed names, each wired to
// Router.CallTool. Call Start before BuildServer so the upstream
// sessions exist to list tools from.
func (r *Router) BuildServer(ctx context.Context, name, version string) (*mcpsdk.Server, error) {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: version}, nil)

	tools, err := r.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("build router server: %w", err)
	}

	for _, nt := range tools {
		full := prefixedName(nt.Upstream, nt.Local)
		proxied := &mcpsdk.Tool{
			Name:        full,
			Description: nt.Tool.Description,
			InputSchema: nt.Tool.InputSchema,
		}
		server.AddTool(proxied, r.toolHandler(full))
	}

	return server, nil
}

// toolHandler closes over a prefixed tool name and proxies CallTool
// through the Router, pulling caller identity from context (set by the
// transport layer via WithIdentity).
func (r *Router) toolHandler(fullName string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		dc := IdentityFromContext(ctx)
		return r.CallTool(ctx, fullName, req.Params.Arguments, dc)
	}
}
