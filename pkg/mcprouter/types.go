// Package mcprouter implements the MCP Router (C8): it multiplexes one
// logical MCP tool namespace over a set of upstream MCP servers (stdio
// child processes or HTTP endpoints), name-prefixing every discovered
// tool as "<upstream>__<tool>" and gating every tools/call through the
// Hybrid PDP before it reaches an upstream.
//
// Grounded on the teacher's router/server.go Execute flow for the
// intercept-then-forward shape, on codeready-toolchain-tarsy's pkg/mcp
// (client.go, transport.go, recovery.go) for the modelcontextprotocol
// go-sdk wiring and crash-restart classification, and on the
// Sentinel-Gate MCP gateway's PolicyInterceptor for the "evaluate, then
// forward to next" interceptor shape.
package mcprouter

import "time"

// TransportType selects how an upstream MCP server is reached.
type TransportType string

const (
	TransportStdio TransportType = "stdio"
	TransportHTTP  TransportType = "http"
)

// UpstreamConfig describes one upstream MCP server (spec.md §4.8
// "{name, transport, command|url, args, env}").
type UpstreamConfig struct {
	Name      string            `yaml:"name" json:"name"`
	Transport TransportType     `yaml:"transport" json:"transport"`
	Command   string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	URL       string            `yaml:"url,omitempty" json:"url,omitempty"`
}

// Recovery/timeout tuning, grounded on tarsy's pkg/mcp/recovery.go constants.
const (
	initTimeout      = 30 * time.Second
	operationTimeout = 90 * time.Second
	reinitTimeout    = 10 * time.Second
	retryBackoffMin  = 250 * time.Millisecond
	retryBackoffMax  = 750 * time.Millisecond
	maxRestarts      = 5
)

// toolPrefixSep is the router's name-prefixing separator (spec.md §4.8
// "<upstream>__<tool>").
const toolPrefixSep = "__"
