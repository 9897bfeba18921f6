package mcprouter

import (
	"fmt"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// createTransport builds an SDK transport from an UpstreamConfig,
// grounded on tarsy's pkg/mcp/transport.go createTransport dispatch.
func createTransport(cfg UpstreamConfig) (mcpsdk.Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		return createStdioTransport(cfg)
	case TransportHTTP:
		return createHTTPTransport(cfg)
	default:
		return nil, fmt.Errorf("unsupported upstream transport %q", cfg.Transport)
	}
}

func createStdioTransport(cfg UpstreamConfig) (*mcpsdk.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("stdio upstream %q requires a command", cfg.Name)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func createHTTPTransport(cfg UpstreamConfig) (*mcpsdk.StreamableClientTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http upstream %q requires a url", cfg.Name)
	}
	return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}, nil
}
