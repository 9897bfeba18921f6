package mcprouter

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// upstream owns one connected (or reconnecting) upstream MCP server.
// Grounded on tarsy's pkg/mcp/client.go Client, narrowed to a single
// server since the router's fan-out already happens one level up.
type upstream struct {
	cfg UpstreamConfig

	mu       sync.RWMutex
	client   *mcpsdk.Client
	session  *mcpsdk.ClientSession
	restarts int
	lastErr  error
}

func newUpstream(cfg UpstreamConfig) *upstream {
	return &upstream{cfg: cfg}
}

// connect establishes the initial session. Returns an error if the
// session cannot be established even once; callers treat that upstream
// as failed but continue initializing the rest (spec.md §4.8 "a failing
// upstream does not prevent the router from serving the others").
func (u *upstream) connect(ctx context.Context) error {
	transport, err := createTransport(u.cfg)
	if err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "aegis-router", Version: "1"}, nil)
	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("connect upstream %q: %w", u.cfg.Name, err)
	}

	u.mu.Lock()
	u.client = client
	u.session = session
	u.lastErr = nil
	u.mu.Unlock()
	return nil
}

func (u *upstream) currentSession() (*mcpsdk.ClientSession, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.session, u.session != nil
}

// listTools lists the upstream's raw (unprefixed) tools.
func (u *upstream) listTools(ctx context.Context) ([]*mcpsdk.Tool, error) {
	session, ok := u.currentSession()
	if !ok {
		return nil, fmt.Errorf("upstream %q has no active session", u.cfg.Name)
	}
	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", u.cfg.Name, err)
	}
	return result.Tools, nil
}

// callTool invokes a raw (unprefixed) tool on the upstream, retrying
// once with a fresh session on a transport-classified failure (grounded
// on tarsy's pkg/mcp/client.go CallTool retry path).
func (u *upstream) callTool(ctx context.Context, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	result, err := u.callOnce(ctx, toolName, args)
	if err == nil {
		return result, nil
	}
	if classifyError(err) != retryNewSession {
		return nil, err
	}

	backoff := retryBackoffMin + time.Duration(rand.Int63n(int64(retryBackoffMax-retryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := u.reconnect(ctx); err != nil {
		return nil, fmt.Errorf("reconnect upstream %q after failure: %w", u.cfg.Name, err)
	}
	return u.callOnce(ctx, toolName, args)
}

func (u *upstream) callOnce(ctx context.Context, toolName string, args map[string]any) (*mcpsdk.CallToolResult, error) {
	session, ok := u.currentSession()
	if !ok {
		return nil, fmt.Errorf("upstream %q has no active session", u.cfg.Name)
	}
	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()
	return session.CallTool(opCtx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
}

// reconnect tears down the existing session and dials a new one,
// counting restarts: once an upstream has been restarted maxRestarts
// times, every further reconnect fails. The count is never reset, and the
// only delay is the jittered backoff callTool waits before calling this.
func (u *upstream) reconnect(ctx context.Context) error {
	u.mu.Lock()
	if u.session != nil {
		_ = u.session.Close()
		u.session = nil
	}
	u.restarts++
	restarts := u.restarts
	u.mu.Unlock()

	if restarts > maxRestarts {
		return fmt.Errorf("upstream %q exceeded %d restart attempts", u.cfg.Name, maxRestarts)
	}

	reinitCtx, cancel := context.WithTimeout(ctx, reinitTimeout)
	defer cancel()
	if err := u.connect(reinitCtx); err != nil {
		u.mu.Lock()
		u.lastErr = err
		u.mu.Unlock()
		return err
	}
	return nil
}

func (u *upstream) close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session == nil {
		return nil
	}
	err := u.session.Close()
	u.session = nil
	return err
}

func (u *upstream) healthy() bool {
	_, ok := u.currentSession()
	return ok
}

func logUpstreamFailure(name string, err error) {
	log.Printf("mcprouter: upstream %q call failed: %v", name, err)
}
