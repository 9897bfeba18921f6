package agentrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/aegis-proxy/aegis/pkg/policy"
)

// Config configures a Server's identity, delegation limits, and agent
// card. AgentID is this agent's own name, used as Task.AgentID; outbound
// delegation chains are extended with the selfID given to NewDelegator.
type Config struct {
	AgentID            string
	MaxDelegationDepth int
	MaxConcurrentTasks int
	Card               AgentCard
}

// Server is the Agent RPC Core (C9): one HTTP server exposing POST /rpc,
// GET /tasks/subscribe, GET /health, GET /agent/card, built the way the
// teacher's router.Server embeds a policy-aware executor behind a single
// RPC entry point (pkg/router/server.go), generalized from one-shot
// Execute calls into a task that survives across several RPC round trips.
type Server struct {
	cfg        Config
	mu         sync.RWMutex
	tasks      map[string]*managedTask
	hub        *subscriberHub
	delegator  *Delegator
	toolCaller ToolCaller
	processor  Processor
	inFlight   chan struct{} // capacity = MaxConcurrentTasks, nil means unbounded
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithToolCaller attaches the MCP Router seam so MCP-enabled helper
// operations are available to the configured Processor.
func WithToolCaller(tc ToolCaller) Option {
	return func(s *Server) { s.toolCaller = tc }
}

// WithProcessor attaches the task processor; without one, every task
// completes immediately with a placeholder result.
func WithProcessor(p Processor) Option {
	return func(s *Server) { s.processor = p }
}

// WithDelegator attaches outbound delegation support.
func WithDelegator(d *Delegator) Option {
	return func(s *Server) { s.delegator = d }
}

// NewServer builds a Server.
func NewServer(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		tasks: make(map[string]*managedTask),
		hub:   newSubscriberHub(),
	}
	if cfg.MaxConcurrentTasks > 0 {
		s.inFlight = make(chan struct{}, cfg.MaxConcurrentTasks)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gorilla/mux router exposing this Server's endpoints
// (spec.md §4.9/§6). Promoted gorilla/mux from indirect teacher
// dependency to direct — see DESIGN.md.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/rpc", s.handleRPC).Methods(http.MethodPost)
	r.HandleFunc("/tasks/subscribe", s.handleSubscribe).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/agent/card", s.handleCard).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Card)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleRPC dispatches one JSON-RPC 2.0 request to the matching task
// method (spec.md §6).
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, RPCResponse{JSONRPC: "2.0", Error: &RPCError{Code: -32700, Message: "parse error: " + err.Error()}})
		return
	}

	var (
		result any
		rpcErr *RPCError
	)
	switch req.Method {
	case "tasks/send":
		result, rpcErr = s.rpcTasksSend(r.Context(), req.Params)
	case "tasks/get":
		result, rpcErr = s.rpcTasksGet(req.Params)
	case "tasks/cancel":
		result, rpcErr = s.rpcTasksCancel(req.Params)
	case "agent/card":
		result = s.cfg.Card
	case "health/check":
		result = map[string]any{"status": "ok"}
	default:
		rpcErr = &RPCError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}

	resp := RPCResponse{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &RPCError{Code: -32603, Message: "failed to encode result: " + err.Error()}
		} else {
			resp.Result = raw
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// tasksSendParams is the params shape for tasks/send.
type tasksSendParams struct {
	Prompt          string                 `json:"prompt"`
	Context         map[string]any         `json:"context,omitempty"`
	Priority        Priority               `json:"priority,omitempty"`
	ParentTaskID    string                 `json:"parentTaskId,omitempty"`
	DelegationChain []string               `json:"delegationChain,omitempty"`
	PolicyContext   policy.DecisionContext `json:"policyContext,omitempty"`
}

func (s *Server) rpcTasksSend(ctx context.Context, raw json.RawMessage) (any, *RPCError) {
	var p tasksSendParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &RPCError{Code: -32602, Message: "invalid params: " + err.Error()}
		}
	}
	if p.Priority == "" {
		p.Priority = PriorityNormal
	}

	dc := p.PolicyContext
	dc.AgentID = s.cfg.AgentID
	if len(p.DelegationChain) > 0 {
		dc.DelegationChain = p.DelegationChain
	}

	now := time.Now()
	task := Task{
		ID:            uuid.NewString(),
		ParentTaskID:  p.ParentTaskID,
		AgentID:       s.cfg.AgentID,
		State:         StateSubmitted,
		Prompt:        p.Prompt,
		Context:       p.Context,
		Priority:      p.Priority,
		CreatedAt:     now,
		UpdatedAt:     now,
		PolicyContext: dc,
		History:       []HistoryEntry{{State: StateSubmitted, At: now}},
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	mt := &managedTask{task: task, cancel: cancel}

	s.mu.Lock()
	s.tasks[task.ID] = mt
	s.mu.Unlock()

	s.hub.publish(TaskUpdate{TaskID: task.ID, State: task.State, At: now, Task: &task})

	go s.launchWorker(workerCtx, mt)

	return TaskSendResult{TaskID: task.ID, State: StateSubmitted, AcceptedAt: now.Format(time.RFC3339)}, nil
}

// launchWorker applies the optional concurrency cap before running the
// worker fiber (spec.md §6 MAX_CONCURRENT_REQUESTS).
func (s *Server) launchWorker(ctx context.Context, mt *managedTask) {
	if s.inFlight != nil {
		select {
		case s.inFlight <- struct{}{}:
			defer func() { <-s.inFlight }()
		case <-ctx.Done():
			return
		}
	}
	s.runWorker(ctx, mt)
}

type taskIDParams struct {
	TaskID string `json:"taskId"`
}

func (s *Server) rpcTasksGet(raw json.RawMessage) (any, *RPCError) {
	var p taskIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &RPCError{Code: -32602, Message: "invalid params: " + err.Error()}
	}
	s.mu.RLock()
	mt, ok := s.tasks[p.TaskID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	t := mt.snapshot()
	return t, nil
}

func (s *Server) rpcTasksCancel(raw json.RawMessage) (any, *RPCError) {
	var p taskIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &RPCError{Code: -32602, Message: "invalid params: " + err.Error()}
	}
	s.mu.RLock()
	mt, ok := s.tasks[p.TaskID]
	s.mu.RUnlock()
	if !ok {
		return nil, &RPCError{Code: -32602, Message: fmt.Sprintf("unknown task %q", p.TaskID)}
	}

	final, applied := mt.transition(StateCancelled, nil, nil)
	if !applied {
		return nil, &RPCError{Code: -32603, Message: fmt.Sprintf("task %q is already in terminal state %s", p.TaskID, final.State)}
	}
	mt.cancel()
	s.hub.publish(TaskUpdate{TaskID: final.ID, State: final.State, At: final.UpdatedAt, Task: &final})
	return final, nil
}

// DelegateTask exposes the Server's Delegator (if configured) for a
// Processor to call mid-task; it is not itself an RPC method (spec.md
// §4.9 frames delegateTask as something an agent's own logic invokes,
// not a method callers dial directly).
func (s *Server) DelegateTask(ctx context.Context, targetName string, chain []string, params map[string]any) (*TaskSendResult, error) {
	if s.delegator == nil {
		return nil, fmt.Errorf("no delegator configured")
	}
	return s.delegator.DelegateTask(ctx, targetName, chain, params)
}
