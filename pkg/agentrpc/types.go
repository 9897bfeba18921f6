// Package agentrpc implements the Agent RPC Core (C9): one HTTP server
// per agent exposing a JSON-RPC task surface (spec.md §4.9), the task
// lifecycle state machine, delegation-chain propagation, and the
// MCP-enabled agent helper operations that route through the MCP Router
// (C8) before touching a downstream tool server.
//
// The RPC surface and task bookkeeping follow the teacher's router.Server
// (pkg/router/server.go): decode request, evaluate identity/policy,
// deny/allow, dispatch to an executor. That shape is reused here with the
// wire protocol swapped from gRPC/protobuf to JSON-RPC 2.0 over HTTP, and
// the single stateless Execute call generalized into a task that survives
// across multiple RPC round trips (send, get, cancel, subscribe).
package agentrpc

import (
	"time"

	"github.com/aegis-proxy/aegis/pkg/policy"
)

// TaskState is a node in the task lifecycle state machine (spec.md §3/§4.9).
type TaskState string

const (
	StateSubmitted TaskState = "SUBMITTED"
	StateWorking   TaskState = "WORKING"
	StateCompleted TaskState = "COMPLETED"
	StateFailed    TaskState = "FAILED"
	StateCancelled TaskState = "CANCELLED"
)

// terminal reports whether a state accepts no further transitions.
func (s TaskState) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Priority is the caller-asserted urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// TaskError is the structured error a failed task carries; Code mirrors
// the JSON-RPC error codes where one applies (e.g. "POLICY_DENIED" per
// spec.md §4.9's MCP-enabled-agent denial surfacing), but is a short
// symbolic string rather than a numeric JSON-RPC code since it rides
// inside a Task, not a JSON-RPC envelope.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HistoryEntry is one state transition recorded in a task's bounded ring
// buffer (spec.md §3 "every state change appends an entry").
type HistoryEntry struct {
	State TaskState `json:"state"`
	At    time.Time `json:"at"`
}

// Task is the unit of work the Agent RPC Core owns end to end (spec.md
// §3). PolicyContext is a snapshot of the DecisionContext in effect when
// the task was submitted, including the delegation chain the task
// inherited; it is never mutated once the task starts processing, so
// MCP-enabled helper calls always see a consistent identity.
type Task struct {
	ID            string                 `json:"id"`
	ParentTaskID  string                 `json:"parentTaskId,omitempty"`
	AgentID       string                 `json:"agentId"`
	State         TaskState              `json:"state"`
	Prompt        string                 `json:"prompt"`
	Context       map[string]any         `json:"context,omitempty"`
	Priority      Priority               `json:"priority"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	CompletedAt   *time.Time             `json:"completedAt,omitempty"`
	Result        any                    `json:"result,omitempty"`
	Error         *TaskError             `json:"error,omitempty"`
	PolicyContext policy.DecisionContext `json:"policyContext"`
	History       []HistoryEntry         `json:"history"`
}

// TaskUpdate is the event published to SSE subscribers and appended to
// history on every transition (spec.md §4.9).
type TaskUpdate struct {
	TaskID string    `json:"taskId"`
	State  TaskState `json:"state"`
	At     time.Time `json:"at"`
	Task   *Task     `json:"task,omitempty"`
}

// Provider is the `provider` sub-object of an agent card.
type Provider struct {
	Organization string `json:"organization"`
	URL          string `json:"url"`
}

// Capabilities is the `capabilities` sub-object of an agent card.
type Capabilities struct {
	Streaming              bool     `json:"streaming"`
	PushNotifications      bool     `json:"pushNotifications"`
	StateTransitionHistory bool     `json:"stateTransitionHistory"`
	MaxConcurrentTasks     int      `json:"maxConcurrentTasks"`
	SupportedTaskTypes     []string `json:"supportedTaskTypes,omitempty"`
}

// AgentCard is the capabilities document returned by GET /agent/card
// (spec.md §6).
type AgentCard struct {
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	URL          string         `json:"url"`
	Provider     Provider       `json:"provider"`
	Capabilities Capabilities   `json:"capabilities"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
