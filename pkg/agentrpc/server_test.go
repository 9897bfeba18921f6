package agentrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func doRPC(t *testing.T, h http.Handler, method string, params any) RPCResponse {
	t.Helper()
	rawParams, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	req := RPCRequest{JSONRPC: "2.0", Method: method, Params: rawParams, ID: json.RawMessage(`1`)}
	body, _ := json.Marshal(req)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	h.ServeHTTP(w, r)

	var resp RPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v, body=%s", err, w.Body.String())
	}
	return resp
}

func waitForState(t *testing.T, s *Server, taskID string, want TaskState) Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp := doRPC(t, s.Router(), "tasks/get", taskIDParams{TaskID: taskID})
		var task Task
		if len(resp.Result) > 0 {
			json.Unmarshal(resp.Result, &task)
		}
		if task.State == want {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %q never reached state %s", taskID, want)
	return Task{}
}

func TestServer_TasksSendDefaultsToPlaceholderCompletion(t *testing.T) {
	s := NewServer(Config{AgentID: "agent-a"})
	resp := doRPC(t, s.Router(), "tasks/send", tasksSendParams{Prompt: "hello"})
	if resp.Error != nil {
		t.Fatalf("tasks/send error: %+v", resp.Error)
	}
	var sent TaskSendResult
	json.Unmarshal(resp.Result, &sent)
	if sent.State != StateSubmitted {
		t.Fatalf("expected immediate state SUBMITTED, got %s", sent.State)
	}

	task := waitForState(t, s, sent.TaskID, StateCompleted)
	if task.CompletedAt == nil {
		t.Fatalf("expected CompletedAt set on COMPLETED task")
	}
}

func TestServer_TasksSendWithFailingProcessor(t *testing.T) {
	s := NewServer(Config{AgentID: "agent-a"}, WithProcessor(ProcessorFunc(func(_ context.Context, _ Task, _ *MCPAgent) (any, error) {
		return nil, errFailing
	})))
	resp := doRPC(t, s.Router(), "tasks/send", tasksSendParams{Prompt: "hello"})
	var sent TaskSendResult
	json.Unmarshal(resp.Result, &sent)

	task := waitForState(t, s, sent.TaskID, StateFailed)
	if task.Error == nil || task.Error.Code != "INTERNAL" {
		t.Fatalf("expected an INTERNAL task error, got %+v", task.Error)
	}
}

func TestServer_TasksCancel(t *testing.T) {
	block := make(chan struct{})
	s := NewServer(Config{AgentID: "agent-a"}, WithProcessor(ProcessorFunc(func(ctx context.Context, _ Task, _ *MCPAgent) (any, error) {
		<-block
		<-ctx.Done()
		return nil, ctx.Err()
	})))
	resp := doRPC(t, s.Router(), "tasks/send", tasksSendParams{Prompt: "hello"})
	var sent TaskSendResult
	json.Unmarshal(resp.Result, &sent)

	waitForState(t, s, sent.TaskID, StateWorking)

	cancelResp := doRPC(t, s.Router(), "tasks/cancel", taskIDParams{TaskID: sent.TaskID})
	if cancelResp.Error != nil {
		t.Fatalf("tasks/cancel error: %+v", cancelResp.Error)
	}
	close(block)

	var task Task
	json.Unmarshal(cancelResp.Result, &task)
	if task.State != StateCancelled {
		t.Fatalf("expected CANCELLED, got %s", task.State)
	}
}

func TestServer_TasksCancel_AlreadyTerminalErrors(t *testing.T) {
	s := NewServer(Config{AgentID: "agent-a"})
	resp := doRPC(t, s.Router(), "tasks/send", tasksSendParams{Prompt: "hello"})
	var sent TaskSendResult
	json.Unmarshal(resp.Result, &sent)
	waitForState(t, s, sent.TaskID, StateCompleted)

	cancelResp := doRPC(t, s.Router(), "tasks/cancel", taskIDParams{TaskID: sent.TaskID})
	if cancelResp.Error == nil {
		t.Fatalf("expected error cancelling an already-terminal task")
	}
}

func TestServer_AgentCardAndHealth(t *testing.T) {
	s := NewServer(Config{AgentID: "agent-a", Card: AgentCard{Name: "agent-a", Capabilities: Capabilities{Streaming: true}}})

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/agent/card", nil))
	var card AgentCard
	json.Unmarshal(w.Body.Bytes(), &card)
	if card.Name != "agent-a" || !card.Capabilities.Streaming {
		t.Fatalf("unexpected agent card: %+v", card)
	}

	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", w.Code)
	}
}

func TestServer_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	s := NewServer(Config{AgentID: "agent-a"})
	resp := doRPC(t, s.Router(), "tasks/bogus", map[string]any{})
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected -32601 method not found, got %+v", resp.Error)
	}
}

var errFailing = &testErr{"processor failed"}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
