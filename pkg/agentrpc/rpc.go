package agentrpc

import "encoding/json"

// RPCRequest is the JSON-RPC 2.0 request envelope (spec.md §6). No
// JSON-RPC library appears anywhere in the retrieval pack, so this is
// encoded/decoded directly with encoding/json, in the same register the
// teacher decodes its own protobuf-adjacent parameter maps
// (pkg/router/server.go's GetParametersMap-style helpers).
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// RPCError is the `error` member of an RPCResponse.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// TaskSendResult is the result payload of a successful tasks/send call
// (spec.md §4.9).
type TaskSendResult struct {
	TaskID            string    `json:"taskId"`
	State             TaskState `json:"state"`
	AcceptedAt        string    `json:"acceptedAt"`
	EstimatedDuration string    `json:"estimatedDuration,omitempty"`
}
