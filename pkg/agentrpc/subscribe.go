package agentrpc

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleSubscribe streams TaskUpdate events for one task as
// text/event-stream frames (spec.md §6 "GET /tasks/subscribe?taskId=
// <id>&includeHistory=true|false"). SSE is hand-written over
// http.Flusher rather than a library: the only SSE dependency anywhere
// in the retrieval pack (gin-contrib/sse) is bound to the Gin framework,
// which nothing else in this repo uses.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("taskId")
	if taskID == "" {
		http.Error(w, "taskId is required", http.StatusBadRequest)
		return
	}
	includeHistory := r.URL.Query().Get("includeHistory") == "true"

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, unsubscribe := s.hub.subscribe(taskID)
	defer unsubscribe()

	if includeHistory {
		s.mu.RLock()
		mt, ok := s.tasks[taskID]
		s.mu.RUnlock()
		if ok {
			t := mt.snapshot()
			for _, h := range t.History {
				writeSSEEvent(w, TaskUpdate{TaskID: taskID, State: h.State, At: h.At})
			}
			flusher.Flush()
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case update, open := <-ch:
			if !open {
				return
			}
			writeSSEEvent(w, update)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, u TaskUpdate) {
	raw, err := json.Marshal(u)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", raw)
}
