package agentrpc

import "testing"

func TestTransition_SubmittedToWorkingToCompleted(t *testing.T) {
	mt := &managedTask{task: Task{ID: "t1", State: StateSubmitted}}

	working, ok := mt.transition(StateWorking, nil, nil)
	if !ok || working.State != StateWorking {
		t.Fatalf("expected transition to WORKING, got %v ok=%v", working.State, ok)
	}
	if working.CompletedAt != nil {
		t.Fatalf("non-terminal state must not set CompletedAt")
	}

	done, ok := mt.transition(StateCompleted, "ok", nil)
	if !ok || done.State != StateCompleted {
		t.Fatalf("expected transition to COMPLETED, got %v ok=%v", done.State, ok)
	}
	if done.CompletedAt == nil {
		t.Fatalf("terminal state must set CompletedAt")
	}
	if len(done.History) != 2 {
		t.Fatalf("expected 2 history entries (working + completed), got %d", len(done.History))
	}
}

func TestTransition_TerminalStateRejectsFurtherTransitions(t *testing.T) {
	mt := &managedTask{task: Task{ID: "t1", State: StateCompleted}}
	_, ok := mt.transition(StateWorking, nil, nil)
	if ok {
		t.Fatalf("expected transition out of a terminal state to be rejected")
	}
}

func TestTransition_CancelFromAnyNonTerminalState(t *testing.T) {
	for _, from := range []TaskState{StateSubmitted, StateWorking} {
		mt := &managedTask{task: Task{ID: "t1", State: from}}
		cancelled, ok := mt.transition(StateCancelled, nil, nil)
		if !ok || cancelled.State != StateCancelled {
			t.Fatalf("expected %s -> CANCELLED to succeed, got %v ok=%v", from, cancelled.State, ok)
		}
		if cancelled.CompletedAt == nil {
			t.Fatalf("CANCELLED is terminal, CompletedAt must be set")
		}
	}
}

func TestTransition_OutOfOrderRejected(t *testing.T) {
	mt := &managedTask{task: Task{ID: "t1", State: StateSubmitted}}
	_, ok := mt.transition(StateCompleted, nil, nil)
	if ok {
		t.Fatalf("expected SUBMITTED -> COMPLETED (skipping WORKING) to be rejected")
	}
}

func TestHistory_CappedAtMax(t *testing.T) {
	mt := &managedTask{task: Task{ID: "t1", State: StateSubmitted}}
	mt.transition(StateWorking, nil, nil)
	// Pad history past the cap directly (no legal edge sequence is that
	// long), then make one real transition so transition's own cap trims it.
	mt.mu.Lock()
	for i := 0; i < maxHistoryEntries+10; i++ {
		mt.task.History = append(mt.task.History, HistoryEntry{State: StateWorking})
	}
	mt.mu.Unlock()
	if _, ok := mt.transition(StateCompleted, nil, nil); !ok {
		t.Fatalf("expected working -> completed to be applied")
	}
	if len(mt.snapshot().History) != maxHistoryEntries {
		t.Fatalf("expected history capped at %d, got %d", maxHistoryEntries, len(mt.snapshot().History))
	}
}
