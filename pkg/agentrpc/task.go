package agentrpc

import (
	"fmt"
	"sync"
	"time"
)

// maxHistoryEntries bounds each task's transition ring buffer (spec.md §3
// "bounded length, oldest dropped").
const maxHistoryEntries = 100

// managedTask pairs a Task with the mutex and cancel func that make its
// lifecycle safe to drive from both the RPC handlers and its own worker
// goroutine (spec.md §4.9 "worker fibers ... holding a *Task behind a
// mutex"; cancellation is the stored cancel func invoked from
// tasks/cancel).
type managedTask struct {
	mu     sync.Mutex
	task   Task
	cancel func()
}

// snapshot returns a copy of the task safe to hand to a caller outside
// the lock.
func (m *managedTask) snapshot() Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.task
	t.History = append([]HistoryEntry(nil), m.task.History...)
	return t
}

// transition moves the task to state newState if validTransition allows
// it, recording the change in history and, for terminal states,
// stamping CompletedAt. It reports whether the transition was applied;
// a false return (current state already terminal, or an out-of-order
// edge) is not itself an error — callers translate it into the
// appropriate RPC response (e.g. tasks/cancel on a finished task).
func (m *managedTask) transition(newState TaskState, result any, taskErr *TaskError) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := validTransition(m.task.State, newState); err != nil {
		return m.task, false
	}

	now := time.Now()
	m.task.State = newState
	m.task.UpdatedAt = now
	if result != nil {
		m.task.Result = result
	}
	if taskErr != nil {
		m.task.Error = taskErr
	}
	if newState.terminal() {
		m.task.CompletedAt = &now
	}

	m.task.History = append(m.task.History, HistoryEntry{State: newState, At: now})
	if len(m.task.History) > maxHistoryEntries {
		m.task.History = m.task.History[len(m.task.History)-maxHistoryEntries:]
	}

	return m.task, true
}

// validTransition reports whether from -> to is an allowed edge in
// spec.md §3's state machine, independent of the ring-buffer bookkeeping
// above; used by tests and by callers that need to pre-validate without
// mutating.
func validTransition(from, to TaskState) error {
	if from.terminal() {
		return fmt.Errorf("task is in terminal state %s, cannot transition to %s", from, to)
	}
	switch to {
	case StateWorking:
		if from != StateSubmitted {
			return fmt.Errorf("cannot transition %s -> %s", from, to)
		}
	case StateCompleted, StateFailed:
		if from != StateWorking {
			return fmt.Errorf("cannot transition %s -> %s", from, to)
		}
	case StateCancelled:
		// any non-terminal state may be cancelled
	default:
		return fmt.Errorf("unknown target state %s", to)
	}
	return nil
}
