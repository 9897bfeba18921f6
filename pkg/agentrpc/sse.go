package agentrpc

import "sync"

// subscriberHub fans out TaskUpdate events to live SSE subscribers,
// keyed by task ID. Hand-rolled over channels rather than a pub/sub
// library: the only SSE-adjacent dependency anywhere in the retrieval
// pack (gin-contrib/sse) is bound to the Gin framework, which nothing
// else in this repo uses.
type subscriberHub struct {
	mu   sync.Mutex
	subs map[string]map[chan TaskUpdate]struct{}
}

func newSubscriberHub() *subscriberHub {
	return &subscriberHub{subs: make(map[string]map[chan TaskUpdate]struct{})}
}

// subscribe registers a new channel for taskID and returns it along with
// an unsubscribe func the caller must defer.
func (h *subscriberHub) subscribe(taskID string) (chan TaskUpdate, func()) {
	ch := make(chan TaskUpdate, 16)
	h.mu.Lock()
	if h.subs[taskID] == nil {
		h.subs[taskID] = make(map[chan TaskUpdate]struct{})
	}
	h.subs[taskID][ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		delete(h.subs[taskID], ch)
		if len(h.subs[taskID]) == 0 {
			delete(h.subs, taskID)
		}
		h.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}

// publish delivers an update to every live subscriber of its task,
// dropping the event for any subscriber whose channel is full rather
// than blocking the publisher (a slow SSE client must not stall task
// processing).
func (h *subscriberHub) publish(u TaskUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[u.TaskID] {
		select {
		case ch <- u:
		default:
		}
	}
}
