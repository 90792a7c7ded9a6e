// Package events fans out process and node changes to in-process listeners
// (the SSE endpoint and the watch TUI). Late subscribers can replay a bounded
// backlog.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the dispatcher. Process events are
// ProcessPrefix followed by the lower-cased state, e.g. "process.running".
// Agent commands published for HTTP-only agents are AgentPrefix followed by
// the operation, e.g. "agent.dispatch".
const (
	ProcessPrefix = "process."
	AgentPrefix   = "agent."
	TypeNodeState = "node.state"
	TypeHeartbeat = "engine.heartbeat"
)

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a ring buffer for replay.
type Hub struct {
	nextID atomic.Int64

	mu      sync.Mutex
	backlog []Event
	head    int
	count   int

	subscribers map[int]chan Event
	nextSub     int
	subBuffer   int
}

// NewHub creates a hub keeping the last capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		backlog:     make([]Event, capacity),
		subscribers: make(map[int]chan Event),
		subBuffer:   128,
	}
}

// Publish records an event and offers it to every subscriber. Subscribers
// that are not keeping up miss the event; they can recover it with Since.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   time.Now().UTC(),
		Data: payload,
	}
	h.record(ev)
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe returns a channel of new events and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSub
	h.nextSub++
	ch := make(chan Event, h.subBuffer)
	h.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subscribers, id)
			close(ch)
		})
	}
	return ch, cancel
}

// Since returns buffered events with ID > lastID, oldest first.
func (h *Hub) Since(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.count)
	for i := 0; i < h.count; i++ {
		ev := h.backlog[(h.head+i)%len(h.backlog)]
		if ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers is the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *Hub) record(ev Event) {
	size := len(h.backlog)
	if h.count < size {
		h.backlog[(h.head+h.count)%size] = ev
		h.count++
		return
	}
	// Full: overwrite the oldest.
	h.backlog[h.head] = ev
	h.head = (h.head + 1) % size
}
