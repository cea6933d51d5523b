package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/betterme-app/betterme/internal/app/state"
	"github.com/betterme-app/betterme/internal/domain"
)

// ─── Live Event Feed ────────────────────────────────────────────────────────
// Delivered via SSE on GET /api/events:
//   event: state_changed  {origin, state}
//   event: alert          {count, next}
//   event: dismiss        {}

// Event types published by the hub.
const (
	EventStateChanged = "state_changed"
	EventAlert        = "alert"
	EventDismiss      = "dismiss"
)

// HubEvent is a single message on the live feed.
type HubEvent struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp int64       `json:"timestamp"` // epoch ms
	Data      interface{} `json:"data,omitempty"`
}

// Hub fans events out to connected SSE clients. It doubles as a
// domain.Notifier so timer alerts reach the browser.
type Hub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	now     func() time.Time
}

var _ domain.Notifier = (*Hub)(nil)

// NewHub creates a new broadcast hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan []byte]struct{}),
		now:     time.Now,
	}
}

// Broadcast sends an event to all connected clients.
func (h *Hub) Broadcast(typ string, data interface{}) {
	ev := HubEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: h.now().UnixMilli(),
		Data:      data,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := []byte(fmt.Sprintf("id: %s\nevent: %s\ndata: %s\n\n", ev.ID, typ, payload))

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
			// Client too slow; drop message
		}
	}
}

// OnStateChanged forwards a repository event. Pass it to
// state.Repository.Subscribe.
func (h *Hub) OnStateChanged(ev state.Event) {
	h.Broadcast(EventStateChanged, map[string]interface{}{
		"origin": ev.Origin,
		"state":  ev.State,
	})
}

// Alert implements domain.Notifier.
func (h *Hub) Alert(count int, next time.Time) {
	h.Broadcast(EventAlert, map[string]interface{}{
		"count": count,
		"next":  next.UnixMilli(),
	})
}

// Dismiss implements domain.Notifier.
func (h *Hub) Dismiss() {
	h.Broadcast(EventDismiss, nil)
}

// Subscribe registers a new client. Returns the channel and an unsubscribe func.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 32)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.clients, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleSSE serves the live feed via Server-Sent Events.
// GET /api/events
func (h *Hub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsub := h.Subscribe()
	defer unsub()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write(msg)
			flusher.Flush()
		}
	}
}
