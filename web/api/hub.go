package api

import (
	"context"
	"sync"

	"github.com/hochfrequenz/lake-orchestrator/internal/orchestrator"
)

// StreamEvent is what SSE and websocket clients receive
type StreamEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const clientBuffer = 64

// Hub fans events out to connected clients. Slow clients are dropped
// rather than slowing down the batch.
type Hub struct {
	clients    map[chan StreamEvent]bool
	broadcast  chan StreamEvent
	register   chan chan StreamEvent
	unregister chan chan StreamEvent
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[chan StreamEvent]bool),
		broadcast:  make(chan StreamEvent, 256),
		register:   make(chan chan StreamEvent),
		unregister: make(chan chan StreamEvent),
		done:       make(chan struct{}),
	}
}

// Run dispatches events until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- event:
				default:
					close(client)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Subscribe registers a client. The returned channel is closed when the
// client is unsubscribed, falls behind or the hub stops.
func (h *Hub) Subscribe(ctx context.Context) (<-chan StreamEvent, func()) {
	client := make(chan StreamEvent, clientBuffer)
	select {
	case h.register <- client:
	case <-ctx.Done():
		close(client)
		return client, func() {}
	case <-h.done:
		close(client)
		return client, func() {}
	}
	var once sync.Once
	return client, func() {
		once.Do(func() {
			select {
			case h.unregister <- client:
			case <-h.done:
			}
		})
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues an event for all clients. It never blocks; events are
// dropped when the queue is full.
func (h *Hub) Broadcast(event StreamEvent) {
	select {
	case h.broadcast <- event:
	default:
	}
}

// Emit implements orchestrator.EventSink.
func (h *Hub) Emit(e orchestrator.Event) {
	h.Broadcast(StreamEvent{Type: string(e.Type), Data: e})
}
