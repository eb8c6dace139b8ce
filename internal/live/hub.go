package live

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"sensorhub/internal/eventing"
	"sensorhub/internal/observability/metrics"
)

// MessageTypeInvalidate tells dashboards to refetch the views of a topic.
const MessageTypeInvalidate = "invalidate"

// Message is the frame sent to every connected client.
type Message struct {
	Type    string `json:"type"`
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// Hub keeps the connected clients and fans invalidations out to them.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub constructs a hub. Call Run before serving clients.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			metrics.SetLiveClients(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SetLiveClients(count)
			h.logger.Debug("live client registered", zap.String("remote", client.remote))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SetLiveClients(count)
			h.logger.Debug("live client unregistered", zap.String("remote", client.remote))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("live client too slow, dropping", zap.String("remote", client.remote))
					delete(h.clients, client)
					close(client.send)
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.SetLiveClients(count)
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleEvent is an eventing.Handler that broadcasts an invalidation for event.
// A full broadcast queue drops the frame.
func (h *Hub) HandleEvent(_ context.Context, event eventing.Event) error {
	data, err := json.Marshal(Message{Type: MessageTypeInvalidate, Topic: event.Topic(), Payload: event})
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("live broadcast queue full, dropping", zap.String("topic", event.Topic()))
	}
	return nil
}
