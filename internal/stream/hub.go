package stream

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/model"
	"github.com/t77yq/crashguard/internal/storage"
)

const broadcastBufferSize = 256

// MessageType identifies the payload of a stream message
type MessageType string

const (
	MessageAlerts    MessageType = "alerts"
	MessageEmergency MessageType = "emergency"
)

// Message is the JSON frame sent to clients
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// Encode marshals a message frame
func Encode(t MessageType, payload any) ([]byte, error) {
	return json.Marshal(Message{Type: t, Payload: payload})
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

// NewHub creates a new hub; call Run to start it
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger.Named("hub"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return

		case client := <-h.register:
			// Broadcasts queued before the snapshot are already part of it
			h.flush()
			h.clients[client] = true
			h.sendSnapshot(client)
			h.logger.Debug("Client registered",
				zap.String("remote", client.remoteAddr()),
				zap.Int("clients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debug("Client unregistered",
					zap.String("remote", client.remoteAddr()),
					zap.Int("clients", len(h.clients)))
			}

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// flush delivers every queued broadcast to the registered clients
func (h *Hub) flush() {
	for {
		select {
		case message := <-h.broadcast:
			h.deliver(message)
		default:
			return
		}
	}
}

func (h *Hub) deliver(message []byte) {
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("Client send buffer full, removing",
				zap.String("remote", client.remoteAddr()))
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// sendSnapshot queues the client's initial frames ahead of any later broadcast
func (h *Hub) sendSnapshot(client *Client) {
	if client.snapshot == nil {
		return
	}
	for _, frame := range client.snapshot() {
		select {
		case client.send <- frame:
		default:
			h.logger.Warn("Client send buffer full, dropping snapshot frame",
				zap.String("remote", client.remoteAddr()))
			return
		}
	}
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a message for every client. Messages are dropped when
// the queue is full.
func (h *Hub) Broadcast(t MessageType, payload any) {
	data, err := Encode(t, payload)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast", zap.String("type", string(t)), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.done:
	default:
		h.logger.Warn("Broadcast queue full, dropping message", zap.String("type", string(t)))
	}
}

// OnAlertChange is a storage.ChangeListener streaming the active alerts
func (h *Hub) OnAlertChange(change storage.Change) {
	h.Broadcast(MessageAlerts, change.Active)
}

// OnEmergencyChange streams every emergency state change
func (h *Hub) OnEmergencyChange(state model.EmergencyState) {
	h.Broadcast(MessageEmergency, state)
}
