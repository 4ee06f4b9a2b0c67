package chat

import (
	"log"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/gatekeeper"
	"github.com/bezhas/chat-gatekeeper/internal/models"
	"github.com/bezhas/chat-gatekeeper/internal/ratelimit"
	"github.com/bezhas/chat-gatekeeper/internal/service"
)

// Frame sent by clients over the websocket
type InboundMessage struct {
	ModelID    string `json:"model_id"`
	CreditCost int    `json:"credit_cost"`
	Message    string `json:"message"`
}

// Frame delivered to clients
type OutboundMessage struct {
	Type       string               `json:"type"` // "message", "denied", "error"
	UserID     string               `json:"user_id,omitempty"`
	ModelID    string               `json:"model_id,omitempty"`
	Message    string               `json:"message,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	RetryAfter int                  `json:"retry_after,omitempty"`
	Remaining  *ratelimit.Remaining `json:"remaining,omitempty"`
	Timestamp  int64                `json:"timestamp"`
}

// Tracks connected clients and fans accepted messages out to all of them.
// Every inbound frame passes through the gatekeeper before broadcast.
type Hub struct {
	gate     *gatekeeper.Gatekeeper
	recorder *service.EventRecorder

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan OutboundMessage
	done       chan struct{}
}

func NewHub(gate *gatekeeper.Gatekeeper, recorder *service.EventRecorder) *Hub {
	return &Hub{
		gate:       gate,
		recorder:   recorder,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan OutboundMessage, 256),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			log.Printf("Chat client connected: user=%s ip=%s (%d online)", client.userID, client.ip, len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
				log.Printf("Chat client disconnected: user=%s (%d online)", client.userID, len(h.clients))
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.trySend(msg) {
					// Slow consumer, drop it
					delete(h.clients, client)
					client.closeSend()
				}
			}

		case <-h.done:
			for client := range h.clients {
				delete(h.clients, client)
				client.closeSend()
			}
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

// Runs an inbound frame through rate limits and credits; broadcasts on
// success, answers the sender directly on denial. A credit cost of zero is
// valid and passes through unchanged.
func (h *Hub) handleInbound(client *Client, msg InboundMessage) {
	if msg.CreditCost < 0 {
		client.trySend(OutboundMessage{
			Type:      "error",
			Message:   "credit_cost must be non-negative",
			Timestamp: time.Now().Unix(),
		})
		return
	}

	result := h.gate.CheckAndCharge(client.ctx, client.userID, msg.ModelID, msg.CreditCost)
	if !result.Allowed {
		if h.recorder != nil {
			h.recorder.Record(models.GateEvent{
				Timestamp:  time.Now(),
				Subject:    client.userID,
				Scope:      "message",
				Reason:     result.Reason,
				ModelID:    msg.ModelID,
				CreditCost: msg.CreditCost,
				RetryAfter: result.RetryAfter,
				IPAddress:  client.ip,
			})
		}

		client.trySend(OutboundMessage{
			Type:       "denied",
			Reason:     result.Reason,
			Message:    result.Message,
			RetryAfter: result.RetryAfter,
			Timestamp:  time.Now().Unix(),
		})
		return
	}

	select {
	case h.broadcast <- OutboundMessage{
		Type:      "message",
		UserID:    client.userID,
		ModelID:   msg.ModelID,
		Message:   msg.Message,
		Remaining: result.Remaining,
		Timestamp: time.Now().Unix(),
	}:
	case <-h.done:
	}
}
