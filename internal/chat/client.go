package chat

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/bezhas/chat-gatekeeper/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced upstream; the gate runs on IP before upgrade
	CheckOrigin: func(r *http.Request) bool { return true },
}

// One websocket connection. The read pump feeds frames through the hub's
// gatekeeper, the write pump drains the send channel.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	ip     string
	ctx    context.Context
	send   chan OutboundMessage

	mu     sync.Mutex
	closed bool
}

// Queues a frame for the write pump. Returns false when the client's buffer
// is full or its channel was already closed, so no caller can panic by
// writing to a dropped client.
func (c *Client) trySend(msg OutboundMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Closes the send channel exactly once
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Hands the client back to the hub; returns immediately when the hub has
// already stopped
func (c *Client) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
}

// Handles GET /chat/ws. Upgrades the connection and starts the pumps.
// Connection-level rate limiting already ran as middleware by this point.
func ServeWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("Websocket upgrade failed for user %s: %v", userID, err)
			return
		}

		client := &Client{
			hub:    hub,
			conn:   conn,
			userID: userID,
			ip:     ratelimit.ResolveIP(c.Request),
			ctx:    context.Background(),
			send:   make(chan OutboundMessage, 64),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.detach()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Websocket read error for user %s: %v", c.userID, err)
			}
			return
		}

		var msg InboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.trySend(OutboundMessage{
				Type:      "error",
				Message:   "Invalid message format",
				Timestamp: time.Now().Unix(),
			})
			continue
		}

		c.hub.handleInbound(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
