package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"ai-qa-sync/internal/dto"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 512
)

// Client is a middleman between one push connection and the hub.
type Client struct {
	Hub *Hub

	Conn *websocket.Conn

	// Job the connection watches
	JobId string

	// Buffered channel of outbound frames.
	Send chan []byte

	mu     sync.Mutex
	closed bool
}

// enqueue queues data unless the connection is closed or backed up.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// readPump answers heartbeats until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		c.Hub.leave(c)
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))

	pong, _ := json.Marshal(dto.PushMessage{Type: dto.PushTypePong})
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.Hub.logger.Warn("Hub", "Push connection closed unexpectedly", map[string]interface{}{
					"job_id": c.JobId,
					"error":  err.Error(),
				})
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg dto.PushMessage
		if json.Unmarshal(data, &msg) == nil && msg.Type == dto.PushTypePing {
			c.enqueue(pong)
		}
	}
}

// writePump pumps frames from the hub to the connection.
func (c *Client) writePump() {
	defer c.Conn.Close()

	for message := range c.Send {
		c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	// The hub closed the channel.
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
}
