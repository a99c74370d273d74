package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs attaches a push connection for jobId to the hub. It returns when
// the connection is gone.
func ServeWs(hub *Hub, c *websocket.Conn, jobId string, initial []byte) {
	client := &Client{Hub: hub, Conn: c, JobId: jobId, Send: make(chan []byte, 256)}
	if initial != nil {
		client.Send <- initial
	}
	if !hub.join(client) {
		return
	}

	go client.writePump()
	client.readPump()
}
