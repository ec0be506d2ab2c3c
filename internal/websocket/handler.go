package websocket

import (
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// ServeWatcher registers a watcher and blocks until it disconnects.
func ServeWatcher(hub *Hub, c *websocket.Conn, pipelineID uuid.UUID) {
	client := &Client{Hub: hub, Conn: c, PipelineID: pipelineID, Send: make(chan []byte, 256)}
	client.Hub.register <- client

	go client.writePump()
	client.readPump() // Run readPump in current goroutine (handler)
}
