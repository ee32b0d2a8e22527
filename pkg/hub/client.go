package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

// Dashboards never send data, only close and pong frames, so the inbound
// side is a liveness check.
const (
	writeWait    = 10 * time.Second
	idleTimeout  = 60 * time.Second
	pingInterval = idleTimeout * 9 / 10
	maxInbound   = 4 * 1024
)

// Client is a single websocket connection attached to a hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Message
}

// NewClient registers conn with the hub. It returns nil when the hub has
// already stopped.
func NewClient(h *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan Message, sendBuffer),
	}
	select {
	case h.register <- c:
		return c
	case <-h.done:
		return nil
	}
}

// Run serves the connection until the viewer goes away or the hub drops it.
// It blocks, so call it from the websocket handler.
func (c *Client) Run() {
	go c.forward()
	c.watch()
}

// watch discards inbound frames and leaves the hub once the peer closes or
// stops answering pings.
func (c *Client) watch() {
	defer c.leave()

	c.conn.SetReadLimit(maxInbound)
	c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	})
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (c *Client) leave() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.done:
	}
	c.conn.Close()
}

// forward copies queued hub messages onto the socket and pings the viewer
// when the queue is quiet. A closed queue means the hub dropped us.
func (c *Client) forward() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		var err error
		select {
		case m, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, nil)
				return
			}
			err = c.write(m.wsType(), m.Data)
		case <-ping.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) write(kind int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

func (m Message) wsType() int {
	if m.Type == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
