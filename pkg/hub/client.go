package hub

import (
	"sync/atomic"
	"time"

	"github.com/gofiber/websocket/v2"
)

// Connection timing. Pings go out well inside the read deadline so an idle
// phone is not mistaken for a dead one.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// device status reports are small JSON envelopes
	maxMessageSize = 64 * 1024

	sendBuffer = 64
)

// Conn is the part of a websocket connection the hub drives.
// *websocket.Conn from gofiber/websocket satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// ClientInfo describes one connection.
type ClientInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	Sent      int64     `json:"sent"`
	Queued    int       `json:"queued"`
}

// Client is one websocket connection registered with a hub.
type Client struct {
	ID string

	hub       *Hub
	conn      Conn
	send      chan Message
	connected time.Time
	sent      atomic.Int64
}

// NewClient registers a client with hub. Against a stopped hub the queue
// starts closed, so Run returns at once.
func NewClient(hub *Hub, conn Conn, id string) *Client {
	c := &Client{
		ID:        id,
		hub:       hub,
		conn:      conn,
		send:      make(chan Message, sendBuffer),
		connected: time.Now(),
	}
	select {
	case hub.register <- c:
	case <-hub.done:
		close(c.send)
	}
	return c
}

// Info snapshots the client.
func (c *Client) Info() ClientInfo {
	return ClientInfo{
		ID:        c.ID,
		Connected: c.connected,
		Sent:      c.sent.Load(),
		Queued:    len(c.send),
	}
}

// Run blocks until the connection closes.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	extend := func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	c.conn.SetReadLimit(maxMessageSize)
	extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.inbound(c, data)
	}
}

// writePump owns every write to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		var err error
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, nil)
				return
			}
			if err = c.write(websocket.TextMessage, msg.Data); err == nil {
				c.sent.Add(1)
			}
		case <-ticker.C:
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
