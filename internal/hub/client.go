package hub

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/CipherHitro/AiMind/internal/logging"
	"github.com/CipherHitro/AiMind/internal/model/user"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

// Client is one websocket connection bound to an authenticated user.
type Client struct {
	ID   string
	User user.User

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewClient wraps an upgraded connection for the given user.
func NewClient(id string, u user.User, h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		User: u,
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// ReadPump consumes inbound frames until the connection closes, keeping the
// pong deadline alive. Clients only listen on this socket; anything they send
// besides control frames is discarded.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.L().Debug().
					Err(err).
					Str("client_id", c.ID).
					Msg("websocket read error")
			}
			return
		}
	}
}

// WritePump flushes queued events to the connection and pings on an interval.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
