package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Tokens are checked before the upgrade.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is what clients send to manage their rooms.
type Frame struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// Client is one websocket connection.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	actor string
	send  chan []byte
}

func (c *Client) offer(_ Event, frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	close(c.send)
}

// handleFrame applies one join/leave request. Unknown actions and rooms are ignored.
func (c *Client) handleFrame(raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	if !ValidRoom(frame.Room) {
		return
	}
	switch frame.Action {
	case "join":
		if err := c.hub.join(frame.Room, c); err != nil {
			log.Printf("[realtime] WARN: %s join %s: %v", c.actor, frame.Room, err)
		}
	case "leave":
		c.hub.leave(frame.Room, c)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[realtime] WARN: websocket %s: %v", c.actor, err)
			}
			return
		}
		c.handleFrame(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS upgrades an already authenticated request and attaches the
// connection to the hub. Rooms are joined through frames afterwards.
func ServeWS(hub *Hub, actor string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[realtime] WARN: websocket upgrade: %v", err)
		return
	}

	client := &Client{
		hub:   hub,
		conn:  conn,
		actor: actor,
		send:  make(chan []byte, 256),
	}
	if err := hub.attach(client); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down"))
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
