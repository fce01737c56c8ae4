package websocket

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 256 * 1024 // 256KB

	// Send buffer size
	sendBufferSize = 256
)

// Client represents one live WebSocket connection for an authenticated user
type Client struct {
	id          string // Unique connection ID
	userID      string
	displayName string
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte // Buffered channel of outbound frames
	logger      *zap.Logger
}

// NewClient creates a new WebSocket client
func NewClient(userID, displayName string, hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:          id,
		userID:      userID,
		displayName: displayName,
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		logger: logger.With(
			zap.String("userID", userID),
			zap.String("connectionID", id),
		),
	}
}

// Start registers the client with the hub and begins the read and write
// pumps. Registration is synchronous so the session exists before the first
// inbound frame is processed.
func (c *Client) Start() {
	c.hub.Register(c)

	go c.writePump()
	go c.readPump()
}

// readPump pumps frames from the WebSocket connection into the hub. Events
// from one connection are handled in the order received; the synchronous
// dispatch here is what provides the per-connection ordering guarantee.
func (c *Client) readPump() {
	defer func() {
		// Every transport-level exit, graceful or not, funnels through the
		// same cleanup path. Unregister is idempotent, so racing error
		// conditions cannot run the disconnect twice.
		c.hub.Unregister(c)
		c.conn.Close()
		c.logger.Debug("Read pump stopped")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			break
		}

		switch messageType {
		case websocket.TextMessage:
			c.handleTextMessage(message)
		case websocket.BinaryMessage:
			c.logger.Warn("Binary messages not supported")
		}
	}
}

// writePump pumps frames from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.Debug("Write pump stopped")
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("Failed to write message", zap.Error(err))
				return
			}

			// Drain queued frames into the same write window
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					c.logger.Warn("Failed to write batched message", zap.Error(err))
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleTextMessage parses one inbound frame and hands it to the hub
func (c *Client) handleTextMessage(message []byte) {
	message = bytes.TrimSpace(message)
	if len(message) == 0 {
		return
	}

	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.logger.Debug("Discarding malformed frame", zap.Error(err))
		return
	}
	if frame.Event == "" {
		c.logger.Debug("Discarding frame without event name")
		return
	}

	c.hub.HandleFrame(c, frame)
}

// enqueue offers a frame to this connection without blocking. A false return
// means the client's buffer is full and the caller should treat it as slow.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// GetID returns the client's connection ID
func (c *Client) GetID() string {
	return c.id
}
