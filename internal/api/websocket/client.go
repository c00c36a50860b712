// Package websocket adapts gorilla/websocket connections to the relay
// core: each client runs a read pump feeding the session coordinator
// and a write pump draining a buffered outbound queue.
package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-labs/parley-node/internal/relay"
	"github.com/parley-labs/parley-node/internal/utils"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer (covers base64 attachments)
	maxMessageSize = 10 * 1024 * 1024 // 10 MB
)

// Client represents a single WebSocket connection bound to a relay
// session. It implements relay.Conn: Send never blocks and drops on a
// full queue, Close tears down the transport.
type Client struct {
	conn *websocket.Conn

	coordinator *relay.Coordinator
	session     *relay.Session

	// Buffered channel of outbound events
	send chan *relay.Event

	closeOnce sync.Once
	done      chan struct{}

	logger *utils.LogsManager
}

// NewClient creates a client over an upgraded connection. The relay
// session is attached afterwards, before Start.
func NewClient(conn *websocket.Conn, coordinator *relay.Coordinator, logger *utils.LogsManager) *Client {
	return &Client{
		conn:        conn,
		coordinator: coordinator,
		send:        make(chan *relay.Event, 256),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// AttachSession binds the relay session created for this client
func (c *Client) AttachSession(session *relay.Session) {
	c.session = session
}

// sessionID is safe to call before the session is attached; the
// greeting event is sent during session creation
func (c *Client) sessionID() string {
	if c.session == nil {
		return "pending"
	}
	return c.session.ID
}

// Start begins the read and write pumps for this client
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Send queues an event for delivery. Delivery is fire-and-forget; a
// slow client loses events rather than stalling the relay.
func (c *Client) Send(event *relay.Event) {
	select {
	case c.send <- event:
	case <-c.done:
	default:
		c.logger.Warn(fmt.Sprintf("Send queue full for connection %s, event %s dropped", c.sessionID(), event.Type), "websocket")
	}
}

// Close tears down the underlying transport. Safe to call more than
// once; the registry closes evicted connections through this path.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump pumps events from the WebSocket connection into the
// coordinator. On exit the session is disconnected, which broadcasts
// offline presence and force-ends calls.
func (c *Client) readPump() {
	defer func() {
		c.coordinator.Disconnect(c.session)
		c.Close()
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn(fmt.Sprintf("WebSocket read error on connection %s: %v", c.session.ID, err), "websocket")
			}
			break
		}

		var event relay.Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.Warn(fmt.Sprintf("Failed to parse incoming event on connection %s: %v", c.session.ID, err), "websocket")
			continue
		}

		c.coordinator.Dispatch(c.session, &event)
	}
}

// writePump pumps events from the send queue to the WebSocket
// connection and keeps the transport alive with periodic pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			data, err := json.Marshal(event)
			if err != nil {
				c.logger.Error(fmt.Sprintf("Failed to marshal event: %v", err), "websocket")
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug(fmt.Sprintf("Failed to write event on connection %s: %v", c.session.ID, err), "websocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
