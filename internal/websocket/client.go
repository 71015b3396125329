package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/52200132/SuaChuaXeMay-sub000/internal/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

// Conn is the subset of the gorilla connection the client uses. Tests swap
// in an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one live socket connection. It owns its transport; the registry
// only holds membership references to it.
type Client struct {
	id   string
	hub  *Hub
	conn Conn
	send chan []byte

	// Channels this connection has joined, plus the presence identity it
	// joined restricted channels with.
	channels map[string]bool
	presence map[string]*auth.PresenceMember
	mu       sync.RWMutex

	// Connection state management
	ctx        context.Context
	cancel     context.CancelFunc
	closed     int32 // atomic flag, connection is going away
	sendClosed int32 // atomic flag, send channel is closed

	wg sync.WaitGroup
}

func NewClient(hub *Hub, conn Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		id:       uuid.New().String(),
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		channels: make(map[string]bool),
		presence: make(map[string]*auth.PresenceMember),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SocketID returns the identifier assigned to this connection for its
// lifetime. It is the id echoed in the connection ack and used as the
// subject of authorization checks.
func (c *Client) SocketID() string {
	return c.id
}

// Channels returns the channel names this client has joined.
func (c *Client) Channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	channels := make([]string, 0, len(c.channels))
	for name := range c.channels {
		channels = append(channels, name)
	}
	return channels
}

func (c *Client) addChannel(channel string, member *auth.PresenceMember) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = true
	if member != nil {
		c.presence[channel] = member
	}
}

func (c *Client) removeChannel(channel string) *auth.PresenceMember {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
	member := c.presence[channel]
	delete(c.presence, channel)
	return member
}

func (c *Client) inChannel(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channel]
}

func (c *Client) presenceMember(channel string) *auth.PresenceMember {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.presence[channel]
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.cancel()
	}
}

func (c *Client) closeSendChannel() {
	if atomic.CompareAndSwapInt32(&c.sendClosed, 0, 1) {
		close(c.send)
	}
}

// SendFrame queues a frame for delivery. Delivery is best effort: a client
// whose send buffer is full is treated as dead and scheduled for cleanup
// rather than allowed to stall the sender.
func (c *Client) SendFrame(frame *Frame) error {
	if c.isClosed() || atomic.LoadInt32(&c.sendClosed) == 1 {
		return ErrClientDisconnected
	}

	data, err := frame.Encode()
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	default:
		slog.Warn("Send buffer full, closing client", "socketID", c.id)
		c.close()
		return ErrClientDisconnected
	}
}

func (c *Client) readPump() {
	c.wg.Add(1)
	defer func() {
		c.wg.Done()
		c.close()

		select {
		case c.hub.unregister <- c:
		case <-time.After(5 * time.Second):
			slog.Warn("Timeout sending unregister request", "socketID", c.id)
		}

		if err := c.conn.Close(); err != nil {
			slog.Debug("Error closing connection", "socketID", c.id, "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "socketID", c.id, "error", err)
			} else {
				slog.Debug("WebSocket connection closed", "socketID", c.id, "error", err)
			}
			break
		}

		inbound, err := DecodeInbound(raw)
		if err != nil {
			// Malformed frames are dropped; the connection stays open.
			slog.Warn("Dropping malformed frame", "socketID", c.id, "error", err)
			c.SendFrame(NewErrorFrame(err.Error()))
			continue
		}

		select {
		case c.hub.inbound <- &clientFrame{client: c, frame: inbound}:
		case <-time.After(5 * time.Second):
			slog.Warn("Timeout sending frame to hub", "socketID", c.id)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) writePump() {
	c.wg.Add(1)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		c.wg.Done()
		ticker.Stop()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("Error writing message", "socketID", c.id, "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping", "socketID", c.id, "error", err)
				c.close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ServeWS upgrades an HTTP request and hands the connection to the hub.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	client := NewClient(hub, conn)
	slog.Info("New WebSocket connection established", "socketID", client.id)

	select {
	case hub.register <- client:
	case <-time.After(5 * time.Second):
		slog.Error("Timeout sending registration request", "socketID", client.id)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
