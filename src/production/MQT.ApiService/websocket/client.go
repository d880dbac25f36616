package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logger "gitlab.com/maplesense1/smarthome.telemetry_server/src/production/MQT.Logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Outbound frames buffered per viewer before it counts as a slow consumer.
	sendBufferSize = 256
)

// Client is one viewer socket. It implements registry.Conn.
type Client struct {
	id   string
	conn *websocket.Conn
	log  *logger.Logger

	// Buffered channel of outbound messages, never closed
	send chan []byte

	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, log *logger.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:   id,
		conn: conn,
		log:  log.WithField("conn_id", id),
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Send queues msg for the write pump. A viewer whose buffer is full is
// closed rather than allowed to stall the broadcaster.
func (c *Client) Send(msg []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.log.Warn("Send buffer full, closing slow viewer")
		_ = c.Close()
		return false
	}
}

func (c *Client) Open() bool {
	return !c.closed.Load()
}

// Close stops the write pump, which sends a close frame and releases the
// underlying connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
	return nil
}

// readPump feeds inbound frames to handle until the peer goes away
func (c *Client) readPump(handle func([]byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Logger.Debug().Err(err).Msg("Viewer read failed")
			}
			return
		}
		handle(message)
	}
}

// writePump pumps queued frames and keepalive pings to the connection. It
// is the only writer on conn once the socket is authenticated.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.flush()
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush writes whatever is still buffered, best effort
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
