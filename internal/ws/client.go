package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

const (
	// CloseUnauthorized is sent when the connect credential is rejected.
	CloseUnauthorized = 4001
	// CloseReplaced is sent to a session displaced by a newer login.
	CloseReplaced = 4002

	maxFrameSize = 64 << 10
)

type ClientOptions struct {
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	SendBuffer   int
}

// Client is a websocket Session. Outbound frames are queued on a buffered
// channel and written by WritePump; the connection is closed exactly once.
type Client struct {
	conn   *websocket.Conn
	userID uuid.UUID
	opts   ClientOptions

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, userID uuid.UUID, opts ClientOptions) *Client {
	c := &Client{
		conn:   conn,
		userID: userID,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
	}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongTimeout))
	})
	return c
}

func (c *Client) UserID() uuid.UUID { return c.userID }

func (c *Client) Send(data []byte) error {
	select {
	case <-c.done:
		return ErrSessionClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrSessionClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith sends a close frame carrying code and reason, then drops the
// connection. Only the first call has any effect.
func (c *Client) CloseWith(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.opts.WriteTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.conn.Close()
	})
}

// ReadFrame blocks for the next data frame from the peer.
func (c *Client) ReadFrame() ([]byte, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
			return data, nil
		}
	}
}

// WritePump drains the send queue onto the connection and keeps it alive
// with periodic pings. It returns once the client is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.opts.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
