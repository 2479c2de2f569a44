package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abyssinia-assembly/attendance/internal/sync"
)

const (
	// Default timeouts for WebSocket operations.
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 15 * time.Second

	// How long to wait for the peer to answer our close frame.
	DefaultCloseGrace = 5 * time.Second

	// Default maximum message size (512KB).
	DefaultMaxMessageSize = 512 * 1024
)

// Close codes used by the channel.
const (
	CloseNormalClosure   = websocket.CloseNormalClosure
	CloseAbnormalClosure = websocket.CloseAbnormalClosure
)

// Dialer opens transports to the channel endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Conn is one established transport.
//
// ReadMessage blocks until a message arrives or the transport ends. When the
// peer closed with a status, the error is a *CloseError.
// CloseHandshake starts a close with the given status; the pending
// ReadMessage returns shortly after. Close releases the transport.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	CloseHandshake(code int, reason string) error
	Close() error
}

// CloseError carries the close status received from the peer.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket closed: %d %s", e.Code, e.Reason)
}

// closeStatus extracts the close code of a read error. Anything that is not a
// close frame from the peer counts as an abnormal closure.
func closeStatus(err error) (int, string) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	return CloseAbnormalClosure, ""
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	CloseGrace       time.Duration
	Header           http.Header
}

// NewWebSocketDialer returns a dialer with default timeouts.
func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		CloseGrace:       DefaultCloseGrace,
	}
}

// Dial connects to endpoint.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: orDefault(d.HandshakeTimeout, DefaultHandshakeTimeout),
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	conn.SetReadLimit(DefaultMaxMessageSize)

	return &webSocketConn{
		conn:         conn,
		writeTimeout: orDefault(d.WriteTimeout, DefaultWriteTimeout),
		closeGrace:   orDefault(d.CloseGrace, DefaultCloseGrace),
	}, nil
}

type webSocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeGrace   time.Duration

	mu sync.Mutex
}

func (c *webSocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

func (c *webSocketConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *webSocketConn) CloseHandshake(code int, reason string) error {
	deadline := time.Now().Add(c.writeTimeout)
	err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)

	// Bound the wait for the peer's close frame.
	_ = c.conn.SetReadDeadline(time.Now().Add(c.closeGrace))
	return err
}

func (c *webSocketConn) Close() error {
	return c.conn.Close()
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
