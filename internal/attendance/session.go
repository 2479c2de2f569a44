package attendance

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/abyssinia-assembly/attendance/internal/domain"
	"github.com/abyssinia-assembly/attendance/internal/sync"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 15 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 90 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	// Send buffer size per session.
	sendBufferSize = 64
)

// errSendBufferFull is returned when a slow peer has not drained its queue.
var errSendBufferFull = errors.New("send buffer full")

// MessageHandler processes one inbound text frame.
type MessageHandler func(s *Session, message []byte)

// Session is one connected channel peer.
//
// Each Session runs a read pump feeding the MessageHandler and a write pump
// draining the send queue. Send and Close are safe from any goroutine.
type Session struct {
	id         string
	remoteAddr string
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	handler    MessageHandler
	onClose    func(id string)

	mu     sync.Mutex
	closed bool
}

func newSession(conn *websocket.Conn, handler MessageHandler, onClose func(id string)) *Session {
	return &Session{
		id:         uuid.New().String(),
		remoteAddr: conn.RemoteAddr().String(),
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		done:       make(chan struct{}),
		handler:    handler,
		onClose:    onClose,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// Start starts the read and write pumps.
func (s *Session) Start() {
	go s.writePump()
	go s.readPump()
}

// Send queues a message for the peer.
func (s *Session) Send(message []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	s.mu.Unlock()

	select {
	case s.send <- message:
		return nil
	default:
		log.Warn().Str("session_id", s.id).Msg("session send queue full, dropping message")
		return errSendBufferFull
	}
}

// Close stops the session. The write pump sends the close frame.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
}

func (s *Session) readPump() {
	defer func() {
		s.Close()
		_ = s.conn.Close()
		if s.onClose != nil {
			s.onClose(s.id)
		}
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("session_id", s.id).Msg("websocket read error")
			}
			return
		}

		if s.handler != nil {
			s.handler(s, message)
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			return

		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("session_id", s.id).Msg("write error")
				s.Close()
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("session_id", s.id).Msg("ping error")
				s.Close()
				return
			}
		}
	}
}
