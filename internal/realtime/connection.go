package realtime

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/abyssinia-assembly/attendance/internal/domain"
	"github.com/abyssinia-assembly/attendance/internal/sync"
)

// connection is one transport attempt. It moves CONNECTING -> OPEN -> CLOSING
// -> CLOSED, or CONNECTING -> CLOSED when the handshake fails.
type connection struct {
	id       string
	endpoint string
	state    atomic.Int32
	cancel   context.CancelFunc

	mu             sync.Mutex
	conn           Conn
	closeRequested bool
	closeCode      int
	closeReason    string
}

func newConnection(endpoint string, cancel context.CancelFunc) *connection {
	cn := &connection{
		id:       uuid.New().String(),
		endpoint: endpoint,
		cancel:   cancel,
	}
	cn.state.Store(int32(readyConnecting))
	return cn
}

func (cn *connection) readyState() readyState {
	return readyState(cn.state.Load())
}

func (cn *connection) setState(s readyState) {
	cn.state.Store(int32(s))
}

// attach installs the dialed transport. It returns false if a close was
// requested while the handshake was in flight.
func (cn *connection) attach(conn Conn) bool {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	if cn.closeRequested {
		return false
	}
	cn.conn = conn
	cn.setState(readyOpen)
	return true
}

func (cn *connection) send(data []byte) error {
	cn.mu.Lock()
	conn := cn.conn
	cn.mu.Unlock()

	if conn == nil || cn.readyState() != readyOpen {
		return domain.ErrNotConnected
	}
	return conn.WriteMessage(data)
}

// close starts closing the transport with the given status. Closing a
// connection that is still dialing aborts the dial. Repeated calls do nothing.
func (cn *connection) close(code int, reason string) {
	cn.mu.Lock()
	if cn.closeRequested || cn.readyState() == readyClosed {
		cn.mu.Unlock()
		return
	}
	cn.closeRequested = true
	cn.closeCode = code
	cn.closeReason = reason
	conn := cn.conn
	cn.setState(readyClosing)
	cn.mu.Unlock()

	if conn == nil {
		cn.cancel()
		return
	}
	_ = conn.CloseHandshake(code, reason)
}

// finalStatus returns the close status to report once the transport ended
// with err. A locally requested close reports the status we asked for.
func (cn *connection) finalStatus(err error) (code int, reason string, local bool) {
	cn.mu.Lock()
	defer cn.mu.Unlock()

	if cn.closeRequested {
		return cn.closeCode, cn.closeReason, true
	}
	code, reason = closeStatus(err)
	return code, reason, false
}
