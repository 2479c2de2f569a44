package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/abyssinia-assembly/attendance/internal/domain/envelope"
	"github.com/abyssinia-assembly/attendance/internal/realtime"
	"github.com/abyssinia-assembly/attendance/internal/sync"
)

// ErrDialRefused is returned by FakeDialer for scripted failures.
var ErrDialRefused = errors.New("connection refused")

// FakeDialer hands out FakeConns. Each Dial consumes the next scripted
// result; once the script is exhausted every dial succeeds.
type FakeDialer struct {
	mu     sync.Mutex
	script []error
	conns  []*FakeConn
	dials  int
	gate   chan struct{}
}

// NewFakeDialer creates a dialer whose dials succeed.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// FailNext makes the next n dials fail.
func (d *FakeDialer) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.script = append(d.script, ErrDialRefused)
	}
}

// Hold makes dials block until Release or context cancellation.
func (d *FakeDialer) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gate = make(chan struct{})
}

// Release unblocks held dials.
func (d *FakeDialer) Release() {
	d.mu.Lock()
	gate := d.gate
	d.gate = nil
	d.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// Dial implements realtime.Dialer.
func (d *FakeDialer) Dial(ctx context.Context, endpoint string) (realtime.Conn, error) {
	d.mu.Lock()
	d.dials++
	gate := d.gate
	var err error
	if len(d.script) > 0 {
		err = d.script[0]
		d.script = d.script[1:]
	}
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	conn := NewFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

// Dials returns how many times Dial was called.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Conns returns the connections handed out so far.
func (d *FakeDialer) Conns() []*FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeConn, len(d.conns))
	copy(out, d.conns)
	return out
}

// WaitConn waits for the n-th (1-based) successful dial and returns its conn.
func (d *FakeDialer) WaitConn(t *testing.T, n int) *FakeConn {
	t.Helper()
	WaitFor(t, DefaultWait, func() bool { return len(d.Conns()) >= n }, "dialed connection")
	return d.Conns()[n-1]
}

var _ realtime.Dialer = (*FakeDialer)(nil)

// FakeConn is an in-memory realtime.Conn. The test plays the server side.
type FakeConn struct {
	inbound chan []byte
	closed  chan struct{}

	mu        sync.Mutex
	written   [][]byte
	closeOnce sync.Once
	closeErr  error
	handshake *realtime.CloseError
}

// NewFakeConn creates an open connection.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

// Deliver queues a raw inbound message.
func (c *FakeConn) Deliver(data []byte) {
	c.inbound <- data
}

// DeliverEnvelope queues env as an inbound message.
func (c *FakeConn) DeliverEnvelope(env envelope.Envelope) {
	data, _ := env.Marshal()
	c.Deliver(data)
}

// CloseFromPeer ends the connection as if the server closed with code.
// Code 1006 simulates a dropped connection.
func (c *FakeConn) CloseFromPeer(code int) {
	c.finish(&realtime.CloseError{Code: code})
}

func (c *FakeConn) finish(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closeErr = err
		c.mu.Unlock()
		close(c.closed)
	})
}

// ReadMessage implements realtime.Conn.
func (c *FakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.closeErr
	}
}

// WriteMessage implements realtime.Conn.
func (c *FakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

// CloseHandshake implements realtime.Conn; the fake peer echoes the status.
func (c *FakeConn) CloseHandshake(code int, reason string) error {
	ce := &realtime.CloseError{Code: code, Reason: reason}
	c.mu.Lock()
	c.handshake = ce
	c.mu.Unlock()
	c.finish(ce)
	return nil
}

// Close implements realtime.Conn.
func (c *FakeConn) Close() error {
	c.finish(&realtime.CloseError{Code: realtime.CloseAbnormalClosure})
	return nil
}

// HandshakeCode returns the status of a client-initiated close, or 0.
func (c *FakeConn) HandshakeCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handshake == nil {
		return 0
	}
	return c.handshake.Code
}

// Written returns the decoded envelopes sent by the client.
func (c *FakeConn) Written() []envelope.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []envelope.Envelope
	for _, data := range c.written {
		env, err := envelope.Parse(data)
		if err == nil {
			out = append(out, env)
		}
	}
	return out
}

// WrittenTypes returns the types of sent envelopes in order.
func (c *FakeConn) WrittenTypes() []envelope.Type {
	var out []envelope.Type
	for _, env := range c.Written() {
		out = append(out, env.Type())
	}
	return out
}

// WaitWritten waits until at least n envelopes were sent.
func (c *FakeConn) WaitWritten(t *testing.T, n int) []envelope.Envelope {
	t.Helper()
	WaitFor(t, DefaultWait, func() bool { return len(c.Written()) >= n }, "written envelopes")
	return c.Written()
}

var _ realtime.Conn = (*FakeConn)(nil)
