// Package realtime implements the attendance channel client: one logical
// WebSocket connection that authenticates itself, keeps itself alive, recovers
// from drops with bounded exponential backoff, and fans incoming envelopes out
// to subscribers.
//
// Lifecycle of the underlying transport:
//
//	DISCONNECTED -> CONNECTING -> CONNECTED -> CLOSING -> DISCONNECTED
//
// Connect is the only way into CONNECTING. When a transport ends, the close
// handler decides whether to re-enter CONNECTING through a scheduled reconnect.
//
// Thread Safety:
//   - All methods are safe to call from any goroutine, including from inside
//     a subscriber callback.
//   - Subscribers are invoked without the client lock held.
//   - Public methods never fail; transport failures surface as
//     CONNECTION_STATUS envelopes.
package realtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/abyssinia-assembly/attendance/internal/domain"
	"github.com/abyssinia-assembly/attendance/internal/domain/envelope"
	"github.com/abyssinia-assembly/attendance/internal/sync"
)

const (
	DefaultMaxReconnectAttempts = 3
	DefaultKeepaliveInterval    = 30 * time.Second
	DefaultBaseReconnectDelay   = 1 * time.Second
	DefaultMaxReconnectDelay    = 10 * time.Second
	DefaultReconnectGrace       = 1 * time.Second

	normalClosureReason = "Normal closure"
)

// Config holds client settings.
type Config struct {
	// Endpoint is the ws:// or wss:// URL of the attendance channel.
	Endpoint string

	MaxReconnectAttempts int
	KeepaliveInterval    time.Duration
	BaseReconnectDelay   time.Duration
	MaxReconnectDelay    time.Duration

	// ReconnectGrace is the pause between the disconnect and connect halves
	// of Reconnect.
	ReconnectGrace time.Duration
}

// DefaultConfig returns the standard settings for endpoint.
func DefaultConfig(endpoint string) Config {
	return Config{
		Endpoint:             endpoint,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		KeepaliveInterval:    DefaultKeepaliveInterval,
		BaseReconnectDelay:   DefaultBaseReconnectDelay,
		MaxReconnectDelay:    DefaultMaxReconnectDelay,
		ReconnectGrace:       DefaultReconnectGrace,
	}
}

// TokenProvider supplies the stored auth token. An empty token means none.
type TokenProvider interface {
	Token() string
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func() string

// Token calls f.
func (f TokenFunc) Token() string { return f() }

// StaticToken is a fixed token.
type StaticToken string

// Token returns the token.
func (t StaticToken) Token() string { return string(t) }

// Option configures a Client.
type Option func(*Client)

// WithDialer sets the transport dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithTokenProvider sets where tokens are read from.
func WithTokenProvider(p TokenProvider) Option {
	return func(c *Client) { c.tokens = p }
}

// WithClock sets the clock used for timers and PING timestamps.
func WithClock(clock Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// Handler receives envelopes.
type Handler func(env envelope.Envelope)

type subscription struct {
	fn     Handler
	active atomic.Bool
}

// Client is the reconnecting attendance channel client.
type Client struct {
	cfg    Config
	dialer Dialer
	tokens TokenProvider
	clock  Clock

	mu        sync.Mutex
	conn      *connection
	connected bool
	attempts  int
	stopped   bool
	reconnect timerSlot
	keepalive timerSlot

	// subs is replaced, never mutated in place, so dispatch can iterate a
	// snapshot without holding subsMu.
	subsMu sync.Mutex
	subs   []*subscription
}

// New creates a client. It does not connect.
func New(cfg Config, opts ...Option) *Client {
	def := DefaultConfig(cfg.Endpoint)
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	} else if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.BaseReconnectDelay <= 0 {
		cfg.BaseReconnectDelay = def.BaseReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.ReconnectGrace <= 0 {
		cfg.ReconnectGrace = def.ReconnectGrace
	}

	c := &Client{
		cfg:    cfg,
		dialer: NewWebSocketDialer(),
		tokens: StaticToken(""),
		clock:  SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL the client dials.
func (c *Client) Endpoint() string {
	return c.cfg.Endpoint
}

// Connect starts a new transport unless one is already connecting or open.
// A pending reconnect is cancelled. An endpoint that cannot be dialed is
// reported as a "Connection failed" status rather than returned.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.conn != nil {
		switch c.conn.readyState() {
		case readyConnecting, readyOpen:
			c.mu.Unlock()
			return
		}
	}

	c.reconnect.cancel()
	c.keepalive.cancel()
	c.stopped = false

	if err := validateEndpoint(c.cfg.Endpoint); err != nil {
		c.connected = false
		c.mu.Unlock()

		log.Warn().Err(err).Str("endpoint", c.cfg.Endpoint).Msg("cannot create transport")
		c.notify(envelope.ConnectionStatus(false, domain.MsgConnectionFailed))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	cn := newConnection(c.cfg.Endpoint, cancel)
	c.conn = cn
	c.mu.Unlock()

	log.Debug().
		Str("conn_id", cn.id).
		Str("endpoint", cn.endpoint).
		Int("attempt", c.Attempts()).
		Msg("connecting")

	go c.run(ctx, cn)
}

// Disconnect cancels pending timers and closes the transport with a normal
// closure. No automatic reconnect follows. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.reconnect.cancel()
	c.keepalive.cancel()
	c.stopped = true
	cn := c.conn
	c.mu.Unlock()

	if cn == nil {
		return
	}
	cn.close(CloseNormalClosure, normalClosureReason)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// Reconnect disconnects and connects again after the configured grace
// period. A Disconnect during the grace period cancels the connect.
func (c *Client) Reconnect() {
	c.Disconnect()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnect.arm(c.clock, c.cfg.ReconnectGrace, func(gen uint64) {
		c.mu.Lock()
		ok := c.reconnect.claim(gen)
		c.mu.Unlock()
		if ok {
			c.Connect()
		}
	})
}

// Subscribe registers fn for every received or synthesized envelope and
// returns a function that removes it. Once the returned function has been
// called, fn receives nothing more.
func (c *Client) Subscribe(fn Handler) (unsubscribe func()) {
	sub := &subscription{fn: fn}
	sub.active.Store(true)

	c.subsMu.Lock()
	c.subs = append(c.subs[:len(c.subs):len(c.subs)], sub)
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)

			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			kept := make([]*subscription, 0, len(c.subs))
			for _, s := range c.subs {
				if s != sub {
					kept = append(kept, s)
				}
			}
			c.subs = kept
		})
	}
}

// GetAttendanceStatus asks the server for the current attendance status.
// Nothing is sent, queued or reported when the transport is not open.
func (c *Client) GetAttendanceStatus() {
	c.send(envelope.GetStatus())
}

// ToggleAttendance asks the server to flip the attendance switch using the
// token stored at the time of the call. No-op when not open.
func (c *Client) ToggleAttendance() {
	c.send(envelope.ToggleAttendance(c.tokens.Token()))
}

// IsConnected reports whether the channel has opened and the transport is
// still open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.conn != nil && c.conn.readyState() == readyOpen
}

// ConnectionState maps the transport state. Before the first Connect it is
// DISCONNECTED.
func (c *Client) ConnectionState() ConnectionState {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()

	if cn == nil {
		return StateDisconnected
	}
	return cn.readyState().connectionState()
}

// Attempts returns the number of automatic reconnects since the last open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// ReconnectPending reports whether a reconnect is scheduled.
func (c *Client) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect.pending()
}

// run dials and then pumps messages until the transport ends.
func (c *Client) run(ctx context.Context, cn *connection) {
	defer cn.cancel()

	conn, err := c.dialer.Dial(ctx, cn.endpoint)
	if err != nil {
		cn.setState(readyClosed)
		code, reason, local := cn.finalStatus(err)
		if !local {
			log.Debug().Err(err).Str("conn_id", cn.id).Msg("handshake failed")
			c.handleError(cn)
		}
		c.handleClose(cn, code, reason)
		return
	}

	if !cn.attach(conn) {
		code, reason, _ := cn.finalStatus(nil)
		_ = conn.CloseHandshake(code, reason)
		_ = conn.Close()
		cn.setState(readyClosed)
		c.handleClose(cn, code, reason)
		return
	}

	c.handleOpen(cn)

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			cn.setState(readyClosed)
			code, reason, _ := cn.finalStatus(err)
			c.handleClose(cn, code, reason)
			return
		}
		c.handleMessage(cn, data)
	}
}

func (c *Client) handleOpen(cn *connection) {
	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		return
	}
	c.connected = true
	c.attempts = 0
	c.mu.Unlock()

	log.Info().Str("conn_id", cn.id).Str("endpoint", cn.endpoint).Msg("attendance channel connected")

	if token := c.tokens.Token(); token != "" {
		c.sendOn(cn, envelope.Authenticate(token))
	}
	c.sendOn(cn, envelope.GetStatus())

	c.mu.Lock()
	if c.conn == cn {
		c.startKeepaliveLocked(cn)
	}
	c.mu.Unlock()

	c.notify(envelope.ConnectionStatus(true, domain.MsgConnected))
}

func (c *Client) handleMessage(cn *connection, data []byte) {
	if !c.isCurrent(cn) {
		return
	}

	env, err := envelope.Parse(data)
	if err != nil {
		log.Debug().Err(err).Str("conn_id", cn.id).Msg("dropping unparseable message")
		return
	}
	c.notify(env)
}

func (c *Client) handleClose(cn *connection, code int, reason string) {
	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		log.Debug().Str("conn_id", cn.id).Msg("ignoring close of superseded transport")
		return
	}
	c.connected = false
	c.keepalive.cancel()
	c.mu.Unlock()

	log.Info().
		Str("conn_id", cn.id).
		Int("code", code).
		Str("reason", reason).
		Msg("attendance channel closed")

	c.notify(envelope.ConnectionStatus(false, domain.MsgConnectionLost))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == cn {
		c.scheduleReconnectLocked(code)
	}
}

func (c *Client) handleError(cn *connection) {
	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.mu.Unlock()

	c.notify(envelope.ConnectionStatus(false, domain.MsgConnectionError))
}

// scheduleReconnectLocked arms the reconnect timer after an abnormal close.
// The delay uses the attempt count now; the count grows when the timer fires.
func (c *Client) scheduleReconnectLocked(code int) {
	if code == CloseNormalClosure || c.stopped || c.attempts >= c.cfg.MaxReconnectAttempts {
		return
	}

	delay := c.reconnectDelay(c.attempts)
	log.Info().
		Int("attempt", c.attempts+1).
		Int("max_attempts", c.cfg.MaxReconnectAttempts).
		Dur("delay", delay).
		Msg("scheduling reconnect")

	c.reconnect.arm(c.clock, delay, func(gen uint64) {
		c.mu.Lock()
		if !c.reconnect.claim(gen) {
			c.mu.Unlock()
			return
		}
		c.attempts++
		c.mu.Unlock()

		c.Connect()
	})
}

// reconnectDelay returns min(base * 2^attempt, max).
func (c *Client) reconnectDelay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.BaseReconnectDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.cfg.MaxReconnectDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	delay := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (c *Client) startKeepaliveLocked(cn *connection) {
	c.keepalive.arm(c.clock, c.cfg.KeepaliveInterval, func(gen uint64) {
		c.mu.Lock()
		if !c.keepalive.claim(gen) || c.conn != cn {
			c.mu.Unlock()
			return
		}
		c.startKeepaliveLocked(cn)
		now := c.clock.Now()
		c.mu.Unlock()

		c.sendOn(cn, envelope.Ping(now.UnixMilli()))
	})
}

func (c *Client) isCurrent(cn *connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == cn
}

func (c *Client) send(env envelope.Envelope) {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()

	if cn != nil {
		c.sendOn(cn, env)
	}
}

// sendOn writes env if cn is open; otherwise it silently does nothing.
func (c *Client) sendOn(cn *connection, env envelope.Envelope) {
	if cn.readyState() != readyOpen {
		return
	}

	data, err := env.Marshal()
	if err != nil {
		log.Debug().Err(err).Str("type", string(env.Type())).Msg("failed to encode envelope")
		return
	}
	if err := cn.send(data); err != nil {
		log.Debug().Err(err).Str("conn_id", cn.id).Str("type", string(env.Type())).Msg("send failed")
	}
}

// notify delivers env to every live subscriber in registration order.
func (c *Client) notify(env envelope.Envelope) {
	c.subsMu.Lock()
	subs := c.subs
	c.subsMu.Unlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		c.deliver(sub, env)
	}
}

func (c *Client) deliver(sub *subscription, env envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Str("type", string(env.Type())).Msg("subscriber panicked")
		}
	}()
	sub.fn(env)
}
