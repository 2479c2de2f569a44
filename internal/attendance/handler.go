// Package attendance implements the server side of the attendance channel:
// a shared on/off switch that administrators flip and every connected peer
// observes in real time.
package attendance

import (
	"bytes"
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/abyssinia-assembly/attendance/internal/attendance/auditlog"
	"github.com/abyssinia-assembly/attendance/internal/domain"
	"github.com/abyssinia-assembly/attendance/internal/domain/envelope"
	"github.com/abyssinia-assembly/attendance/internal/security"
	"github.com/abyssinia-assembly/attendance/internal/sync"
)

// RoleChecker resolves the role carried by a bearer token.
type RoleChecker interface {
	Role(token string) (string, error)
	IsAdmin(token string) bool
}

// Recorder persists switch changes.
type Recorder interface {
	Record(ctx context.Context, e auditlog.Entry) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithCheckOrigin sets the upgrade origin policy. All origins are accepted
// by default.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) {
		if fn != nil {
			h.upgrader.CheckOrigin = fn
		}
	}
}

// WithInitialState sets the switch position at startup.
func WithInitialState(enabled bool) Option {
	return func(h *Handler) {
		h.enabled.Store(enabled)
	}
}

// WithNow overrides the timestamp source.
func WithNow(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// Handler upgrades requests to channel sessions and owns the switch.
type Handler struct {
	roles    RoleChecker
	audit    Recorder
	upgrader websocket.Upgrader
	now      func() time.Time

	enabled atomic.Bool

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHandler creates a channel handler. audit may be nil. The switch starts
// enabled.
func NewHandler(roles RoleChecker, audit Recorder, opts ...Option) *Handler {
	h := &Handler{
		roles: roles,
		audit: audit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	h.enabled.Store(true)

	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and greets the new session with the
// current switch state.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	s := newSession(conn, h.handleMessage, h.removeSession)

	// The greeting is queued before the session is visible to broadcasts, so
	// it is always the first frame and never older than a later TOGGLE.
	h.mu.Lock()
	greeting, err := h.status(envelope.TypeStatus, h.enabled.Load(), "Connected").Marshal()
	if err == nil {
		err = s.Send(greeting)
	}
	h.sessions[s.ID()] = s
	h.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("session_id", s.ID()).Msg("failed to queue greeting")
	}

	log.Info().
		Str("session_id", s.ID()).
		Str("remote_addr", s.RemoteAddr()).
		Msg("session connected")

	s.Start()
}

// Enabled reports the switch position.
func (h *Handler) Enabled() bool {
	return h.enabled.Load()
}

// ActiveSessions returns the number of connected sessions.
func (h *Handler) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SetEnabled sets the switch from outside the channel and broadcasts the
// change to every session.
func (h *Handler) SetEnabled(ctx context.Context, enabled bool, actor string) {
	h.enabled.Store(enabled)
	h.record(ctx, enabled, auditlog.SourceAPI, actor)

	log.Info().Bool("enabled", enabled).Str("actor", actor).Msg("attendance set via API")
	h.Broadcast(h.status(envelope.TypeToggle, enabled, toggleMessage(enabled)+" via API"))
}

// Broadcast sends env to every connected session.
func (h *Handler) Broadcast(env envelope.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode broadcast")
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.Send(data); err == domain.ErrSessionClosed {
			h.removeSession(s.ID())
		}
	}
}

// CloseAll closes every session.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (h *Handler) removeSession(id string) {
	h.mu.Lock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()

	if ok {
		log.Info().Str("session_id", id).Msg("session disconnected")
	}
}

// handleMessage dispatches one inbound frame. Empty frames and frames that
// are not JSON objects are ignored.
func (h *Handler) handleMessage(s *Session, message []byte) {
	if len(bytes.TrimSpace(message)) == 0 {
		return
	}

	env, err := envelope.Parse(message)
	if err != nil {
		log.Debug().Err(err).Str("session_id", s.ID()).Msg("ignored invalid message")
		return
	}

	raw, ok := env[envelope.FieldType]
	if !ok || raw == nil {
		h.reply(s, h.errorEnvelope(domain.MsgMissingType))
		return
	}
	if _, ok := raw.(string); !ok {
		log.Debug().Str("session_id", s.ID()).Msg("ignored message with non-string type")
		return
	}

	switch env.Type() {
	case envelope.TypeAuthenticate:
		h.handleAuthenticate(s, env)
	case envelope.TypeGetStatus:
		h.reply(s, h.status(envelope.TypeStatus, h.enabled.Load(), "Current status"))
	case envelope.TypeToggleAttendance:
		h.handleToggle(s, env)
	case envelope.TypePing:
		h.reply(s, envelope.Status(envelope.TypePong, nil, "pong", h.now().UnixMilli()))
	default:
		h.reply(s, h.errorEnvelope(domain.MsgUnknownType))
	}
}

func (h *Handler) handleAuthenticate(s *Session, env envelope.Envelope) {
	token, ok := env.String(envelope.FieldToken)
	if !ok {
		return
	}

	role := "USER"
	if h.isAdmin(token) {
		role = security.RoleAdmin
	}
	log.Debug().Str("session_id", s.ID()).Str("role", role).Msg("session authenticated")
	h.reply(s, envelope.Status(envelope.TypeAuthResult, nil, "Authenticated as "+role, h.now().UnixMilli()))
}

func (h *Handler) handleToggle(s *Session, env envelope.Envelope) {
	token, _ := env.String(envelope.FieldToken)
	if !h.isAdmin(token) {
		h.reply(s, h.errorEnvelope(domain.MsgAdminRequired))
		return
	}

	var next bool
	for {
		cur := h.enabled.Load()
		if h.enabled.CompareAndSwap(cur, !cur) {
			next = !cur
			break
		}
	}

	h.record(context.Background(), next, auditlog.SourceWebSocket, s.RemoteAddr())

	msg := toggleMessage(next)
	log.Info().Str("session_id", s.ID()).Msg(msg)
	h.Broadcast(h.status(envelope.TypeToggle, next, msg))
}

func (h *Handler) isAdmin(token string) bool {
	return h.roles != nil && token != "" && h.roles.IsAdmin(token)
}

func (h *Handler) record(ctx context.Context, enabled bool, source, actor string) {
	if h.audit == nil {
		return
	}
	err := h.audit.Record(ctx, auditlog.Entry{
		Enabled:   enabled,
		Source:    source,
		Actor:     actor,
		Timestamp: h.now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("source", source).Msg("failed to record attendance change")
	}
}

func (h *Handler) reply(s *Session, env envelope.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode reply")
		return
	}
	if err := s.Send(data); err == domain.ErrSessionClosed {
		h.removeSession(s.ID())
	}
}

// status builds a switch envelope for the given position. Callers pass the
// position they acted on; re-reading the switch here could pair a message
// with another session's toggle.
func (h *Handler) status(t envelope.Type, enabled bool, message string) envelope.Envelope {
	return envelope.Status(t, &enabled, message, h.now().UnixMilli())
}

func (h *Handler) errorEnvelope(message string) envelope.Envelope {
	return envelope.Error(message, h.now().UnixMilli())
}

func toggleMessage(enabled bool) string {
	if enabled {
		return "Attendance enabled"
	}
	return "Attendance disabled"
}
