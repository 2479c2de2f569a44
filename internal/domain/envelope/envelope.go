// Package envelope defines the tagged JSON messages exchanged over the
// attendance channel.
package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/abyssinia-assembly/attendance/internal/domain"
)

// Type identifies an envelope.
type Type string

const (
	// Client to server
	TypeAuthenticate     Type = "AUTHENTICATE"
	TypeGetStatus        Type = "GET_STATUS"
	TypeToggleAttendance Type = "TOGGLE_ATTENDANCE"
	TypePing             Type = "PING"

	// Server to client
	TypeStatus     Type = "STATUS"
	TypeToggle     Type = "TOGGLE"
	TypeAuthResult Type = "AUTH_RESULT"
	TypePong       Type = "PONG"
	TypeError      Type = "ERROR"

	// Synthesized by the client for its own subscribers, never sent.
	TypeConnectionStatus Type = "CONNECTION_STATUS"
)

// Field names used across envelope types.
const (
	FieldType      = "type"
	FieldToken     = "token"
	FieldTimestamp = "timestamp"
	FieldConnected = "connected"
	FieldEnabled   = "enabled"
	FieldMessage   = "message"
)

// Envelope is a JSON object with a string "type" and arbitrary payload fields.
// Envelopes received from the wire are passed on verbatim.
type Envelope map[string]any

// New creates an envelope of the given type.
func New(t Type) Envelope {
	return Envelope{FieldType: string(t)}
}

// Type returns the envelope type, or "" if missing or not a string.
func (e Envelope) Type() Type {
	s, _ := e[FieldType].(string)
	return Type(s)
}

// String returns a string field.
func (e Envelope) String(key string) (string, bool) {
	s, ok := e[key].(string)
	return s, ok
}

// Bool returns a boolean field.
func (e Envelope) Bool(key string) (bool, bool) {
	b, ok := e[key].(bool)
	return b, ok
}

// Message returns the human-readable "message" field.
func (e Envelope) Message() string {
	s, _ := e.String(FieldMessage)
	return s
}

// With returns the envelope with key set. The receiver is modified.
func (e Envelope) With(key string, value any) Envelope {
	e[key] = value
	return e
}

// Marshal encodes the envelope as JSON.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(map[string]any(e))
}

// Parse decodes a JSON object into an envelope. Anything that is not a JSON
// object yields domain.ErrInvalidEnvelope.
func Parse(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, domain.ErrInvalidEnvelope
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEnvelope, err)
	}
	return env, nil
}

// Authenticate builds an AUTHENTICATE envelope.
func Authenticate(token string) Envelope {
	return New(TypeAuthenticate).With(FieldToken, token)
}

// GetStatus builds a GET_STATUS envelope.
func GetStatus() Envelope {
	return New(TypeGetStatus)
}

// ToggleAttendance builds a TOGGLE_ATTENDANCE envelope. An empty token is
// sent as JSON null.
func ToggleAttendance(token string) Envelope {
	var v any
	if token != "" {
		v = token
	}
	return New(TypeToggleAttendance).With(FieldToken, v)
}

// Ping builds a PING envelope carrying a unix millisecond timestamp.
func Ping(unixMillis int64) Envelope {
	return New(TypePing).With(FieldTimestamp, unixMillis)
}

// ConnectionStatus builds the client-internal CONNECTION_STATUS envelope.
func ConnectionStatus(connected bool, message string) Envelope {
	return New(TypeConnectionStatus).
		With(FieldConnected, connected).
		With(FieldMessage, message)
}

// Status builds a server status envelope (STATUS, TOGGLE, AUTH_RESULT, PONG).
// A nil enabled omits the field.
func Status(t Type, enabled *bool, message string, unixMillis int64) Envelope {
	env := New(t).
		With(FieldMessage, message).
		With(FieldTimestamp, unixMillis)
	if enabled != nil {
		env[FieldEnabled] = *enabled
	}
	return env
}

// Error builds a server ERROR envelope.
func Error(message string, unixMillis int64) Envelope {
	return New(TypeError).
		With(FieldMessage, message).
		With(FieldTimestamp, unixMillis)
}
