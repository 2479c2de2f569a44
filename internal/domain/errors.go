// Package domain contains domain errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrInvalidEndpoint = errors.New("invalid websocket endpoint")
	ErrNotConnected    = errors.New("channel is not connected")
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrSessionClosed   = errors.New("session is closed")
	ErrAdminRequired   = errors.New("admin access required")
	ErrNoCredentials   = errors.New("no stored credentials")
)

// Error messages delivered to channel peers.
const (
	MsgMissingType      = "Missing message type"
	MsgUnknownType      = "Unknown message type"
	MsgAdminRequired    = "Admin access required"
	MsgConnected        = "Connected to server"
	MsgConnectionLost   = "Connection lost"
	MsgConnectionError  = "Connection error"
	MsgConnectionFailed = "Connection failed"
)

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
