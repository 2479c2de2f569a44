// Package monitor keeps a local view of the attendance switch and the
// channel connection, fed by a realtime client.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/abyssinia-assembly/attendance/internal/domain"
	"github.com/abyssinia-assembly/attendance/internal/domain/envelope"
	"github.com/abyssinia-assembly/attendance/internal/realtime"
	"github.com/abyssinia-assembly/attendance/internal/security"
	"github.com/abyssinia-assembly/attendance/internal/sync"
)

// PollInterval is how often the connection state is sampled.
const PollInterval = 2 * time.Second

// Channel is the part of the realtime client the monitor drives.
type Channel interface {
	Connect()
	Disconnect()
	Reconnect()
	Subscribe(fn realtime.Handler) (unsubscribe func())
	ToggleAttendance()
	IsConnected() bool
	ConnectionState() realtime.ConnectionState
	Endpoint() string
}

// RoleSource reports the signed-in user's role.
type RoleSource interface {
	Role() string
}

// Level classifies a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
)

// Notice is a user-facing event worth surfacing.
type Notice struct {
	Level   Level
	Title   string
	Message string
}

// Snapshot is the monitor's view at one instant.
type Snapshot struct {
	Enabled   bool
	Connected bool
	State     realtime.ConnectionState
	Endpoint  string
	CanToggle bool
}

// Monitor tracks the switch and connection and turns channel traffic into
// notices.
type Monitor struct {
	channel  Channel
	roles    RoleSource
	onNotice func(Notice)

	mu        sync.Mutex
	enabled   bool
	connected bool
	state     realtime.ConnectionState
}

// New creates a monitor. onNotice may be nil.
func New(channel Channel, roles RoleSource, onNotice func(Notice)) *Monitor {
	if onNotice == nil {
		onNotice = func(Notice) {}
	}
	return &Monitor{
		channel:  channel,
		roles:    roles,
		onNotice: onNotice,
		enabled:  true,
		state:    realtime.StateDisconnected,
	}
}

// Run connects, follows the channel until ctx is done, then disconnects.
func (m *Monitor) Run(ctx context.Context) {
	unsubscribe := m.channel.Subscribe(m.Handle)
	defer unsubscribe()

	m.channel.Connect()
	defer m.channel.Disconnect()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Handle applies one envelope from the channel.
func (m *Monitor) Handle(env envelope.Envelope) {
	switch env.Type() {
	case envelope.TypeStatus, envelope.TypeToggle:
		enabled, hasEnabled := env.Bool(envelope.FieldEnabled)
		if hasEnabled {
			m.mu.Lock()
			m.enabled = enabled
			m.mu.Unlock()
		}
		if msg := env.Message(); msg != "" {
			n := Notice{Level: LevelError, Title: "Attendance Disabled", Message: msg}
			if enabled {
				n = Notice{Level: LevelSuccess, Title: "Attendance Enabled", Message: msg}
			}
			m.onNotice(n)
		}

	case envelope.TypeError:
		m.onNotice(Notice{Level: LevelError, Title: "Channel Error", Message: env.Message()})

	case envelope.TypeConnectionStatus:
		connected, _ := env.Bool(envelope.FieldConnected)
		m.mu.Lock()
		m.connected = connected
		m.mu.Unlock()

	case envelope.TypeAuthResult:
		log.Debug().Str("result", env.Message()).Msg("channel authentication")
	}
}

// Poll samples the client's connection state and reports changes.
func (m *Monitor) Poll() {
	connected := m.channel.IsConnected()
	state := m.channel.ConnectionState()

	m.mu.Lock()
	changed := state != m.state
	m.connected = connected
	m.state = state
	m.mu.Unlock()

	if changed {
		m.onNotice(Notice{Level: LevelInfo, Title: "Connection State", Message: string(state)})
	}
}

// CanToggle reports whether the signed-in user may flip the switch.
func (m *Monitor) CanToggle() bool {
	return m.roles != nil && m.roles.Role() == security.RoleAdmin
}

// Toggle asks the server to flip the switch. Non-admins and a closed
// channel are refused locally.
func (m *Monitor) Toggle() error {
	if !m.CanToggle() {
		m.onNotice(Notice{Level: LevelError, Title: "Access Denied", Message: "Only administrators can toggle attendance."})
		return fmt.Errorf("only administrators can toggle attendance: %w", domain.ErrAdminRequired)
	}

	m.mu.Lock()
	connected := m.connected
	m.mu.Unlock()
	if !connected {
		m.onNotice(Notice{Level: LevelError, Title: "Connection Error", Message: "Cannot toggle attendance - no connection to server."})
		return fmt.Errorf("cannot toggle attendance: %w", domain.ErrNotConnected)
	}

	m.channel.ToggleAttendance()
	return nil
}

// Reconnect drops the connection and dials again after a short pause.
func (m *Monitor) Reconnect() {
	m.onNotice(Notice{Level: LevelInfo, Title: "Reconnecting...", Message: "Attempting to reconnect to server"})
	m.channel.Reconnect()
}

// Snapshot returns the current view.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Enabled:   m.enabled,
		Connected: m.connected,
		State:     m.state,
		Endpoint:  m.channel.Endpoint(),
		CanToggle: m.CanToggle(),
	}
}
