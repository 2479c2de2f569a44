package realtime

// ConnectionState is the externally visible state of the channel.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateClosing      ConnectionState = "CLOSING"
	StateUnknown      ConnectionState = "UNKNOWN"
)

// readyState mirrors the WebSocket readyState values of a transport.
type readyState int32

const (
	readyConnecting readyState = iota
	readyOpen
	readyClosing
	readyClosed
)

func (s readyState) connectionState() ConnectionState {
	switch s {
	case readyConnecting:
		return StateConnecting
	case readyOpen:
		return StateConnected
	case readyClosing:
		return StateClosing
	case readyClosed:
		return StateDisconnected
	default:
		return StateUnknown
	}
}
