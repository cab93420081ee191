package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrNotIdle       = errors.New("connection already used")
	ErrInvalidURL    = errors.New("invalid websocket url")
	ErrAlreadyClosed = errors.New("already closed")
)

// CloseReason is sent with the normal-closure close frame on Disconnect.
const CloseReason = "Disconnect requested by client."

// closeGrace bounds how long the receive loop waits for the close echo once
// the scope is cancelled.
const closeGrace = 250 * time.Millisecond

// ConnectError is returned by Connect when the socket could not be opened or
// authentication could not be sent.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// SendError is returned when a frame could not be written.
type SendError struct {
	Op  string // e.g. "auth", "subscribe trades:AAPL"
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// State is the lifecycle state of a Connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateAuthenticating
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// canSend reports whether the socket is open for data frames.
func (s State) canSend() bool {
	return s == StateOpen || s == StateAuthenticating || s == StateActive
}

// Config configures a Connection.
type Config struct {
	HandshakeTimeout time.Duration // Dial handshake limit
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // Keepalive ping period (0 = disabled)
	ShutdownTimeout  time.Duration // Max wait for the receive loop on Disconnect
	ReadLimit        int64         // Max inbound message size (0 = unlimited)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		ReadLimit:        1 << 20,
	}
}
