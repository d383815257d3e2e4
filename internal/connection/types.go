package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/soc-realtime/internal/backoff"
	"github.com/rickgao/soc-realtime/internal/heartbeat"
	"github.com/rickgao/soc-realtime/internal/router"
)

// Errors
var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrHeartbeatTimeout     = errors.New("heartbeat timeout")
	ErrNetworkOffline       = errors.New("network offline")
	ErrMaxReconnectExceeded = errors.New("max reconnect attempts exceeded")
	ErrReplayIncomplete     = errors.New("subscription replay incomplete")
	ErrEmptyTopic           = errors.New("topic is required")
	ErrManagerClosed        = errors.New("manager closed")

	ErrNotConnected     = router.ErrNotConnected
	ErrConnectionClosed = router.ErrConnectionClosed
	ErrRequestTimeout   = router.ErrRequestTimeout
)

// TransportError wraps a socket failure.
type TransportError struct {
	Op         string // "dial", "read" or "write"
	StatusCode int    // HTTP status of a failed handshake, if any
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: handshake status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

// States lists every state in declaration order.
var States = []State{
	StateDisconnected,
	StateConnecting,
	StateConnected,
	StateReconnecting,
	StateFailed,
}

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

// Stats is a snapshot of connection statistics.
type Stats struct {
	ConnectedAt      time.Time
	LastActivityAt   time.Time
	MessagesSent     int64
	MessagesReceived int64
	BytesTransferred int64
	ReconnectCount   int           // Reconnect attempts scheduled since creation
	Latency          time.Duration // Last heartbeat round trip
	Attempt          int           // Current backoff attempt, 0 once connected
	ConnectionID     string        // Assigned by the server's connected frame
}

// StateChange describes one transition.
type StateChange struct {
	From  State
	To    State
	Err   error // Cause, for transitions into Reconnecting, Failed or Disconnected
	Stats Stats
}

// Config configures the Connection Manager.
type Config struct {
	URL                  string        // ws:// or wss:// endpoint
	TokenParam           string        // Query parameter carrying the token
	HandshakeTimeout     time.Duration // Dial and upgrade budget
	WriteTimeout         time.Duration // Write deadline for sends
	ReadLimit            int64         // Max inbound frame size in bytes, 0 = unlimited
	Heartbeat            heartbeat.Config
	Backoff              backoff.Policy
	MaxReconnectAttempts int           // Retries before Failed
	RequestTimeout       time.Duration // Default Request timeout
	UserAgent            string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TokenParam:       "token",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
		Heartbeat: heartbeat.Config{
			Interval:  heartbeat.DefaultInterval,
			MaxMissed: heartbeat.DefaultMaxMissed,
		},
		Backoff:              backoff.Default(),
		MaxReconnectAttempts: 10,
		RequestTimeout:       router.DefaultRequestTimeout,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TokenParam == "" {
		c.TokenParam = d.TokenParam
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = d.Heartbeat.Interval
	}
	if c.Heartbeat.MaxMissed <= 0 {
		c.Heartbeat.MaxMissed = d.Heartbeat.MaxMissed
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}
