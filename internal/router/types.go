package router

import (
	"errors"
	"time"

	"github.com/rickgao/soc-realtime/internal/protocol"
)

// DefaultRequestTimeout applies when Request is called with a zero timeout.
const DefaultRequestTimeout = 5 * time.Second

var (
	ErrRequestTimeout   = errors.New("request timed out")
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionClosed = errors.New("connection closed")
)

// Handler processes one inbound frame. A returned error is logged and
// counted; it does not stop other handlers.
type Handler func(protocol.Frame) error

// Sender writes a frame to the transport. It reports false when the frame
// could not be written.
type Sender func(protocol.Frame) bool

// Config holds configuration for the Message Router.
type Config struct {
	RequestTimeout time.Duration // Default: 5s
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{RequestTimeout: DefaultRequestTimeout}
}

// Stats contains runtime statistics.
type Stats struct {
	Dispatched    int64 // frames delivered to generic handlers
	Unhandled     int64 // frames with no handler for their type
	HandlerErrors int64 // handler errors and recovered panics
	Resolved      int64 // requests completed by a matching response
	Unmatched     int64 // frames whose request_id matched nothing
	TimedOut      int64
	Rejected      int64
	Pending       int
}
