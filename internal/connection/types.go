package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrStaleConnection  = errors.New("connection stale (no pong)")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrInvalidMetaEvent = errors.New("invalid meta event type")
	ErrManagerClosed    = errors.New("connection manager closed")
	ErrEncode           = errors.New("encode message")

	// Delivered to error handlers of pending requests.
	ErrTimeoutReached   = errors.New("Timeout reached.")
	ErrDestroyed        = errors.New("Connection manager destroyed.")
	ErrConnectionClosed = errors.New("Connection closed.")
)

// MessageHandler receives an application message or a correlated response.
type MessageHandler func(messageType string, message json.RawMessage)

// ErrorHandler receives the reason a pending request failed.
type ErrorHandler func(err error)

// MetaHandler receives connection lifecycle notifications.
type MetaHandler func(event MetaEvent)

// State is the lifecycle state of the managed connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "disconnected"
	}
}

// MetaEventType names a connection lifecycle transition.
type MetaEventType string

const (
	MetaConnected    MetaEventType = "connected"
	MetaError        MetaEventType = "error"
	MetaDisconnected MetaEventType = "disconnected"
)

// Valid reports whether t is one of the known meta event types.
func (t MetaEventType) Valid() bool {
	switch t {
	case MetaConnected, MetaError, MetaDisconnected:
		return true
	}
	return false
}

// MetaEvent describes a lifecycle transition of one connection.
type MetaEvent struct {
	Type    MetaEventType
	Session string // Unique per Connect call
	URL     string
	Err     error  // MetaError only
	Code    int    // MetaDisconnected only (websocket close code)
	Reason  string // MetaDisconnected only
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the websocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Stats is a snapshot of the manager's bookkeeping.
type Stats struct {
	State             State
	Pending           int   // Requests awaiting a response
	Subscriptions     int   // Message subscriptions
	MetaSubscriptions int   // Meta event subscriptions
	Sent              int64 // Envelopes handed to the transport
	Received          int64 // Envelopes decoded from the transport
	Dropped           int64 // Malformed frames and unmatched responses
	Timeouts          int64 // Requests that expired without a response
	Queued            int   // Callbacks waiting on the callback loop
}

// ClientConfig configures a websocket client.
type ClientConfig struct {
	URL              string        // Websocket URL (e.g., ws://localhost:8080/websocket)
	HandshakeTimeout time.Duration // Dial handshake limit
	WriteTimeout     time.Duration // Write deadline per frame
	PingInterval     time.Duration // Client ping period (0 = no pings)
	PingTimeout      time.Duration // Max time without pong before considering connection stale
	ReadLimit        int64         // Max incoming frame size (0 = unlimited)
	SendBuffer       int           // Frames queued for the write loop
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		ReadLimit:        1 << 20,
		SendBuffer:       256,
		BufferSize:       256,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Client         ClientConfig  // Template for every connection; URL comes from Connect
	RequestTimeout time.Duration // Wait for a correlated response
	ExpiredIDs     int           // Expired correlation IDs remembered for diagnostics
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:         DefaultClientConfig(),
		RequestTimeout: 10 * time.Second,
		ExpiredIDs:     1024,
	}
}
