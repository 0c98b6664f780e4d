package server

import (
	"errors"
	"time"
)

// Errors
var (
	ErrUnknownSession = errors.New("unknown session")
	ErrServerClosed   = errors.New("server closed")
)

// SessionKey is the melody session key holding the session ID.
const SessionKey = "session"

// Handler processes one decoded envelope. Handlers of a session run on that
// session's read goroutine, in arrival order.
type Handler func(req *Request)

// Config configures the Server.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	WebappDir       string // Static files served at / (empty = disabled)
	Greeting        string // Sent as "echo" to every new session (empty = disabled)
	MaxMessageSize  int64  // 0 = unlimited
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Address:         ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		Greeting:        "Hello there!",
		MaxMessageSize:  1 << 20,
		ShutdownTimeout: 5 * time.Second,
	}
}

// ExchangeStats contains routing statistics.
type ExchangeStats struct {
	Received int64
	Routed   int64
	Unrouted int64
	ByType   map[string]int64
}

// HealthStatus is served at /healthz.
type HealthStatus struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
	Version  string `json:"version"`
}
