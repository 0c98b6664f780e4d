package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultClientURL        = "ws://localhost:8080/websocket"
	DefaultRequestTimeout   = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPingTimeout      = 60 * time.Second
	DefaultReadLimit        = 1 << 20
	DefaultSendBuffer       = 256
	DefaultExpiredIDs       = 1024

	DefaultServerAddress      = ":8080"
	DefaultServerReadTimeout  = 10 * time.Second
	DefaultServerWriteTimeout = 10 * time.Second
	DefaultGreeting           = "Hello there!"
	DefaultMaxMessageSize     = 1 << 20

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// ApplyDefaults fills zero-valued optional fields. Server.Greeting and
// Server.WebappDir are left alone: empty disables them. The greeting default
// is seeded before parsing instead, see newConfig.
func (c *Config) ApplyDefaults() {
	// Client defaults
	if c.Client.URL == "" {
		c.Client.URL = DefaultClientURL
	}
	if c.Client.RequestTimeout == 0 {
		c.Client.RequestTimeout = DefaultRequestTimeout
	}
	if c.Client.WriteTimeout == 0 {
		c.Client.WriteTimeout = DefaultWriteTimeout
	}
	if c.Client.HandshakeTimeout == 0 {
		c.Client.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Client.PingInterval == 0 {
		c.Client.PingInterval = DefaultPingInterval
	}
	if c.Client.PingTimeout == 0 {
		c.Client.PingTimeout = DefaultPingTimeout
	}
	if c.Client.ReadLimit == 0 {
		c.Client.ReadLimit = DefaultReadLimit
	}
	if c.Client.SendBuffer == 0 {
		c.Client.SendBuffer = DefaultSendBuffer
	}
	if c.Client.ExpiredIDs == 0 {
		c.Client.ExpiredIDs = DefaultExpiredIDs
	}

	// Server defaults
	if c.Server.Address == "" {
		c.Server.Address = DefaultServerAddress
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = DefaultMaxMessageSize
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
