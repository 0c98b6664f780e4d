package config

import "time"

// Config is the root configuration.
type Config struct {
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// ClientConfig holds Connection Manager settings.
type ClientConfig struct {
	URL              string        `yaml:"url"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`   // Wait for a correlated reply
	WriteTimeout     time.Duration `yaml:"write_timeout"`     // Deadline per frame write
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"` // Websocket dial handshake
	PingInterval     time.Duration `yaml:"ping_interval"`
	PingTimeout      time.Duration `yaml:"ping_timeout"` // No pong for this long = stale
	ReadLimit        int64         `yaml:"read_limit"`   // Max frame size in bytes
	SendBuffer       int           `yaml:"send_buffer"`  // Frames queued for the writer
	ExpiredIDs       int           `yaml:"expired_ids"`  // Expired correlation IDs remembered
}

// ServerConfig holds envelope server settings.
type ServerConfig struct {
	Address        string        `yaml:"address"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	WebappDir      string        `yaml:"webapp_dir"` // Static files served at / (empty = disabled)
	Greeting       string        `yaml:"greeting"`   // Sent as "echo" on connect ("" = disabled, unset = default)
	MaxMessageSize int64         `yaml:"max_message_size"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
