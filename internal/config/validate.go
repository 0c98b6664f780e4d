package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := c.Client.validate("client"); err != nil {
		return err
	}
	if err := c.Server.validate("server"); err != nil {
		return err
	}
	return c.Log.validate("log")
}

func (cc *ClientConfig) validate(prefix string) error {
	if cc.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	u, err := url.Parse(cc.URL)
	if err != nil {
		return fmt.Errorf("%s.url is invalid: %w", prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s.url must use ws or wss, got %q", prefix, u.Scheme)
	}
	if cc.RequestTimeout <= 0 {
		return fmt.Errorf("%s.request_timeout must be > 0", prefix)
	}
	if cc.WriteTimeout <= 0 {
		return fmt.Errorf("%s.write_timeout must be > 0", prefix)
	}
	if cc.PingInterval > 0 && cc.PingTimeout < cc.PingInterval {
		return fmt.Errorf("%s.ping_timeout (%s) cannot be shorter than ping_interval (%s)",
			prefix, cc.PingTimeout, cc.PingInterval)
	}
	if cc.SendBuffer < 1 {
		return fmt.Errorf("%s.send_buffer must be >= 1", prefix)
	}
	if cc.ExpiredIDs < 1 {
		return fmt.Errorf("%s.expired_ids must be >= 1", prefix)
	}
	return nil
}

func (sc *ServerConfig) validate(prefix string) error {
	if sc.Address == "" {
		return fmt.Errorf("%s.address is required", prefix)
	}
	if sc.MaxMessageSize < 0 {
		return fmt.Errorf("%s.max_message_size must be >= 0", prefix)
	}
	return nil
}

func (lc *LogConfig) validate(prefix string) error {
	switch strings.ToLower(lc.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%s.level must be one of debug, info, warn, error, got %q", prefix, lc.Level)
	}
	switch strings.ToLower(lc.Format) {
	case "text", "json":
	default:
		return errors.New(prefix + ".format must be text or json")
	}
	return nil
}
