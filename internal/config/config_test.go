package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
client:
  url: ws://example.test/websocket
  request_timeout: 2s
server:
  address: :9000
  greeting: hi
log:
  level: debug
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Client.URL != "ws://example.test/websocket" {
		t.Errorf("Client.URL = %q, want %q", cfg.Client.URL, "ws://example.test/websocket")
	}
	if cfg.Client.RequestTimeout != 2*time.Second {
		t.Errorf("Client.RequestTimeout = %v, want 2s", cfg.Client.RequestTimeout)
	}
	if cfg.Server.Address != ":9000" {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, ":9000")
	}
	if cfg.Server.Greeting != "hi" {
		t.Errorf("Server.Greeting = %q, want %q", cfg.Server.Greeting, "hi")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_SOCKET_HOST", "socket.example.test")

	yaml := `
client:
  url: wss://${TEST_SOCKET_HOST}/websocket
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Client.URL != "wss://socket.example.test/websocket" {
		t.Errorf("Client.URL = %q, want substituted host", cfg.Client.URL)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
client:
  url: ws://localhost:1234/websocket
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.Client.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("Client.RequestTimeout = %v, want default %v", cfg.Client.RequestTimeout, DefaultRequestTimeout)
	}
	if cfg.Client.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("Client.WriteTimeout = %v, want default %v", cfg.Client.WriteTimeout, DefaultWriteTimeout)
	}
	if cfg.Client.SendBuffer != DefaultSendBuffer {
		t.Errorf("Client.SendBuffer = %d, want default %d", cfg.Client.SendBuffer, DefaultSendBuffer)
	}
	if cfg.Server.Address != DefaultServerAddress {
		t.Errorf("Server.Address = %q, want default %q", cfg.Server.Address, DefaultServerAddress)
	}
	if cfg.Server.Greeting != DefaultGreeting {
		t.Errorf("Server.Greeting = %q, want default %q when unset", cfg.Server.Greeting, DefaultGreeting)
	}
	if cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, DefaultLogFormat)
	}
}

func TestLoad_Greeting(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "omitted",
			yaml: "server:\n  address: :9000\n",
			want: DefaultGreeting,
		},
		{
			name: "explicitly empty",
			yaml: "server:\n  greeting: \"\"\n",
			want: "",
		},
		{
			name: "custom",
			yaml: "server:\n  greeting: welcome\n",
			want: "welcome",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadWithDefaults(writeTempFile(t, tt.yaml))
			if err != nil {
				t.Fatalf("LoadWithDefaults failed: %v", err)
			}
			if cfg.Server.Greeting != tt.want {
				t.Errorf("Server.Greeting = %q, want %q", cfg.Server.Greeting, tt.want)
			}
		})
	}

	if got := Default().Server.Greeting; got != DefaultGreeting {
		t.Errorf("Default().Server.Greeting = %q, want %q", got, DefaultGreeting)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempFile(t, "client: [unterminated")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid yaml")
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "client:\n  url: http://wrong.scheme\n")
	if _, err := LoadAndValidate(path); err == nil {
		t.Error("expected validation error for http scheme")
	}

	path = writeTempFile(t, "client:\n  url: ws://localhost/websocket\n")
	if _, err := LoadAndValidate(path); err != nil {
		t.Errorf("LoadAndValidate unexpected error: %v", err)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if cfg.Server.Greeting != DefaultGreeting {
		t.Errorf("Server.Greeting = %q, want %q", cfg.Server.Greeting, DefaultGreeting)
	}
	if cfg.Client.RequestTimeout != 10*time.Second {
		t.Errorf("Client.RequestTimeout = %v, want 10s", cfg.Client.RequestTimeout)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return *Default()
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing client url",
			mutate:  func(c *Config) { c.Client.URL = "" },
			wantErr: "client.url is required",
		},
		{
			name:    "wrong scheme",
			mutate:  func(c *Config) { c.Client.URL = "http://localhost" },
			wantErr: `client.url must use ws or wss, got "http"`,
		},
		{
			name:    "zero request timeout",
			mutate:  func(c *Config) { c.Client.RequestTimeout = 0 },
			wantErr: "client.request_timeout must be > 0",
		},
		{
			name: "ping timeout shorter than interval",
			mutate: func(c *Config) {
				c.Client.PingInterval = 30 * time.Second
				c.Client.PingTimeout = 10 * time.Second
			},
			wantErr: "client.ping_timeout (10s) cannot be shorter than ping_interval (30s)",
		},
		{
			name:    "zero send buffer",
			mutate:  func(c *Config) { c.Client.SendBuffer = 0 },
			wantErr: "client.send_buffer must be >= 1",
		},
		{
			name:    "missing server address",
			mutate:  func(c *Config) { c.Server.Address = "" },
			wantErr: "server.address is required",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: `log.level must be one of debug, info, warn, error, got "verbose"`,
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: "log.format must be text or json",
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
