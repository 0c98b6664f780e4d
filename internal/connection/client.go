package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maja42/aniscraper/internal/version"
)

// Client represents a single websocket connection.
type Client interface {
	// Connect establishes the websocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send queues raw bytes for the write loop.
	Send(data []byte) error

	// Messages returns a channel of raw frames in transport order.
	// Each message includes a local timestamp for when it was received.
	Messages() <-chan TimestampedMessage

	// Done is closed once the read loop has exited.
	Done() <-chan struct{}

	// Err returns the error that ended the connection, nil after a clean close.
	Err() error

	// CloseStatus returns the websocket close code and reason.
	CloseStatus() (code int, reason string)

	// IsClosed reports whether the connection was closed or has terminated.
	IsClosed() bool
}

// ClientFactory creates the client for one Connect call.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan TimestampedMessage
	outbox   chan []byte
	done     chan struct{} // closed by Close
	readDone chan struct{} // closed when the read loop exits
	doneOnce sync.Once

	// State
	mu          sync.RWMutex
	connected   bool
	closed      bool
	lastPongAt  time.Time
	err         error
	closeCode   int
	closeReason string
}

// NewClient creates a new websocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = 1
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		outbox:   make(chan []byte, cfg.SendBuffer),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// Connect establishes the websocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		// Close raced with the handshake.
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.lastPongAt = time.Now()
	c.mu.Unlock()

	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	// Set up ping handler - server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	// Set up pong handler - server responds to our ping
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	go c.readLoop()
	go c.writeLoop()
	go c.heartbeatLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	// Signal goroutines to stop
	close(c.done)

	if conn == nil {
		// Never connected, so no read loop will report termination.
		c.finish()
		return nil
	}

	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// Send queues raw bytes for the write loop without blocking.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	select {
	case c.outbox <- data:
		return nil
	case <-c.readDone:
		return ErrNotConnected
	default:
		return ErrSendBufferFull
	}
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Done returns a channel closed when the connection has terminated.
func (c *client) Done() <-chan struct{} {
	return c.readDone
}

// Err returns the terminal error.
func (c *client) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// CloseStatus returns the close code and reason.
func (c *client) CloseStatus() (int, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closeCode, c.closeReason
}

// IsClosed reports whether the connection is closed.
func (c *client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed || !c.connected
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()
}

// finish records termination exactly once.
func (c *client) finish() {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.connected = false
		if c.closeCode == 0 {
			c.closeCode = websocket.CloseNormalClosure
		}
		c.mu.Unlock()
		close(c.readDone)
	})
}

// recordClose derives the close status from the error that ended the read loop.
func (c *client) recordClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var closeErr *websocket.CloseError
	isCloseErr := errors.As(err, &closeErr)

	switch {
	case isCloseErr:
		c.closeCode = closeErr.Code
		c.closeReason = closeErr.Text
	case c.closed:
		c.closeCode = websocket.CloseNormalClosure
	default:
		c.closeCode = websocket.CloseAbnormalClosure
		c.closeReason = err.Error()
	}

	if c.err != nil || c.closed {
		// Heartbeat already set the cause, or we closed on purpose.
		return
	}
	if isCloseErr && (closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway) {
		return
	}
	c.err = err
}

// fail records err as the cause and tears the socket down so the read loop exits.
func (c *client) fail(err error) {
	c.mu.Lock()
	if c.err == nil && !c.closed {
		c.err = err
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// readLoop reads frames from the websocket and sends them to the messages channel.
func (c *client) readLoop() {
	defer c.finish()

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			c.recordClose(err)
			return
		}

		msg := TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		// Block rather than drop: subscribers rely on transport order.
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

// writeLoop serializes frame writes.
func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.readDone:
			return
		case data := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("websocket write failed", "error", err)
				c.fail(err)
				return
			}
		}
	}
}

// heartbeatLoop monitors for stale connections.
func (c *client) heartbeatLoop() {
	if c.cfg.PingInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.readDone:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			// Check for stale connection (no pong/ping response)
			c.mu.RLock()
			lastPong := c.lastPongAt
			c.mu.RUnlock()

			if c.cfg.PingTimeout > 0 && time.Since(lastPong) > c.cfg.PingTimeout {
				c.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"timeout", c.cfg.PingTimeout,
				)
				c.fail(ErrStaleConnection)
				return
			}
		}
	}
}
