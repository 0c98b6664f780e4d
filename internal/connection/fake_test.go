package connection

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maja42/aniscraper/internal/envelope"
)

// fakeClient implements Client without a network. Connect blocks until the
// test calls open (or fails with dialErr).
type fakeClient struct {
	cfg ClientConfig

	gate     chan struct{}
	dialErr  error
	messages chan TimestampedMessage
	sent     chan []byte
	done     chan struct{}
	doneOnce sync.Once

	mu        sync.Mutex
	connected bool
	closed    bool
	err       error
	code      int
	reason    string
}

func newFakeClient(cfg ClientConfig) *fakeClient {
	return &fakeClient{
		cfg:      cfg,
		gate:     make(chan struct{}),
		messages: make(chan TimestampedMessage, 100),
		sent:     make(chan []byte, 100),
		done:     make(chan struct{}),
	}
}

func (f *fakeClient) Connect(ctx context.Context) error {
	select {
	case <-f.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	if f.dialErr != nil {
		return f.dialErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrAlreadyClosed
	}
	f.connected = true
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.connected = false
	if f.code == 0 {
		f.code = websocket.CloseNormalClosure
	}
	f.mu.Unlock()

	f.finish()
	return nil
}

func (f *fakeClient) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	f.sent <- append([]byte(nil), data...)
	return nil
}

func (f *fakeClient) Messages() <-chan TimestampedMessage { return f.messages }
func (f *fakeClient) Done() <-chan struct{}               { return f.done }

func (f *fakeClient) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeClient) CloseStatus() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.reason
}

func (f *fakeClient) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed || !f.connected
}

func (f *fakeClient) finish() {
	f.doneOnce.Do(func() { close(f.done) })
}

// open lets the pending Connect succeed.
func (f *fakeClient) open() {
	close(f.gate)
}

// deliver simulates an incoming frame.
func (f *fakeClient) deliver(data string) {
	f.messages <- TimestampedMessage{Data: []byte(data), ReceivedAt: time.Now()}
}

// drop simulates the peer ending the connection.
func (f *fakeClient) drop(code int, reason string, err error) {
	f.mu.Lock()
	f.connected = false
	f.code = code
	f.reason = reason
	f.err = err
	f.mu.Unlock()
	f.finish()
}

// nextSent returns the next frame written by the manager.
func (f *fakeClient) nextSent(t *testing.T) envelope.Envelope {
	t.Helper()
	select {
	case data := <-f.sent:
		env, err := envelope.Decode(data)
		if err != nil {
			t.Fatalf("sent frame %q does not decode: %v", data, err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for sent frame")
	}
	return envelope.Envelope{}
}

// syncBuffer is a goroutine-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestManager returns a manager whose clients are fakes, delivered on the
// returned channel as Connect creates them.
func newTestManager(t *testing.T, timeout time.Duration, logger *slog.Logger) (*Manager, <-chan *fakeClient) {
	t.Helper()

	if logger == nil {
		logger = discardLogger()
	}
	clients := make(chan *fakeClient, 10)
	factory := func(cfg ClientConfig, _ *slog.Logger) Client {
		fc := newFakeClient(cfg)
		clients <- fc
		return fc
	}

	cfg := DefaultManagerConfig()
	cfg.RequestTimeout = timeout
	m := NewManager(cfg, logger, WithClientFactory(factory))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Close(ctx)
	})
	return m, clients
}

// connectFake connects m and waits until the open event was processed.
func connectFake(t *testing.T, m *Manager, clients <-chan *fakeClient) *fakeClient {
	t.Helper()

	if err := m.Connect("ws://fake.test/websocket"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	var fc *fakeClient
	select {
	case fc = <-clients:
	case <-time.After(time.Second):
		t.Fatal("no client created")
	}
	fc.open()
	waitFor(t, "connected", m.IsConnected)
	return fc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
