package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/maja42/aniscraper/internal/envelope"
)

// Option customizes a Manager.
type Option func(*Manager)

// WithClientFactory replaces the websocket client, mainly for tests.
func WithClientFactory(f ClientFactory) Option {
	return func(m *Manager) {
		if f != nil {
			m.newClient = f
		}
	}
}

// Manager owns one websocket connection, dispatches incoming envelopes to
// subscribers and correlates requests with their responses.
//
// Every callback runs on a single callback goroutine in event order, so
// callbacks never run concurrently with each other. Callbacks may call Send
// and Subscribe, but must not call Request or Close.
type Manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	newClient ClientFactory
	loop      *callbackLoop
	wg        sync.WaitGroup

	mu         sync.Mutex
	state      State
	client     Client
	session    string
	url        string
	opened     bool
	cancelDial context.CancelFunc
	destroyed  bool
	pending    *pendingTable
	subs       *registry

	sent     atomic.Int64
	received atomic.Int64
	dropped  atomic.Int64
	timeouts atomic.Int64
}

// NewManager creates a new Connection Manager. It does not connect.
func NewManager(cfg ManagerConfig, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultManagerConfig().RequestTimeout
	}

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		newClient: NewClient,
		loop:      newCallbackLoop(logger),
		pending:   newPendingTable(cfg.ExpiredIDs),
		subs:      newRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens a connection to url. It returns immediately; the outcome is
// reported through the "connected", "error" and "disconnected" meta events.
func (m *Manager) Connect(url string) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		m.logger.Error("connect on closed connection manager", "url", url)
		return ErrManagerClosed
	}
	if m.client != nil {
		state := m.state
		m.mu.Unlock()
		m.logger.Error("already connected, disconnect before initiating a new connection",
			"state", state,
			"url", url,
		)
		return ErrAlreadyConnected
	}

	session := uuid.NewString()
	logger := m.logger.With("session", session)

	cfg := m.cfg.Client
	cfg.URL = url
	c := m.newClient(cfg, logger)
	ctx, cancel := context.WithCancel(context.Background())

	m.client = c
	m.session = session
	m.url = url
	m.opened = false
	m.state = StateConnecting
	m.cancelDial = cancel
	m.mu.Unlock()

	logger.Info("connecting to websocket", "url", url)

	m.wg.Add(1)
	go m.run(ctx, c)

	return nil
}

// Disconnect requests closure. The state becomes Disconnected only when the
// transport reports the close.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.client == nil {
		m.mu.Unlock()
		m.logger.Warn("not connected, unable to disconnect")
		return ErrNotConnected
	}
	c := m.client
	cancel := m.cancelDial
	m.state = StateClosing
	m.mu.Unlock()

	cancel()
	if err := c.Close(); err != nil {
		m.logger.Debug("close websocket", "error", err)
	}
	return nil
}

// IsConnected reports whether messages can be sent: a client exists, it has
// not closed, and its open event has fired.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isConnectedLocked()
}

func (m *Manager) isConnectedLocked() bool {
	if m.destroyed || m.client == nil {
		return false
	}
	if m.client.IsClosed() {
		return false
	}
	return m.opened
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send transmits an envelope of the given type. When onSuccess or onError is
// set the envelope carries a fresh correlation ID and exactly one of them is
// called later: onSuccess with the response, or onError with
// ErrTimeoutReached, ErrConnectionClosed, ErrDestroyed or a send failure.
//
// Send never blocks on the network. When not connected it logs and returns
// ErrNotConnected without calling either handler.
func (m *Manager) Send(messageType string, message any, onSuccess MessageHandler, onError ErrorHandler) error {
	env, err := envelope.New(messageType, message)
	if err != nil {
		m.logger.Error("unable to send message: encoding failed",
			"type", messageType,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	m.mu.Lock()
	if !m.isConnectedLocked() {
		m.mu.Unlock()
		m.logger.Error("unable to send message: not connected",
			"type", messageType,
			"message", message,
		)
		return ErrNotConnected
	}
	c := m.client

	var req *pendingRequest
	if onSuccess != nil || onError != nil {
		id := m.pending.nextID()
		env.AnswerAt = id
		req = &pendingRequest{
			id:          id,
			messageType: messageType,
			onSuccess:   onSuccess,
			onError:     onError,
			sentAt:      time.Now(),
		}
		req.timer = time.AfterFunc(m.cfg.RequestTimeout, func() { m.expire(id) })
		m.pending.add(req)
	}
	m.mu.Unlock()

	data, err := envelope.Encode(env)
	if err == nil {
		err = c.Send(data)
	}
	if err != nil {
		m.logger.Error("unable to send message",
			"type", messageType,
			"error", err,
		)
		if req != nil {
			m.failPending(req.id, err)
		}
		return err
	}

	m.sent.Add(1)
	return nil
}

// Request sends a message and blocks until its response arrives, the request
// fails, or ctx is done. Must not be called from a callback.
func (m *Manager) Request(ctx context.Context, messageType string, message any) (envelope.Envelope, error) {
	type result struct {
		env envelope.Envelope
		err error
	}
	ch := make(chan result, 1)

	err := m.Send(messageType, message,
		func(respType string, resp json.RawMessage) {
			ch <- result{env: envelope.Envelope{MessageType: respType, Message: resp}}
		},
		func(err error) {
			ch <- result{err: err}
		},
	)
	if err != nil {
		return envelope.Envelope{}, err
	}

	select {
	case r := <-ch:
		return r.env, r.err
	case <-ctx.Done():
		return envelope.Envelope{}, ctx.Err()
	}
}

// Subscribe registers handler for every incoming message whose type is one of
// messageTypes. The subscription ends when scope is done or Cancel is called.
// Handlers of one message run in registration order.
func (m *Manager) Subscribe(scope context.Context, handler MessageHandler, messageTypes ...string) *Subscription {
	if len(messageTypes) == 0 || handler == nil {
		m.logger.Error("invalid subscription: message types and handler are required",
			"types", messageTypes,
		)
		return &Subscription{}
	}

	types := make(map[string]struct{}, len(messageTypes))
	for _, t := range messageTypes {
		types[t] = struct{}{}
	}
	s := &Subscription{types: types, onMessage: handler}

	if !m.register(scope, s, m.subs.addMessage) {
		return &Subscription{}
	}
	return s
}

// SubscribeToMeta registers handler for a connection lifecycle event:
// "connected", "error" or "disconnected". Any other type is logged and
// nothing is registered.
func (m *Manager) SubscribeToMeta(scope context.Context, eventType MetaEventType, handler MetaHandler) (*Subscription, error) {
	if !eventType.Valid() {
		m.logger.Error("invalid meta event type, unable to subscribe", "event_type", eventType)
		return &Subscription{}, fmt.Errorf("%w: %q", ErrInvalidMetaEvent, eventType)
	}
	if handler == nil {
		m.logger.Error("invalid meta subscription: handler is required", "event_type", eventType)
		return &Subscription{}, fmt.Errorf("%w: nil handler", ErrInvalidMetaEvent)
	}

	s := &Subscription{meta: eventType, onMeta: handler}
	if !m.register(scope, s, m.subs.addMeta) {
		return &Subscription{}, ErrManagerClosed
	}
	return s, nil
}

func (m *Manager) register(scope context.Context, s *Subscription, add func(*Subscription)) bool {
	if scope == nil {
		scope = context.Background()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		m.logger.Error("subscribe on closed connection manager")
		return false
	}

	s.remove = m.unsubscribe
	add(s)
	if scope.Done() != nil {
		s.stopScope = context.AfterFunc(scope, s.Cancel)
	}
	return true
}

func (m *Manager) unsubscribe(s *Subscription) {
	m.mu.Lock()
	m.subs.remove(s)
	stop := s.stopScope
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Stats returns a snapshot of the manager's bookkeeping.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	state := m.state
	pending := m.pending.len()
	subs, meta := m.subs.counts()
	m.mu.Unlock()

	return Stats{
		State:             state,
		Pending:           pending,
		Subscriptions:     subs,
		MetaSubscriptions: meta,
		Sent:              m.sent.Load(),
		Received:          m.received.Load(),
		Dropped:           m.dropped.Load(),
		Timeouts:          m.timeouts.Load(),
		Queued:            m.loop.queue.Len(),
	}
}

// Close tears the manager down: the connection is closed, every pending
// request fails with ErrDestroyed, queued callbacks are delivered and the
// callback loop stops. Must not be called from a callback.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.destroyed = true
	c := m.client
	cancel := m.cancelDial
	if c != nil {
		m.state = StateClosing
	}
	failed := m.pending.drain()
	m.mu.Unlock()

	m.logger.Info("stopping connection manager", "pending", len(failed))

	// Posted before the close so the failures precede the disconnected event.
	if len(failed) > 0 {
		m.loop.post(func() {
			for _, r := range failed {
				r.fail(ErrDestroyed)
			}
		})
	}

	if cancel != nil {
		cancel()
	}
	if c != nil {
		c.Close()
	}

	// Wait for the connection goroutine to report the close, then let the
	// loop drain.
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.loop.stop()
		m.loop.wait()

		m.mu.Lock()
		stops := m.subs.clear()
		m.mu.Unlock()
		for _, stop := range stops {
			stop()
		}
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("connection manager stop timed out")
		return ctx.Err()
	}
}

// run drives one client from dial to close.
func (m *Manager) run(ctx context.Context, c Client) {
	defer m.wg.Done()

	if err := c.Connect(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrAlreadyClosed) {
			m.handleClose(c, websocket.CloseNormalClosure, "connect aborted")
			return
		}
		m.handleError(c, err)
		m.handleClose(c, websocket.CloseAbnormalClosure, err.Error())
		return
	}

	m.handleOpen(c)

	for {
		select {
		case msg := <-c.Messages():
			m.handleFrame(c, msg)
		case <-c.Done():
			m.drain(c)
			if err := c.Err(); err != nil {
				m.handleError(c, err)
			}
			code, reason := c.CloseStatus()
			m.handleClose(c, code, reason)
			return
		}
	}
}

// drain delivers frames the read loop queued before it exited.
func (m *Manager) drain(c Client) {
	for {
		select {
		case msg := <-c.Messages():
			m.handleFrame(c, msg)
		default:
			return
		}
	}
}

func (m *Manager) handleOpen(c Client) {
	m.mu.Lock()
	if m.client != c {
		m.mu.Unlock()
		return
	}
	m.opened = true
	if m.state == StateConnecting {
		m.state = StateOpen
	}
	event := MetaEvent{Type: MetaConnected, Session: m.session, URL: m.url}
	subs := m.subs.metaHandlers(MetaConnected)
	m.mu.Unlock()

	m.logger.Info("websocket connected", "session", event.Session, "url", event.URL)
	m.postMeta(subs, event)
}

func (m *Manager) handleError(c Client, err error) {
	m.mu.Lock()
	if m.client != c {
		m.mu.Unlock()
		return
	}
	event := MetaEvent{Type: MetaError, Session: m.session, URL: m.url, Err: err}
	subs := m.subs.metaHandlers(MetaError)
	m.mu.Unlock()

	m.logger.Warn("websocket error", "session", event.Session, "error", err)
	m.postMeta(subs, event)
}

func (m *Manager) handleClose(c Client, code int, reason string) {
	m.mu.Lock()
	if m.client != c {
		m.mu.Unlock()
		return
	}
	event := MetaEvent{
		Type:    MetaDisconnected,
		Session: m.session,
		URL:     m.url,
		Code:    code,
		Reason:  reason,
	}
	cancel := m.cancelDial
	m.client = nil
	m.cancelDial = nil
	m.opened = false
	m.state = StateDisconnected
	failed := m.pending.drain()
	subs := m.subs.metaHandlers(MetaDisconnected)
	m.mu.Unlock()

	cancel()
	m.logger.Info("websocket disconnected",
		"session", event.Session,
		"code", code,
		"reason", reason,
		"failed_requests", len(failed),
	)

	m.loop.post(func() {
		for _, r := range failed {
			r.fail(ErrConnectionClosed)
		}
		for _, s := range subs {
			s.deliverMeta(event)
		}
	})
}

func (m *Manager) postMeta(subs []*Subscription, event MetaEvent) {
	if len(subs) == 0 {
		return
	}
	m.loop.post(func() {
		for _, s := range subs {
			s.deliverMeta(event)
		}
	})
}

// handleFrame decodes one frame and routes it to correlation or dispatch.
func (m *Manager) handleFrame(c Client, msg TimestampedMessage) {
	env, err := envelope.Decode(msg.Data)
	if err != nil {
		m.dropped.Add(1)
		m.logger.Error("failed to parse incoming websocket message",
			"error", err,
			"message", string(msg.Data),
		)
		return
	}
	m.received.Add(1)

	m.logger.Debug("received incoming message",
		"type", env.MessageType,
		"kind", env.Kind(),
	)

	if env.ResponseFor != 0 {
		m.resolve(env, msg.ReceivedAt)
		return
	}

	m.mu.Lock()
	if m.client != c {
		m.mu.Unlock()
		return
	}
	subs := m.subs.match(env.MessageType)
	m.mu.Unlock()

	if len(subs) == 0 {
		m.logger.Debug("no subscribers for message type", "type", env.MessageType)
		return
	}

	m.loop.post(func() {
		for _, s := range subs {
			s.deliver(env.MessageType, env.Message)
		}
	})
}

// resolve hands a response to its pending request.
func (m *Manager) resolve(env envelope.Envelope, receivedAt time.Time) {
	m.mu.Lock()
	req, ok := m.pending.take(env.ResponseFor)
	var expiredAt time.Time
	var late bool
	if !ok {
		expiredAt, late = m.pending.expiredAt(env.ResponseFor)
	}
	m.mu.Unlock()

	if !ok {
		m.dropped.Add(1)
		if late {
			m.logger.Warn("dropping late response for expired request",
				"response_for", env.ResponseFor,
				"type", env.MessageType,
				"expired_ago", time.Since(expiredAt),
			)
		} else {
			m.logger.Error("dropping response for unknown correlation id",
				"response_for", env.ResponseFor,
				"type", env.MessageType,
			)
		}
		return
	}

	m.logger.Debug("response received",
		"id", req.id,
		"request_type", req.messageType,
		"type", env.MessageType,
		"latency", receivedAt.Sub(req.sentAt),
	)
	m.loop.post(func() { req.succeed(env.MessageType, env.Message) })
}

// expire is the timer callback of a pending request.
//
// The failure is posted before the lock is released: Close drains the
// pending table under the same lock and stops the loop afterwards, so a
// request is either drained by Close or its timeout reaches the loop.
func (m *Manager) expire(id uint64) {
	m.mu.Lock()
	req, ok := m.pending.expire(id)
	if ok {
		m.timeouts.Add(1)
		m.loop.post(func() { req.fail(ErrTimeoutReached) })
	}
	m.mu.Unlock()

	if !ok {
		// Resolved concurrently.
		return
	}

	m.logger.Debug("request timed out",
		"id", id,
		"type", req.messageType,
		"timeout", m.cfg.RequestTimeout,
	)
}

// failPending resolves a request through its error path if still pending.
func (m *Manager) failPending(id uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req, ok := m.pending.take(id); ok {
		m.loop.post(func() { req.fail(err) })
	}
}
