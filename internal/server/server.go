package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/olahol/melody"
	"golang.org/x/sync/errgroup"

	"github.com/maja42/aniscraper/internal/envelope"
)

// Server accepts websocket sessions speaking the envelope protocol and routes
// their messages through an Exchange.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	melody   *melody.Melody
	router   chi.Router
	exchange *Exchange
	http     *http.Server

	mu       sync.RWMutex
	sessions map[string]*melody.Session
}

// New creates a server with the built-in echo handlers registered.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}

	m := melody.New()
	m.Config.MaxMessageSize = cfg.MaxMessageSize
	if cfg.WriteTimeout > 0 {
		m.Config.WriteWait = cfg.WriteTimeout
	}
	m.Upgrader.CheckOrigin = func(*http.Request) bool { return true }

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		melody:   m,
		exchange: NewExchange(logger.With("component", "exchange")),
		sessions: make(map[string]*melody.Session),
	}

	m.HandleConnect(s.onConnect)
	m.HandleDisconnect(s.onDisconnect)
	m.HandleMessage(s.onMessage)
	m.HandleError(s.onError)

	s.router = s.routes()
	s.http = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	s.registerBuiltins()
	return s
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Exchange returns the message exchange for registering handlers.
func (s *Server) Exchange() *Exchange {
	return s.exchange
}

// SessionCount returns the number of connected sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SendTo writes a fire-and-forget message to one session.
func (s *Server) SendTo(sessionID, messageType string, message any) error {
	env, err := envelope.New(messageType, message)
	if err != nil {
		return err
	}
	return s.write(sessionID, env)
}

// Broadcast writes a fire-and-forget message to every session.
func (s *Server) Broadcast(messageType string, message any) error {
	env, err := envelope.New(messageType, message)
	if err != nil {
		return err
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if err := s.melody.Broadcast(data); err != nil {
		return fmt.Errorf("broadcast %q: %w", messageType, err)
	}
	return nil
}

// Run serves HTTP until ctx is done, then closes all sessions and shuts the
// listener down.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server listening", "address", s.cfg.Address)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listener failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

// Close disconnects every session without stopping the listener.
func (s *Server) Close() error {
	if s.melody.IsClosed() {
		return ErrServerClosed
	}
	return s.melody.CloseWithMsg(melody.FormatCloseMessage(melody.CloseGoingAway, "server shutting down"))
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down http server", "sessions", s.SessionCount())

	if err := s.Close(); err != nil && !errors.Is(err, ErrServerClosed) {
		s.logger.Warn("failed to close websocket sessions", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) write(sessionID string, env envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}

	if err := sess.Write(data); err != nil {
		return fmt.Errorf("write to session %s: %w", sessionID, err)
	}
	return nil
}

func sessionID(sess *melody.Session) string {
	v, _ := sess.Get(SessionKey)
	id, _ := v.(string)
	return id
}

func (s *Server) onConnect(sess *melody.Session) {
	id := sessionID(sess)

	s.mu.Lock()
	s.sessions[id] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("client connected",
		"session", id,
		"remote", sess.Request.RemoteAddr,
		"sessions", count,
	)

	if s.cfg.Greeting == "" {
		return
	}
	if err := s.SendTo(id, "echo", s.cfg.Greeting); err != nil {
		s.logger.Warn("failed to greet client", "session", id, "error", err)
	}
}

func (s *Server) onDisconnect(sess *melody.Session) {
	id := sessionID(sess)

	s.mu.Lock()
	delete(s.sessions, id)
	count := len(s.sessions)
	s.mu.Unlock()

	s.logger.Info("client disconnected", "session", id, "sessions", count)
}

func (s *Server) onError(sess *melody.Session, err error) {
	s.logger.Debug("websocket session error", "session", sessionID(sess), "error", err)
}

// onMessage decodes a frame and publishes it. A frame that is not an
// envelope ends the session.
func (s *Server) onMessage(sess *melody.Session, data []byte) {
	id := sessionID(sess)

	env, err := envelope.Decode(data)
	if err != nil {
		s.logger.Error("failed to decode incoming websocket message, disconnecting",
			"session", id,
			"error", err,
			"message", string(data),
		)
		if err := sess.CloseWithMsg(melody.FormatCloseMessage(melody.CloseProtocolError, "protocol error")); err != nil {
			s.logger.Debug("failed to close session", "session", id, "error", err)
		}
		return
	}

	s.logger.Debug("received message",
		"session", id,
		"type", env.MessageType,
		"kind", env.Kind(),
	)

	s.exchange.Publish(&Request{
		Session:    id,
		Envelope:   env,
		ReceivedAt: time.Now(),
		server:     s,
	})
}
