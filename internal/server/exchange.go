package server

import (
	"log/slog"
	"sync"
	"time"
)

// Exchange routes incoming envelopes to the handlers registered for their
// message type.
type Exchange struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler

	statsMu  sync.Mutex
	received int64
	routed   int64
	unrouted int64
	byType   map[string]int64
}

// NewExchange creates an empty exchange.
func NewExchange(logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = slog.Default()
	}

	return &Exchange{
		logger:   logger,
		handlers: make(map[string][]Handler),
		byType:   make(map[string]int64),
	}
}

// Handle registers h for messageType. Handlers run in registration order.
func (e *Exchange) Handle(messageType string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[messageType] = append(e.handlers[messageType], h)
}

// Publish hands req to every handler of its type and returns how many ran.
func (e *Exchange) Publish(req *Request) int {
	messageType := req.Envelope.MessageType

	e.mu.RLock()
	handlers := e.handlers[messageType]
	e.mu.RUnlock()

	e.statsMu.Lock()
	e.received++
	e.byType[messageType]++
	if len(handlers) == 0 {
		e.unrouted++
	} else {
		e.routed++
	}
	e.statsMu.Unlock()

	if len(handlers) == 0 {
		e.logger.Warn("no recipients for message type",
			"type", messageType,
			"session", req.Session,
		)
		return 0
	}

	for _, h := range handlers {
		h(req)
	}
	e.logger.Debug("message handled",
		"type", messageType,
		"session", req.Session,
		"handlers", len(handlers),
		"elapsed", time.Since(req.ReceivedAt),
	)
	return len(handlers)
}

// Stats returns current statistics.
func (e *Exchange) Stats() ExchangeStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	byType := make(map[string]int64, len(e.byType))
	for k, v := range e.byType {
		byType[k] = v
	}

	return ExchangeStats{
		Received: e.received,
		Routed:   e.routed,
		Unrouted: e.unrouted,
		ByType:   byType,
	}
}
