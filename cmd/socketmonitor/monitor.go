package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maja42/aniscraper/internal/connection"
	"github.com/maja42/aniscraper/internal/envelope"
)

const aliveMessage = "I am alive!"

var errEchoMismatch = errors.New("echo channel is broken")

// monitor checks the echo channel on every connect, answers the server's
// echo messages and reports lifecycle events.
type monitor struct {
	mgr    *connection.Manager
	logger *slog.Logger

	// echoResults receives the outcome of each echo check.
	echoResults chan error
	// disconnected receives one value per disconnect.
	disconnected chan connection.MetaEvent
}

func newMonitor(mgr *connection.Manager, logger *slog.Logger) *monitor {
	return &monitor{
		mgr:          mgr,
		logger:       logger,
		echoResults:  make(chan error, 8),
		disconnected: make(chan connection.MetaEvent, 8),
	}
}

// attach registers all subscriptions for the lifetime of scope.
func (mon *monitor) attach(scope context.Context) error {
	if _, err := mon.mgr.SubscribeToMeta(scope, connection.MetaConnected, mon.onConnected); err != nil {
		return err
	}
	if _, err := mon.mgr.SubscribeToMeta(scope, connection.MetaError, mon.onError); err != nil {
		return err
	}
	if _, err := mon.mgr.SubscribeToMeta(scope, connection.MetaDisconnected, mon.onDisconnected); err != nil {
		return err
	}
	mon.mgr.Subscribe(scope, mon.onEcho, "echo")
	return nil
}

func (mon *monitor) onConnected(e connection.MetaEvent) {
	mon.logger.Info("connected to websocket", "url", e.URL, "session", e.Session)
	mon.logger.Debug("sending echo message", "message", aliveMessage)

	err := mon.mgr.Send("echo", aliveMessage,
		func(messageType string, message json.RawMessage) {
			var text string
			if messageType != envelope.ReplyType("echo") || json.Unmarshal(message, &text) != nil || text != aliveMessage {
				err := fmt.Errorf("%w: server responded with type %q message %s", errEchoMismatch, messageType, message)
				mon.logger.Error("echo channel is broken, the server responded with a different message",
					"type", messageType,
					"message", string(message),
				)
				mon.report(err)
				return
			}
			mon.logger.Info("echo channel works, the server responded correctly")
			mon.report(nil)
		},
		func(err error) {
			mon.logger.Error("echo channel is broken", "error", err)
			mon.report(fmt.Errorf("%w: %w", errEchoMismatch, err))
		},
	)
	if err != nil {
		mon.report(err)
	}
}

func (mon *monitor) onError(e connection.MetaEvent) {
	mon.logger.Error("websocket error", "error", e.Err)
}

func (mon *monitor) onDisconnected(e connection.MetaEvent) {
	mon.logger.Info("disconnected from websocket", "code", e.Code, "reason", e.Reason)
	select {
	case mon.disconnected <- e:
	default:
	}
}

func (mon *monitor) onEcho(_ string, message json.RawMessage) {
	mon.logger.Info("replying to echo message", "message", string(message))
	mon.mgr.Send(envelope.ReplyType("echo"), message, nil, nil)
}

func (mon *monitor) report(err error) {
	select {
	case mon.echoResults <- err:
	default:
	}
}
