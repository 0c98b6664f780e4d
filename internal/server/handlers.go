package server

import (
	"github.com/maja42/aniscraper/internal/envelope"
)

const (
	TypeEcho      = "echo"
	TypeEchoReply = "echo" + envelope.ReplySuffix
)

func (s *Server) registerBuiltins() {
	s.exchange.Handle(TypeEcho, s.echo)
	s.exchange.Handle(TypeEchoReply, s.echoReply)
}

// echo returns the payload: as a correlated reply when the sender asked for
// one, otherwise as a plain echo-reply message.
func (s *Server) echo(req *Request) {
	var err error
	if req.Envelope.Kind() == envelope.KindRequest {
		err = req.Reply(req.Envelope.Message)
	} else {
		err = req.Send(TypeEchoReply, req.Envelope.Message)
	}
	if err != nil {
		s.logger.Warn("failed to answer echo", "session", req.Session, "error", err)
	}
}

func (s *Server) echoReply(req *Request) {
	s.logger.Info("echo reply received",
		"session", req.Session,
		"message", string(req.Envelope.Message),
	)
}
