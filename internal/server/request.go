package server

import (
	"time"

	"github.com/maja42/aniscraper/internal/envelope"
)

// Request is one envelope received from a session.
type Request struct {
	Session    string
	Envelope   envelope.Envelope
	ReceivedAt time.Time // Frame arrival, before handlers ran

	server *Server
}

// Reply answers a request with a "<type>-reply" envelope whose responseFor
// echoes the request's answerAt. Fails with envelope.ErrNoAnswerAt when the
// sender did not ask for an answer.
func (r *Request) Reply(message any) error {
	env, err := envelope.Reply(r.Envelope, message)
	if err != nil {
		return err
	}
	return r.server.write(r.Session, env)
}

// Send writes a fire-and-forget message back to the sending session.
func (r *Request) Send(messageType string, message any) error {
	return r.server.SendTo(r.Session, messageType, message)
}

// Unmarshal decodes the payload into v.
func (r *Request) Unmarshal(v any) error {
	return r.Envelope.Unmarshal(v)
}
