package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ReplySuffix is appended to a request's type to name its reply.
const ReplySuffix = "-reply"

// Errors
var (
	ErrMissingType = errors.New("envelope has no messageType")
	ErrBothIDs     = errors.New("envelope sets both answerAt and responseFor")
	ErrNoAnswerAt  = errors.New("envelope does not expect an answer")
)

// Kind classifies an envelope by its correlation fields.
type Kind int

const (
	KindMessage Kind = iota
	KindRequest
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return "message"
	}
}

// Envelope is the wire format shared by client and server.
type Envelope struct {
	MessageType string          `json:"messageType"`
	Message     json.RawMessage `json:"message"`
	AnswerAt    uint64          `json:"answerAt,omitempty"`
	ResponseFor uint64          `json:"responseFor,omitempty"`
}

// Kind reports whether e is a plain message, a request or a response.
func (e Envelope) Kind() Kind {
	switch {
	case e.ResponseFor != 0:
		return KindResponse
	case e.AnswerAt != 0:
		return KindRequest
	default:
		return KindMessage
	}
}

// Decode parses a single frame. Only invalid JSON is an error: a missing
// type simply matches no handler, and responseFor takes precedence over
// answerAt (see Kind).
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}

// Encode serializes e for transmission.
func Encode(e Envelope) ([]byte, error) {
	if e.MessageType == "" && e.ResponseFor == 0 {
		return nil, ErrMissingType
	}
	if e.AnswerAt != 0 && e.ResponseFor != 0 {
		return nil, ErrBothIDs
	}
	if len(e.Message) == 0 {
		e.Message = json.RawMessage("null")
	}
	return json.Marshal(e)
}

// New builds a fire-and-forget envelope, marshaling message as the payload.
func New(messageType string, message any) (Envelope, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %q payload: %w", messageType, err)
	}
	return Envelope{MessageType: messageType, Message: payload}, nil
}

// Reply builds the response to req using the "<type>-reply" convention.
func Reply(req Envelope, message any) (Envelope, error) {
	if req.AnswerAt == 0 {
		return Envelope{}, ErrNoAnswerAt
	}
	env, err := New(ReplyType(req.MessageType), message)
	if err != nil {
		return Envelope{}, err
	}
	env.ResponseFor = req.AnswerAt
	return env, nil
}

// ReplyType names the reply to messages of the given type.
func ReplyType(messageType string) string {
	return messageType + ReplySuffix
}

// Unmarshal decodes the payload into v.
func (e Envelope) Unmarshal(v any) error {
	if len(e.Message) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(e.Message, v)
}
