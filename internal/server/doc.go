// Package server implements the websocket peer of the Connection Manager.
//
// Each websocket session exchanges JSON envelopes. Incoming envelopes are
// routed by message type through an Exchange; handlers answer requests with
// Request.Reply, which applies the "<type>-reply" convention and echoes the
// request's correlation ID. New sessions are greeted with an "echo" message.
//
// Routes:
//
//	GET /websocket  websocket upgrade
//	GET /healthz    JSON health status
//	GET /version    build version
//	GET /*          static web app (when configured)
package server
