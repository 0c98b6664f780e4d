// Package connection implements the Connection Manager.
//
// The Connection Manager:
//   - Owns one websocket connection at a time (no automatic reconnect)
//   - Encodes outgoing messages as envelopes and correlates requests with
//     responses through answerAt/responseFor IDs
//   - Fails requests that get no response within the request timeout
//   - Fans incoming messages out to subscribers by message type
//   - Reports "connected", "error" and "disconnected" meta events
//   - Fails every pending request when the connection closes or the
//     manager is torn down
//
// All callbacks run on one goroutine in event order.
package connection
