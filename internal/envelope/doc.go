// Package envelope defines the JSON unit exchanged over the websocket.
//
// One envelope travels per text frame:
//
//	{"messageType": "echo", "message": "hi", "answerAt": 1}
//	{"messageType": "echo-reply", "message": "hi", "responseFor": 1}
//
// An envelope is fire-and-forget when neither correlation field is set, a
// request when AnswerAt is set and a response when ResponseFor is set.
// Correlation IDs start at 1; zero means the field is absent.
package envelope
