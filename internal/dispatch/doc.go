// Package dispatch runs one framed connection between the wire vocabularies
// and the variable gateways.
//
// A single read goroutine applies inbound messages strictly in arrival order
// through the Sink bound to each tag. Every outbound Source runs in its own
// goroutine with a cloned frame.Writer; messages are written whole, but their
// relative order across variables is unspecified. The first fatal error moves
// the dispatcher from Connected to Closing, closes the stream, and returns once
// every goroutine has stopped (Closed).
package dispatch
