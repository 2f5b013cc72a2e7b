// Package fanout implements the live push bus of the chat relay.
//
// A channel is either a conversation id or the reserved OperatorChannel.
// Each channel has zero or more subscribed Sinks; Publish hands the event to
// every sink registered at that moment.
//
// Delivery is at-most-once and best effort. A sink that is full, closed, or
// panics misses the event and nothing is retried. Nothing is buffered for
// channels without subscribers. Clients reconnecting after a gap read the
// conversation history over REST instead of relying on the bus.
//
// ChanSink adapts the bus to a single-writer transport such as an SSE
// handler: the handler goroutine drains Events() and is the only goroutine
// touching the http.ResponseWriter.
package fanout
