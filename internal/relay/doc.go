// ABOUTME: Package relay routes chat messages between end users and the operator
// ABOUTME: Every message is recorded in the store before it is published to listeners

// Package relay implements the message paths of the chat relay.
//
// End-user messages are appended to the conversation log, delivered to the
// conversation channel and summarized on the operator channel. Operator
// replies take the same path in the other direction. Writes are serialized
// so listeners observe events in log order.
package relay
