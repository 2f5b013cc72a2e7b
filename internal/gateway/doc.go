// Package gateway orchestrates the chat relay server components.
//
// # Overview
//
// The gateway owns the conversation store, the fan-out bus, the relay
// service and the HTTP server. It also runs the optional gRPC health
// server and Tailscale listener.
//
// # HTTP API
//
// End-user routes (session cookie):
//
//   - POST /api/session - Start or resume a conversation
//   - POST /api/message - Send a message
//   - GET /api/history - Conversation log (empty without a session)
//   - GET /events - SSE stream of the conversation
//
// Operator routes (Bearer token or ?token=):
//
//   - GET /operator/events - SSE stream of every conversation
//   - POST /operator/reply - Reply into a conversation
//   - GET /operator/history - Log of any conversation
//   - GET /operator/conversations - Conversation list
//
// # SSE Streaming
//
// Events are written as:
//
//	event: message
//	data: {"id":"...","conversation_id":"...","role":"end_user","text":"hi",...}
//
// The operator stream starts with a snapshot event and then carries
// new_user_message and operator_message notices. A ": ping" comment is
// written every stream.heartbeat_interval.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
//
// Shutdown ends open streams before stopping the HTTP server.
package gateway
