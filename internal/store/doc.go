// Package store holds the conversation logs of the chat relay.
//
// # Architecture
//
// The Store interface describes an append-only, per-conversation message log:
//
//   - GetOrCreate: look up a conversation, registering an empty one if absent
//   - Append: add a message to the end of a conversation (create-on-write)
//   - History: read the full ordered log; unknown ids yield an empty slice
//   - List: summarize every conversation for the operator snapshot
//
// Two implementations are provided:
//
//   - MemoryStore: the default; process-wide maps, lost on restart
//   - SQLiteStore: optional modernc.org/sqlite backing selected by database.path
//
// # Data Models
//
//   - Conversation: ordered message history keyed by an opaque id
//   - Message: immutable entry with a Role (end_user or operator), optional
//     text and optional attachment URL
//   - ConversationSummary: id plus message count
//
// # Invariants
//
// Messages are never reordered or mutated after Append. Both implementations
// return copies, so callers cannot alter stored state through a returned
// slice or pointer.
//
// # Usage
//
//	s := store.NewMemoryStore()
//	_ = s.Append(ctx, "c1", &store.Message{ID: "m1", Role: store.RoleEndUser, Text: &text})
//	msgs, _ := s.History(ctx, "c1")
package store
