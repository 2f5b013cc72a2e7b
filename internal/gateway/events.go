// ABOUTME: Server-Sent Events streams for end-user conversations and the operator view
// ABOUTME: Each stream drains its own fan-out sink so only one goroutine writes the response

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/auth"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/fanout"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/relay"
	"github.com/svyatiklaptop1-glitch/human-ai-chat/internal/store"
)

// handleUserEvents streams the session's conversation channel.
func (g *Gateway) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	conversationID := auth.ConversationFromContext(r.Context())
	g.serveStream(w, r, conversationID, nil)
}

// handleOperatorEvents streams the operator channel, starting with a snapshot
// of every known conversation.
func (g *Gateway) handleOperatorEvents(w http.ResponseWriter, r *http.Request) {
	g.serveStream(w, r, fanout.OperatorChannel, func(ctx context.Context) (*fanout.Event, error) {
		snap, err := g.relay.SnapshotForOperator(ctx)
		if err != nil {
			return nil, err
		}
		return &fanout.Event{Name: relay.EventSnapshot, Payload: snap}, nil
	})
}

// serveStream subscribes a sink to channel and writes its events as SSE until
// the client disconnects or the gateway shuts down. If initial is set, its
// event is written after subscribing and before any live event.
func (g *Gateway) serveStream(w http.ResponseWriter, r *http.Request, channel string, initial func(context.Context) (*fanout.Event, error)) {
	// Check streaming support before subscribing (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	sink := fanout.NewChanSink(g.config.Stream.BufferSize)
	handle := g.bus.Subscribe(channel, sink)
	defer func() {
		g.bus.Unsubscribe(handle)
		sink.Close()
	}()

	var first *fanout.Event
	if initial != nil {
		ev, err := initial(ctx)
		if err != nil {
			g.logger.Error("failed to build initial event", "channel", channel, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		first = ev
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if first != nil {
		g.writeSSEEvent(w, first.Name, first.Payload)
	}
	flusher.Flush()

	g.logger.Debug("stream opened", "channel", channel)
	defer g.logger.Debug("stream closed", "channel", channel)

	var heartbeat <-chan time.Time
	if interval := g.config.Stream.HeartbeatInterval; interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-sink.Done():
			return

		case <-heartbeat:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case ev, ok := <-sink.Events():
			if !ok {
				return
			}
			g.writeSSEEvent(w, ev.Name, g.eventView(ev.Payload))
			flusher.Flush()
		}
	}
}

// eventView renders message payloads the same way the JSON endpoints do.
func (g *Gateway) eventView(payload any) any {
	if m, ok := payload.(store.Message); ok {
		return g.messageView(m)
	}
	return payload
}

// formatSSEEvent formats an SSE event as a string with the standard format:
// event: <eventType>\ndata: <data>\n\n
func formatSSEEvent(eventType, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data)
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "event", event, "error", err)
		return
	}
	_, _ = fmt.Fprint(w, formatSSEEvent(event, string(dataJSON)))
}
