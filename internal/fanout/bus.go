// ABOUTME: In-memory fan-out bus delivering labeled events to live sinks per channel
// ABOUTME: Best-effort, at-most-once delivery with no buffering for absent subscribers

package fanout

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// OperatorChannel is the reserved channel every operator view subscribes to.
const OperatorChannel = "operator"

// Observer receives delivery statistics. Implementations must be safe for
// concurrent use.
type Observer interface {
	ObservePublish(event string, delivered, dropped int)
	ObserveSubscriptions(active int)
}

// Handle identifies one subscription for later removal
type Handle struct {
	Channel string
	ID      string
}

type subscription struct {
	sink Sink
	stop chan struct{}
}

// Bus maps channel ids to the set of currently subscribed sinks.
//
// Delivery is best effort: a sink whose Send fails simply misses the event.
// Nothing is queued for sinks that subscribe later; late joiners catch up via
// a history read.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscription // channel -> subID -> sub
	active      int
	closed      bool
	logger      *slog.Logger
	observer    Observer
}

// New creates a bus. Pass nil logger for default and nil observer to skip stats.
func New(logger *slog.Logger, observer Observer) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]map[string]*subscription),
		logger:      logger.With("component", "fanout"),
		observer:    observer,
	}
}

// Subscribe registers sink under channel and returns a handle for Unsubscribe.
// The subscription is removed automatically when sink.Done() closes.
// Subscribing to a closed bus returns a handle that is never delivered to.
func (b *Bus) Subscribe(channel string, sink Sink) Handle {
	h := Handle{Channel: channel, ID: uuid.New().String()}
	sub := &subscription{sink: sink, stop: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return h
	}
	if _, ok := b.subscribers[channel]; !ok {
		b.subscribers[channel] = make(map[string]*subscription)
	}
	b.subscribers[channel][h.ID] = sub
	b.active++
	b.observeSubscriptions(b.active)
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "channel", channel, "sub_id", h.ID)

	// Auto-cleanup when the connection goes away
	go func() {
		select {
		case <-sink.Done():
			b.Unsubscribe(h)
		case <-sub.stop:
		}
	}()

	return h
}

// Unsubscribe removes the subscription. Idempotent.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	subs, ok := b.subscribers[h.Channel]
	if !ok {
		b.mu.Unlock()
		return
	}
	sub, exists := subs[h.ID]
	if !exists {
		b.mu.Unlock()
		return
	}

	delete(subs, h.ID)
	close(sub.stop)
	if len(subs) == 0 {
		delete(b.subscribers, h.Channel)
	}
	b.active--
	b.observeSubscriptions(b.active)
	b.mu.Unlock()

	b.logger.Debug("subscriber removed", "channel", h.Channel, "sub_id", h.ID)
}

// Publish delivers an event to every sink currently subscribed to channel.
// Per-sink failures are swallowed and never retried. Publishing to a channel
// with no subscribers is a no-op.
func (b *Bus) Publish(channel, event string, payload any) {
	b.mu.RLock()
	subs, ok := b.subscribers[channel]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		b.observePublish(event, 0, 0)
		return
	}

	// Copy targets under read lock to avoid holding it during sends
	targets := make([]Sink, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub.sink)
	}
	b.mu.RUnlock()

	ev := Event{Name: event, Payload: payload}
	var delivered, dropped int
	for _, sink := range targets {
		if err := deliver(sink, ev); err != nil {
			dropped++
			b.logger.Debug("dropped event for sink",
				"channel", channel,
				"event", event,
				"error", err)
			continue
		}
		delivered++
	}

	b.observePublish(event, delivered, dropped)
}

// deliver sends ev to sink, converting a panicking sink into an error.
func deliver(sink Sink, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sink.Send(ev)
}

// Subscribers returns the number of sinks currently registered on channel
func (b *Bus) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}

// Close drops every subscription. The sinks themselves are left to their owners.
func (b *Bus) Close() {
	b.mu.Lock()
	for channel, subs := range b.subscribers {
		for id, sub := range subs {
			close(sub.stop)
			delete(subs, id)
		}
		delete(b.subscribers, channel)
	}
	b.active = 0
	b.closed = true
	b.observeSubscriptions(0)
	b.mu.Unlock()

	b.logger.Debug("bus closed")
}

func (b *Bus) observePublish(event string, delivered, dropped int) {
	if b.observer != nil {
		b.observer.ObservePublish(event, delivered, dropped)
	}
}

// observeSubscriptions is called with mu held so gauge updates stay ordered
func (b *Bus) observeSubscriptions(active int) {
	if b.observer != nil {
		b.observer.ObserveSubscriptions(active)
	}
}
