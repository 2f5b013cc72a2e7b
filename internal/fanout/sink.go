// ABOUTME: Sink abstraction for live push destinations and a channel-backed implementation
// ABOUTME: ChanSink buffers events for a single reader such as an SSE handler goroutine

package fanout

import (
	"errors"
	"sync"
)

// DefaultBufferSize is the per-sink event buffer used when none is configured.
const DefaultBufferSize = 64

var (
	// ErrSinkFull is returned when a sink cannot accept an event without blocking
	ErrSinkFull = errors.New("sink buffer full")

	// ErrSinkClosed is returned when sending to a sink whose connection is gone
	ErrSinkClosed = errors.New("sink closed")
)

// Event is a labeled payload delivered to sinks
type Event struct {
	Name    string
	Payload any
}

// Sink is a live, writable destination representing one open client connection.
//
// Send must not block. A non-nil error means the event was not delivered.
// Done is closed once the underlying connection is gone; the bus removes the
// sink when that happens.
type Sink interface {
	Send(ev Event) error
	Done() <-chan struct{}
}

// ChanSink is a Sink backed by a buffered channel. One goroutine drains
// Events() and writes to the real transport.
type ChanSink struct {
	mu     sync.RWMutex
	events chan Event
	done   chan struct{}
	closed bool
}

// NewChanSink creates a sink with the given buffer size (DefaultBufferSize if <= 0)
func NewChanSink(size int) *ChanSink {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &ChanSink{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Send enqueues ev without blocking.
func (s *ChanSink) Send(ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}
	// Hold the read lock while sending to prevent close during send
	select {
	case s.events <- ev:
		return nil
	default:
		return ErrSinkFull
	}
}

// Events returns the channel the transport goroutine reads from.
// It is closed by Close.
func (s *ChanSink) Events() <-chan Event {
	return s.events
}

// Done is closed when the sink is closed
func (s *ChanSink) Done() <-chan struct{} {
	return s.done
}

// Close marks the sink as gone. Safe to call multiple times.
func (s *ChanSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.events)
}
