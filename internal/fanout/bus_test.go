// ABOUTME: Tests for the fan-out Bus and ChanSink
// ABOUTME: Covers fan-out, isolation, unsubscribe, auto-cleanup, failure swallowing

package fanout

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures every event it is sent
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	done   chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{})}
}

func (s *recordingSink) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Done() <-chan struct{} { return s.done }

func (s *recordingSink) received() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

type panickingSink struct{ done chan struct{} }

func (s *panickingSink) Send(Event) error      { panic("boom") }
func (s *panickingSink) Done() <-chan struct{} { return s.done }

type countingObserver struct {
	mu        sync.Mutex
	delivered int
	dropped   int
	active    int
}

func (o *countingObserver) ObservePublish(_ string, delivered, dropped int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delivered += delivered
	o.dropped += dropped
}

func (o *countingObserver) ObserveSubscriptions(active int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = active
}

func TestBus_PublishWithoutSubscribersIsNoop(t *testing.T) {
	b := New(nil, nil)
	defer b.Close()

	assert.NotPanics(t, func() {
		b.Publish("nobody", "message", map[string]string{"text": "hi"})
	})
	assert.Equal(t, 0, b.Subscribers("nobody"))
}

func TestBus_TwoSinksBothReceive(t *testing.T) {
	b := New(nil, nil)
	defer b.Close()

	s1 := newRecordingSink()
	s2 := newRecordingSink()
	b.Subscribe("c1", s1)
	b.Subscribe("c1", s2)

	b.Publish("c1", "message", "payload-1")
	b.Publish("c1", "message", "payload-2")

	for _, s := range []*recordingSink{s1, s2} {
		got := s.received()
		require.Len(t, got, 2)
		assert.Equal(t, Event{Name: "message", Payload: "payload-1"}, got[0])
		assert.Equal(t, Event{Name: "message", Payload: "payload-2"}, got[1])
	}
}

func TestBus_ChannelsAreIsolated(t *testing.T) {
	b := New(nil, nil)
	defer b.Close()

	s1 := newRecordingSink()
	s2 := newRecordingSink()
	b.Subscribe("c1", s1)
	b.Subscribe(OperatorChannel, s2)

	b.Publish("c1", "message", "x")

	assert.Len(t, s1.received(), 1)
	assert.Empty(t, s2.received())
}

func TestBus_NoDeliveryAfterUnsubscribe(t *testing.T) {
	b := New(nil, nil)
	defer b.Close()

	s := newRecordingSink()
	h := b.Subscribe("c1", s)
	b.Unsubscribe(h)

	b.Publish("c1", "message", "x")
	assert.Empty(t, s.received())
	assert.Equal(t, 0, b.Subscribers("c1"))
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := New(nil, nil)
	defer b.Close()

	h := b.Subscribe("c1", newRecordingSink())
	b.Unsubscribe(h)
	assert.NotPanics(t, func() {
		b.Unsubscribe(h)
		b.Unsubscribe(Handle{Channel: "missing", ID: "missing"})
	})
}

func TestBus_SinkDoneRemovesSubscription(t *testing.T) {
	b := New(nil, nil)
	defer b.Close()

	sink := NewChanSink(4)
	b.Subscribe("c1", sink)
	require.Equal(t, 1, b.Subscribers("c1"))

	sink.Close()

	require.Eventually(t, func() bool {
		return b.Subscribers("c1") == 0
	}, time.Second, 5*time.Millisecond)

	b.Publish("c1", "message", "after close")
	_, ok := <-sink.Events()
	assert.False(t, ok, "closed sink must not receive events")
}

func TestBus_FailingSinkDoesNotAffectOthers(t *testing.T) {
	obs := &countingObserver{}
	b := New(nil, obs)
	defer b.Close()

	bad := newRecordingSink()
	bad.err = errors.New("connection reset")
	good := newRecordingSink()
	b.Subscribe("c1", bad)
	b.Subscribe("c1", &panickingSink{done: make(chan struct{})})
	b.Subscribe("c1", good)

	assert.NotPanics(t, func() {
		b.Publish("c1", "message", "x")
	})

	assert.Len(t, good.received(), 1)
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.delivered)
	assert.Equal(t, 2, obs.dropped)
}

func TestBus_FullSinkDropsEvent(t *testing.T) {
	b := New(nil, nil)
	defer b.Close()

	sink := NewChanSink(1)
	b.Subscribe("c1", sink)

	b.Publish("c1", "message", "first")
	b.Publish("c1", "message", "second")

	ev := <-sink.Events()
	assert.Equal(t, "first", ev.Payload)
	select {
	case ev := <-sink.Events():
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestBus_ObserverTracksActiveSubscriptions(t *testing.T) {
	obs := &countingObserver{}
	b := New(nil, obs)

	h1 := b.Subscribe("c1", newRecordingSink())
	b.Subscribe("c2", newRecordingSink())
	obs.mu.Lock()
	assert.Equal(t, 2, obs.active)
	obs.mu.Unlock()

	b.Unsubscribe(h1)
	obs.mu.Lock()
	assert.Equal(t, 1, obs.active)
	obs.mu.Unlock()

	b.Close()
	obs.mu.Lock()
	assert.Equal(t, 0, obs.active)
	obs.mu.Unlock()
}

func TestBus_SubscribeAfterCloseIsInert(t *testing.T) {
	b := New(nil, nil)
	b.Close()

	s := newRecordingSink()
	b.Subscribe("c1", s)
	b.Publish("c1", "message", "x")

	assert.Empty(t, s.received())
	assert.Equal(t, 0, b.Subscribers("c1"))
}

func TestBus_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := New(nil, nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h := b.Subscribe("c1", newRecordingSink())
			b.Unsubscribe(h)
		}()
		go func() {
			defer wg.Done()
			b.Publish("c1", "message", "x")
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.Subscribers("c1"))
}

func TestChanSink_SendAfterCloseFails(t *testing.T) {
	sink := NewChanSink(0)
	sink.Close()
	sink.Close()

	assert.ErrorIs(t, sink.Send(Event{Name: "message"}), ErrSinkClosed)
	select {
	case <-sink.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestChanSink_FullBuffer(t *testing.T) {
	sink := NewChanSink(1)
	require.NoError(t, sink.Send(Event{Name: "a"}))
	assert.ErrorIs(t, sink.Send(Event{Name: "b"}), ErrSinkFull)
}
