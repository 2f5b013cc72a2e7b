// ABOUTME: Per-key token bucket pool built on golang.org/x/time/rate
// ABOUTME: Limits message submissions per conversation and forgets idle keys

package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultIdleTTL       = 10 * time.Minute
	defaultCleanupPeriod = time.Minute
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Pool hands out one limiter per key. A Pool with a non-positive rate
// allows everything.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	rps     rate.Limit
	burst   int
	ttl     time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a pool allowing rps events per second per key with the given burst.
// Limiters idle for longer than idleTTL are dropped; zero uses a default.
func New(rps float64, burst int, idleTTL time.Duration) *Pool {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	if burst < 1 {
		burst = 1
	}
	p := &Pool{
		entries: make(map[string]*entry),
		rps:     rate.Limit(rps),
		burst:   burst,
		ttl:     idleTTL,
		stopCh:  make(chan struct{}),
	}
	if p.enabled() {
		go p.cleanupLoop(defaultCleanupPeriod)
	}
	return p
}

func (p *Pool) enabled() bool {
	return p != nil && p.rps > 0
}

// Allow reports whether an event for key may happen now.
func (p *Pool) Allow(key string) bool {
	if !p.enabled() {
		return true
	}
	return p.get(key, time.Now()).Allow()
}

func (p *Pool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.entries[key] = &entry{limiter: l, lastSeen: now}
	return l
}

// Len returns the number of tracked keys
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// prune drops limiters not used since cutoff
func (p *Pool) prune(cutoff time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.entries {
		if e.lastSeen.Before(cutoff) {
			delete(p.entries, k)
		}
	}
}

func (p *Pool) cleanupLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			p.prune(now.Add(-p.ttl))
		case <-p.stopCh:
			return
		}
	}
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (p *Pool) Close() {
	if p == nil {
		return
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
}
