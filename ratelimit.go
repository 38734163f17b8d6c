package main

import (
	"sync"
	"time"
)

// RateGate is a per-project token bucket with a non-blocking acquire. A
// denied slot is retriable: the caller surfaces it so the scheduler tries
// again later, and the model is never invoked without a slot.
type RateGate struct {
	mu        sync.Mutex
	perMinute int
	clk       func() time.Time
	buckets   map[string]*rateBucket
}

type rateBucket struct {
	level float64
	last  time.Time
}

// NewRateGate builds a gate allowing perMinute requests per project;
// perMinute <= 0 disables limiting. clk is for tests; nil means time.Now.
func NewRateGate(perMinute int, clk func() time.Time) *RateGate {
	if clk == nil {
		clk = time.Now
	}
	return &RateGate{perMinute: perMinute, clk: clk, buckets: make(map[string]*rateBucket)}
}

// Try takes one slot for the project if available.
func (g *RateGate) Try(projectID string) bool {
	if g.perMinute <= 0 {
		return true
	}
	now := g.clk()
	g.mu.Lock()
	defer g.mu.Unlock()

	b := g.buckets[projectID]
	if b == nil {
		b = &rateBucket{level: float64(g.perMinute), last: now}
		g.buckets[projectID] = b
	}
	if now.After(b.last) {
		b.level += now.Sub(b.last).Seconds() * float64(g.perMinute) / 60.0
		if b.level > float64(g.perMinute) {
			b.level = float64(g.perMinute)
		}
		b.last = now
	}
	if b.level < 1 {
		return false
	}
	b.level--
	return true
}
