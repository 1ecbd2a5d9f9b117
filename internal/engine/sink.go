package engine

import (
	"context"
	"sync"

	"github.com/banshee-data/laneguard/internal/aggregate"
)

// Sink receives every FrameResult of a run, in frame order.
type Sink interface {
	Handle(ctx context.Context, res FrameResult) error
}

// Flusher is implemented by sinks that buffer; Run calls Flush once when it
// returns, whatever the outcome.
type Flusher interface {
	Flush() error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, res FrameResult) error

// Handle calls f.
func (f SinkFunc) Handle(ctx context.Context, res FrameResult) error { return f(ctx, res) }

// Collector keeps every result in memory.
type Collector struct {
	mu      sync.Mutex
	results []FrameResult
}

// Handle appends res.
func (c *Collector) Handle(_ context.Context, res FrameResult) error {
	c.mu.Lock()
	c.results = append(c.results, res)
	c.mu.Unlock()
	return nil
}

// Results returns a copy of the collected results.
func (c *Collector) Results() []FrameResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FrameResult(nil), c.results...)
}

// Records returns the collected frame records.
func (c *Collector) Records() []aggregate.FrameRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]aggregate.FrameRecord, len(c.results))
	for i, r := range c.results {
		out[i] = r.Record
	}
	return out
}

// Violations returns every collected violation event.
func (c *Collector) Violations() []ViolationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ViolationEvent
	for _, r := range c.results {
		out = append(out, r.Violations...)
	}
	return out
}
