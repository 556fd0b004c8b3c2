package events

import (
	"context"
	"errors"
	"sync"
)

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("event publisher closed")

// MemoryPublisher keeps the most recent events in a bounded ring. It backs
// the diagnostics API and tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []CaptureEvent
	limit  int
	closed bool
}

// NewMemoryPublisher retains at most limit events.
func NewMemoryPublisher(limit int) *MemoryPublisher {
	if limit <= 0 {
		limit = 256
	}
	return &MemoryPublisher{limit: limit}
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(ctx context.Context, evt CaptureEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	p.events = append(p.events, evt)
	if over := len(p.events) - p.limit; over > 0 {
		p.events = append(p.events[:0:0], p.events[over:]...)
	}
	return nil
}

// Recent returns up to n events, newest last. n <= 0 returns everything retained.
func (p *MemoryPublisher) Recent(n int) []CaptureEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := 0
	if n > 0 && n < len(p.events) {
		start = len(p.events) - n
	}
	return append([]CaptureEvent(nil), p.events[start:]...)
}

// Session returns the retained events of one capture session.
func (p *MemoryPublisher) Session(sessionID string) []CaptureEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []CaptureEvent
	for _, evt := range p.events {
		if evt.SessionID == sessionID {
			out = append(out, evt)
		}
	}
	return out
}

// Close implements Publisher.
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
