// Package frame defers work to the next render frame.
package frame

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval approximates a 60Hz display refresh.
const DefaultInterval = 16 * time.Millisecond

// Scheduler runs callbacks on the next frame.
type Scheduler interface {
	Request(fn func())
}

// Loop runs queued callbacks once per tick on its own goroutine.
type Loop struct {
	interval time.Duration

	mu      sync.Mutex
	pending []func()

	stopChan chan struct{}
	doneChan chan struct{}
	once     sync.Once
}

// NewLoop creates a Loop ticking at interval. Call Start to begin ticking.
func NewLoop(interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Request queues fn for the next tick.
func (l *Loop) Request(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
}

// Start ticks until ctx is done or Stop is called. It blocks.
func (l *Loop) Start(ctx context.Context) {
	defer close(l.doneChan)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

// Stop ends the loop and waits for Start to return. Queued callbacks are dropped.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stopChan) })
	<-l.doneChan
}

func (l *Loop) tick() {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.mu.Unlock()

	// Callbacks requested during this frame run on the next one.
	for _, fn := range batch {
		fn()
	}
}

// Manual queues callbacks until Flush. Tests use it to step frames.
type Manual struct {
	mu      sync.Mutex
	pending []func()
}

// NewManual creates an empty Manual scheduler.
func NewManual() *Manual {
	return &Manual{}
}

// Request queues fn.
func (m *Manual) Request(fn func()) {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

// Flush runs the callbacks queued so far and returns how many ran.
func (m *Manual) Flush() int {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// Pending returns the number of queued callbacks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
