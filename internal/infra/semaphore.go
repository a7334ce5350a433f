package infra

import (
	"context"
	"sync"
)

// Semaphore is a weighted semaphore for limiting concurrent access to resources.
// Unlike a simple mutex, it allows multiple concurrent acquisitions up to a limit,
// and each acquisition can request a different number of permits (weight).
//
// The engine's indexer uses one Semaphore to cap concurrent server describe
// calls and another to cap concurrent tool enhance/embed calls (spec §4.3's
// MCP_SERVER_INDEX_RATE_LIMIT / MCP_SERVER_TOOL_INDEX_RATE_LIMIT).
type Semaphore struct {
	mu      sync.Mutex
	cond    *sync.Cond
	max     int64
	current int64
}

// NewSemaphore creates a new semaphore with the given maximum permits.
// For example, NewSemaphore(10) allows up to 10 concurrent permits.
func NewSemaphore(max int64) *Semaphore {
	if max <= 0 {
		max = 1
	}
	s := &Semaphore{max: max}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Acquire blocks until n permits are available or the context is cancelled.
// Returns nil on success, or context error if cancelled/timed out.
func (s *Semaphore) Acquire(ctx context.Context, n int64) error {
	if n <= 0 {
		return nil
	}
	if n > s.max {
		n = s.max // Cap at maximum
	}

	// Fast path: try to acquire without waiting
	s.mu.Lock()
	if s.current+n <= s.max {
		s.current += n
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// Slow path: need to wait
	done := make(chan struct{})
	defer close(done)
	cancelled := false

	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			cancelled = true
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if cancelled {
			return ctx.Err()
		}
		if s.current+n <= s.max {
			s.current += n
			return nil
		}
		s.cond.Wait()
	}
}

// Release releases n permits back to the semaphore.
// It is safe to call Release more times than Acquire (the in-use count never drops below zero).
func (s *Semaphore) Release(n int64) {
	if n <= 0 {
		return
	}

	s.mu.Lock()
	s.current -= n
	if s.current < 0 {
		s.current = 0
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// InUse returns the number of permits currently in use. The indexer reports
// this through Metrics after every Acquire/Release.
func (s *Semaphore) InUse() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
