// Package gate enforces the ceiling on simultaneously active external jobs.
//
// The gate is the single synchronization point guarding global submission
// concurrency: acquisitions block in FIFO order once the ceiling is
// reached, and every slot is released exactly once when its job reaches a
// terminal state.
package gate

import (
	"context"
	"sync"

	"batchbridge/internal/apperrors"
)

// Gate is a bounded-capacity semaphore with an explicit FIFO waiter queue.
// A plain buffered channel would not guarantee grant order under
// contention; starving the earliest-submitted job is exactly what the
// queue exists to prevent.
type Gate struct {
	mu      sync.Mutex
	limit   int
	inUse   int
	waiters []*waiter
}

type waiter struct {
	ready chan struct{}
}

// New creates a Gate with the given concurrent-job-limit.
func New(limit int) (*Gate, error) {
	if limit <= 0 {
		return nil, apperrors.Configuration("concurrent-job-limit", "must be a positive integer")
	}
	return &Gate{limit: limit}, nil
}

// Acquire blocks until a slot is free or ctx is done. Waiters are granted
// slots in the order they arrived.
func (g *Gate) Acquire(ctx context.Context) (*Slot, error) {
	g.mu.Lock()
	if g.inUse < g.limit {
		g.inUse++
		g.mu.Unlock()
		return &Slot{g: g}, nil
	}
	w := &waiter{ready: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return &Slot{g: g}, nil
	case <-ctx.Done():
		g.mu.Lock()
		select {
		case <-w.ready:
			// Granted concurrently with cancellation: hand the slot on
			// so capacity is not leaked.
			g.mu.Unlock()
			s := &Slot{g: g}
			s.Release()
		default:
			g.removeWaiter(w)
			g.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

// InUse returns the number of outstanding slots.
func (g *Gate) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

// Waiting returns the number of queued acquisitions.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// Limit returns the configured ceiling.
func (g *Gate) Limit() int { return g.limit }

// release hands the freed slot to the oldest waiter, or lowers the count.
func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		close(w.ready) // slot transfers; inUse unchanged
		return
	}
	g.inUse--
}

// removeWaiter drops w from the queue. Caller holds g.mu.
func (g *Gate) removeWaiter(w *waiter) {
	for i, cand := range g.waiters {
		if cand == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			return
		}
	}
}

// Slot is permission to have one active external job. Release is
// idempotent: the one-shot guard makes a double release harmless, since a
// double decrement would silently raise the effective ceiling.
type Slot struct {
	g    *Gate
	once sync.Once
}

// Release returns the slot to the gate. Safe to call more than once.
func (s *Slot) Release() {
	s.once.Do(s.g.release)
}
