package replay

import (
	"context"
	"sync"
)

// Controller paces emission across one or more replay Runners sharing the
// same tape, so events with the same Seq from different sessions surface
// in lockstep rather than whichever Runner happens to run first.
type Controller struct {
	mu      sync.Mutex
	cond    *sync.Cond
	emitted map[uint64]bool
	next    uint64
}

func NewController() *Controller {
	c := &Controller{emitted: make(map[uint64]bool), next: 1}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// WaitFor blocks until every seq below the given one has been marked
// emitted, or ctx is done.
func (c *Controller) WaitFor(ctx context.Context, seq uint64) error {
	done := make(chan struct{})
	stop := make(chan struct{})
	defer close(stop)

	// cond.Wait only wakes on Broadcast/Signal; without this, a canceled
	// ctx leaves the waiter goroutine below parked until some unrelated
	// future MarkEmitted happens to broadcast.
	go func() {
		select {
		case <-ctx.Done():
			c.cond.Broadcast()
		case <-stop:
		}
	}()

	go func() {
		c.mu.Lock()
		for c.next < seq && ctx.Err() == nil {
			c.cond.Wait()
		}
		c.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkEmitted records that seq has been emitted and wakes any waiters.
func (c *Controller) MarkEmitted(seq uint64) {
	c.mu.Lock()
	c.emitted[seq] = true
	if seq >= c.next {
		c.next = seq + 1
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}
