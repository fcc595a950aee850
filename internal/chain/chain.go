// Package chain provides strict FIFO task execution.
//
// A Chain runs submitted tasks one at a time in submission order on a single
// worker goroutine. Submit never blocks; the worker exits when the queue
// empties and is restarted by the next Submit.
package chain

import (
	"context"
	"sync"
)

// Chain is a sequential task queue. The zero value is ready to use.
type Chain struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// Submit appends task to the queue.
func (c *Chain) Submit(task func()) {
	if task == nil {
		return
	}

	c.mu.Lock()
	c.queue = append(c.queue, task)
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.run()
}

func (c *Chain) run() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.running = false
			c.mu.Unlock()
			return
		}
		task := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()

		task()
	}
}

// Len returns the number of tasks waiting to start.
func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Drained returns a channel closed once every task submitted before the call
// has completed.
func (c *Chain) Drained() <-chan struct{} {
	done := make(chan struct{})
	c.Submit(func() { close(done) })
	return done
}

// Wait blocks until every task submitted before the call has completed or
// ctx is done.
func (c *Chain) Wait(ctx context.Context) error {
	select {
	case <-c.Drained():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
