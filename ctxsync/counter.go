// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ctxsync provides synchronization primitives whose waits
// are bounded by a context.
package ctxsync

import (
	"context"
	"sync"
)

// A Counter counts work in flight. Its zero value is ready to use.
// Unlike sync.WaitGroup, waiting on a Counter may be abandoned when a
// context is done, and work may be added while others wait.
type Counter struct {
	mu sync.Mutex
	n  int
	// zeroc is closed, and reset, when n drops to zero.
	zeroc chan struct{}
}

// Add adds delta to the counter. Add panics if the counter becomes
// negative.
func (c *Counter) Add(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += delta
	switch {
	case c.n < 0:
		panic("ctxsync: negative counter")
	case c.n == 0 && c.zeroc != nil:
		close(c.zeroc)
		c.zeroc = nil
	}
}

// Done decrements the counter.
func (c *Counter) Done() { c.Add(-1) }

// N returns the current count.
func (c *Counter) N() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Wait returns when the counter is zero, or with the context's error
// if the context is done first.
func (c *Counter) Wait(ctx context.Context) error {
	c.mu.Lock()
	if c.n == 0 {
		c.mu.Unlock()
		return nil
	}
	if c.zeroc == nil {
		c.zeroc = make(chan struct{})
	}
	zeroc := c.zeroc
	c.mu.Unlock()
	select {
	case <-zeroc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
