// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/base/limiter"
	"github.com/grailbio/bigdispatch"
	"golang.org/x/sync/errgroup"
)

// A Task computes one endpoint's result.
type Task func(ctx context.Context) bigdispatch.EndpointResult

// A Pool runs a set of tasks and waits for all of them to complete.
// The returned results are aligned with the tasks, regardless of the
// order in which they complete.
type Pool interface {
	Run(ctx context.Context, tasks []Task) []bigdispatch.EndpointResult
}

// Goroutines returns a pool that runs each task in its own goroutine,
// at most limit at a time. If limit <= 0, all tasks run concurrently.
func Goroutines(limit int) Pool {
	return goroutinePool{limit}
}

type goroutinePool struct{ limit int }

func (p goroutinePool) Run(ctx context.Context, tasks []Task) []bigdispatch.EndpointResult {
	results := make([]bigdispatch.EndpointResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	n := p.limit
	if n <= 0 || n > len(tasks) {
		n = len(tasks)
	}
	lim := limiter.New()
	lim.Release(n)
	var g errgroup.Group
	for i := range tasks {
		i := i
		g.Go(func() error {
			if err := lim.Acquire(ctx, 1); err != nil {
				if cerr := bigdispatch.ContextError(ctx, "outer pool"); cerr != nil {
					err = cerr
				}
				results[i] = bigdispatch.EndpointResult{Err: err}
				return nil
			}
			defer lim.Release(1)
			results[i] = tasks[i](ctx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Serial is a pool that runs tasks one after the other in the
// calling goroutine.
var Serial Pool = serialPool{}

type serialPool struct{}

func (serialPool) Run(ctx context.Context, tasks []Task) []bigdispatch.EndpointResult {
	results := make([]bigdispatch.EndpointResult, len(tasks))
	for i, task := range tasks {
		if err := bigdispatch.ContextError(ctx, "outer pool"); err != nil {
			results[i] = bigdispatch.EndpointResult{Err: err}
			continue
		}
		results[i] = task(ctx)
	}
	return results
}
