// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigdispatch"
	"github.com/grailbio/bigdispatch/unit"
)

// Map applies the function bound by u to each of inputs, using a pool
// of p workers that exists only for the duration of the call. If p <= 0,
// the pool is sized to GOMAXPROCS; it never exceeds the number of
// inputs. Each worker owns its own instance of the unit.
//
// The returned results are aligned with inputs. A failing (or
// panicking) input fails only its own result. Map itself fails if a
// worker cannot be started or if ctx is done before all inputs are
// processed; results that are complete are returned even if ctx is done
// by then.
func Map(ctx context.Context, u *unit.Unit, inputs []interface{}, p int) ([]bigdispatch.Result, error) {
	results := make([]bigdispatch.Result, len(inputs))
	if len(inputs) == 0 {
		return results, nil
	}
	if p <= 0 {
		p = runtime.GOMAXPROCS(0)
	}
	if p > len(inputs) {
		p = len(inputs)
	}
	instances := make([]unit.Instance, p)
	for i := range instances {
		inst, err := u.NewInstance()
		if err != nil {
			return nil, errors.E(fmt.Sprintf("worker pool: start worker %d", i), err)
		}
		instances[i] = inst
	}
	log.Debug.Printf("worker pool %s: %d inputs, %d workers", u, len(inputs), p)
	var (
		next int64 = -1
		done int64
		wg   sync.WaitGroup
	)
	wg.Add(p)
	for _, inst := range instances {
		go func(inst unit.Instance) {
			defer wg.Done()
			for ctx.Err() == nil {
				i := int(atomic.AddInt64(&next, 1))
				if i >= len(inputs) {
					return
				}
				results[i] = apply(ctx, inst, inputs[i])
				atomic.AddInt64(&done, 1)
			}
		}(inst)
	}
	wg.Wait()
	if int(done) < len(inputs) {
		if err := bigdispatch.ContextError(ctx, "worker pool"); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func apply(ctx context.Context, inst unit.Instance, v interface{}) (res bigdispatch.Result) {
	defer func() {
		if e := recover(); e != nil {
			res = bigdispatch.Result{Err: errors.E(fmt.Sprintf("panic: %v\n%s", e, debug.Stack()))}
		}
	}()
	out, err := inst.Call(ctx, v)
	if err != nil {
		return bigdispatch.Result{Err: err}
	}
	return bigdispatch.Result{Value: out}
}
