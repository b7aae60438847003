// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bigdispatch"
	"github.com/grailbio/bigdispatch/unit"
)

// An Executor runs one endpoint's share of a job in the current
// process. The same executor serves local dispatch and, behind a
// wire.Server, remote requests.
type Executor struct {
	// Loader loads units. If nil, unit.Default is used.
	Loader unit.Loader
	// Parallelism is the size of the worker pool used for each
	// partition. If zero, GOMAXPROCS workers are used.
	Parallelism int
	// Platform is the platform identifier used to resolve unit
	// locations. If empty, unit.Platform() is used.
	Platform string
}

func (e *Executor) loader() unit.Loader {
	if e.Loader == nil {
		return unit.Default
	}
	return e.Loader
}

func (e *Executor) platform() string {
	if e.Platform == "" {
		return unit.Platform()
	}
	return e.Platform
}

// Execute resolves the unit named by d for this executor's platform,
// loads it, applies its function to d.Inputs on a fresh worker pool,
// and unloads it. The unit is unloaded on every path, including when
// execution fails. Per-input failures are reported in the returned
// results; the returned error reports failures of the partition as a
// whole.
func (e *Executor) Execute(ctx context.Context, d bigdispatch.WorkDescriptor) ([]bigdispatch.Result, error) {
	path := unit.Resolve(d.Location, d.Overrides, e.platform())
	u, err := e.loader().Load(ctx, path, d.Func)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := u.Close(); err != nil {
			log.Error.Printf("job %s: unload %s: %v", d.JobID, u, err)
		}
	}()
	log.Debug.Printf("job %s: executing %s over %d inputs", d.JobID, u, len(d.Inputs))
	return Map(ctx, u, d.Inputs, e.Parallelism)
}
