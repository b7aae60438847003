// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdispatch

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// A Result is the outcome of applying a function to one input:
// either a value or an error.
type Result struct {
	Value interface{}
	Err   error
}

// An EndpointResult is the outcome of one endpoint's partition.
// Results is aligned with the partition's inputs. Err is set when the
// endpoint failed as a whole (the unit could not be loaded, the
// endpoint could not be reached, or the call timed out), in which case
// Results is nil.
type EndpointResult struct {
	Endpoint Endpoint
	Results  []Result
	Err      error
}

// Error returns the endpoint error if set, otherwise the first item
// error, annotated with the item's index within the partition.
func (r EndpointResult) Error() error {
	if r.Err != nil {
		return r.Err
	}
	for i, res := range r.Results {
		if res.Err != nil {
			return errors.E(fmt.Sprintf("item %d", i), res.Err)
		}
	}
	return nil
}

// A JobResult holds the outcome of a job, aligned with the job's
// partition plan and thus with its endpoints.
type JobResult []EndpointResult

// Values returns the job's output values in original input order. It
// returns the first error encountered in that order, if any.
func (j JobResult) Values() ([]interface{}, error) {
	var n int
	for _, r := range j {
		n += len(r.Results)
	}
	values := make([]interface{}, 0, n)
	for _, r := range j {
		if err := r.Error(); err != nil {
			return nil, errors.E(fmt.Sprintf("endpoint %s", r.Endpoint), err)
		}
		for _, res := range r.Results {
			values = append(values, res.Value)
		}
	}
	return values, nil
}

// Err returns the first error of the job in endpoint order, annotated
// with the endpoint that produced it.
func (j JobResult) Err() error {
	for _, r := range j {
		if err := r.Error(); err != nil {
			return errors.E(fmt.Sprintf("endpoint %s", r.Endpoint), err)
		}
	}
	return nil
}
