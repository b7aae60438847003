// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdispatch

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Partition splits values into contiguous chunks of at most capacity
// values each, preserving order. The chunks share values' backing
// array. An empty input yields a single empty chunk. Partition
// returns an errors.Invalid error if capacity is less than 1.
func Partition(values []interface{}, capacity int) ([][]interface{}, error) {
	if capacity < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("partition: capacity %d < 1", capacity))
	}
	if len(values) == 0 {
		return [][]interface{}{values[:0:0]}, nil
	}
	chunks := make([][]interface{}, 0, (len(values)+capacity-1)/capacity)
	for start := 0; start < len(values); start += capacity {
		end := start + capacity
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end:end])
	}
	return chunks, nil
}

// Plan computes the partition plan for dispatching values to k
// endpoints. With k == 0 (local mode) the plan is a single chunk
// holding all of values. Otherwise the plan has exactly k chunks of
// capacity ceil(len(values)/k), floored at 1; trailing chunks are
// empty when there are fewer values than endpoints.
func Plan(values []interface{}, k int) ([][]interface{}, error) {
	switch {
	case k < 0:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("partition: negative endpoint count %d", k))
	case k == 0:
		return [][]interface{}{values}, nil
	}
	capacity := (len(values) + k - 1) / k
	if capacity < 1 {
		capacity = 1
	}
	chunks, err := Partition(values, capacity)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		chunks = chunks[:0]
	}
	for len(chunks) < k {
		chunks = append(chunks, []interface{}{})
	}
	return chunks, nil
}
