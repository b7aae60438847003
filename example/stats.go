// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package example registers the functions exported by the example
// manifest unit stats.yaml. Binaries that serve the example units
// must link this package:
//
//	import _ "github.com/grailbio/bigdispatch/example"
//
// The directory also holds words.js, an example script unit.
package example

import (
	"context"
	"fmt"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigdispatch"
)

// IntMax returns the maximum of a list of numbers.
var IntMax = bigdispatch.Func("stats@v1", "max", func(values []interface{}) (int64, error) {
	if len(values) == 0 {
		return 0, errors.E(errors.Invalid, "max of empty list")
	}
	max := int64(math.MinInt64)
	for _, v := range values {
		n, err := toInt(v)
		if err != nil {
			return 0, err
		}
		if n > max {
			max = n
		}
	}
	return max, nil
})

// Mean returns the arithmetic mean of a list of numbers.
var Mean = bigdispatch.Func("stats@v1", "mean", func(ctx context.Context, values []interface{}) (float64, error) {
	if len(values) == 0 {
		return 0, errors.E(errors.Invalid, "mean of empty list")
	}
	var sum float64
	for _, v := range values {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		switch v := v.(type) {
		case float64:
			sum += v
		default:
			n, err := toInt(v)
			if err != nil {
				return 0, err
			}
			sum += float64(n)
		}
	}
	return sum / float64(len(values)), nil
})

// Square returns the square of an integer.
var Square = bigdispatch.Func("stats@v1", "square", func(x int64) int64 { return x * x })

func toInt(v interface{}) (int64, error) {
	switch v := v.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.E(errors.Invalid, fmt.Sprintf("%v is not an integer", v))
		}
		return int64(v), nil
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("%T is not a number", v))
}
