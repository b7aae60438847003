// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdispatch

import (
	"reflect"

	"github.com/grailbio/base/log"
)

// Values materializes a Go slice or array into the sequence of values
// accepted by the dispatcher. A nil argument yields an empty sequence.
// Values panics if slice is neither a slice nor an array.
func Values(slice interface{}) []interface{} {
	if slice == nil {
		return []interface{}{}
	}
	if values, ok := slice.([]interface{}); ok {
		return values
	}
	v := reflect.ValueOf(slice)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
	default:
		log.Panicf("bigdispatch.Values: %T is not a slice", slice)
	}
	values := make([]interface{}, v.Len())
	for i := range values {
		values[i] = v.Index(i).Interface()
	}
	return values
}
