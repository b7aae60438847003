// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdispatch

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

func init() {
	gob.Register([]interface{}{})
	gob.Register(map[string]interface{}{})
}

var (
	typeOfContext = reflect.TypeOf((*context.Context)(nil)).Elem()
	typeOfError   = reflect.TypeOf((*error)(nil)).Elem()
)

var (
	// funcs is the global registry of funcs, keyed by unit and function
	// name. Registration is expected to happen during package
	// initialization; units shipped to an endpoint can name only funcs
	// that are compiled into the endpoint's binary.
	funcsMu sync.Mutex
	funcs   = make(map[funcKey]*FuncValue)
)

type funcKey struct{ unit, name string }

// A FuncValue represents a function registered with Func. FuncValues
// are invoked by name on the endpoint that executes a unit's work.
type FuncValue struct {
	unit, name string
	fn         reflect.Value
	arg        reflect.Type
	hasContext bool
	hasError   bool
}

// Unit returns the unit (name@version) under which f is registered.
func (f *FuncValue) Unit() string { return f.unit }

// Name returns the function name under which f is registered.
func (f *FuncValue) Name() string { return f.name }

// In returns the argument type of f.
func (f *FuncValue) In() reflect.Type { return f.arg }

// Call applies f to the value v. The value is converted to f's
// argument type: nil becomes the zero value of nilable types, and
// numeric values are converted between numeric kinds (values decoded
// from the wire or a script runtime are typically int64 or float64)
// provided the conversion is exact. Fractions, overflow and negative
// values for unsigned arguments are errors.Invalid.
// Panics raised by f are returned as errors.
func (f *FuncValue) Call(ctx context.Context, v interface{}) (out interface{}, err error) {
	arg, err := convert(v, f.arg)
	if err != nil {
		return nil, err
	}
	args := []reflect.Value{arg}
	if f.hasContext {
		args = []reflect.Value{reflect.ValueOf(&ctx).Elem(), arg}
	}
	defer func() {
		if e := recover(); e != nil {
			err = fmt.Errorf("panic in %s.%s: %v\n%s", f.unit, f.name, e, debug.Stack())
		}
	}()
	results := f.fn.Call(args)
	if f.hasError {
		if e := results[1].Interface(); e != nil {
			return nil, e.(error)
		}
	}
	return results[0].Interface(), nil
}

func convert(v interface{}, typ reflect.Type) (reflect.Value, error) {
	if v == nil {
		switch typ.Kind() {
		case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
			return reflect.Zero(typ), nil
		}
		return reflect.Value{}, errors.E(errors.Invalid, fmt.Sprintf("cannot use nil as %s", typ))
	}
	val := reflect.ValueOf(v)
	switch {
	case val.Type().AssignableTo(typ):
		return val, nil
	case isNumeric(val.Kind()) && isNumeric(typ.Kind()):
		if !fits(val, typ) {
			return reflect.Value{}, errors.E(errors.Invalid, fmt.Sprintf("cannot use %v (%T) as %s without loss", v, v, typ))
		}
		return val.Convert(typ), nil
	}
	return reflect.Value{}, errors.E(errors.Invalid, fmt.Sprintf("cannot use %T as %s", v, typ))
}

// fits tells whether the numeric value val converts to typ exactly.
func fits(val reflect.Value, typ reflect.Type) bool {
	to := reflect.Zero(typ)
	switch val.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := val.Int()
		switch {
		case isInt(typ.Kind()):
			return !to.OverflowInt(n)
		case isUint(typ.Kind()):
			return n >= 0 && !to.OverflowUint(uint64(n))
		}
		f := reflect.ValueOf(n).Convert(typ).Float()
		return f < math.MaxInt64 && int64(f) == n
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := val.Uint()
		switch {
		case isInt(typ.Kind()):
			return n <= math.MaxInt64 && !to.OverflowInt(int64(n))
		case isUint(typ.Kind()):
			return !to.OverflowUint(n)
		}
		f := reflect.ValueOf(n).Convert(typ).Float()
		return f < math.MaxUint64 && uint64(f) == n
	}
	f := val.Float()
	switch {
	case isInt(typ.Kind()):
		return f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 && !to.OverflowInt(int64(f))
	case isUint(typ.Kind()):
		return f == math.Trunc(f) && f >= 0 && f < math.MaxUint64 && !to.OverflowUint(uint64(f))
	}
	return !to.OverflowFloat(f)
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// Func registers fn under the provided unit and name, and returns its
// FuncValue. Units are conventionally named "name@version", matching
// the unit and version fields of the manifest that exports them. The
// function must take a single argument, optionally preceded by a
// context.Context, and return a single value, optionally followed by
// an error:
//
//	var square = bigdispatch.Func("stats@v1", "square", func(x int) int {
//		return x * x
//	})
//
// Func panics if fn has the wrong shape or if the name is already
// registered. Funcs should be registered during package
// initialization, before any work is dispatched.
func Func(unit, name string, fn interface{}) *FuncValue {
	fv := reflect.ValueOf(fn)
	ftype := fv.Type()
	if ftype.Kind() != reflect.Func {
		log.Panicf("bigdispatch.Func: argument to func is a %T, not a func", fn)
	}
	v := &FuncValue{unit: unit, name: name, fn: fv}
	switch {
	case ftype.NumIn() == 2 && ftype.In(0) == typeOfContext:
		v.hasContext = true
		v.arg = ftype.In(1)
	case ftype.NumIn() == 1:
		v.arg = ftype.In(0)
	default:
		log.Panicf("bigdispatch.Func %s.%s: func must take a single argument, optionally preceded by a context.Context", unit, name)
	}
	switch {
	case ftype.NumOut() == 2 && ftype.Out(1) == typeOfError:
		v.hasError = true
	case ftype.NumOut() == 1:
	default:
		log.Panicf("bigdispatch.Func %s.%s: func must return a single value, optionally followed by an error", unit, name)
	}
	key := funcKey{unit, name}
	funcsMu.Lock()
	defer funcsMu.Unlock()
	if funcs[key] != nil {
		log.Panicf("bigdispatch.Func: %s.%s is already registered", unit, name)
	}
	funcs[key] = v
	return v
}

// FuncByName returns the func registered under the provided unit and
// name. It returns an errors.NotExist error if there is none.
func FuncByName(unit, name string) (*FuncValue, error) {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	fv := funcs[funcKey{unit, name}]
	if fv == nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("func %s.%s is not registered in this binary", unit, name))
	}
	return fv, nil
}

// Funcs returns the names of the funcs registered under unit, sorted.
func Funcs(unit string) []string {
	funcsMu.Lock()
	defer funcsMu.Unlock()
	var names []string
	for key := range funcs {
		if key.unit == unit {
			names = append(names, key.name)
		}
	}
	sort.Strings(names)
	return names
}
