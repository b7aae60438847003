// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdispatch

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

var (
	funcSquare = Func("functest@v1", "square", func(x int) int { return x * x })
	funcKeys   = Func("functest@v1", "keys", func(ctx context.Context, m map[string]interface{}) ([]string, error) {
		if m == nil {
			return nil, fmt.Errorf("nil map")
		}
		var keys []string
		for k := range m {
			keys = append(keys, k)
		}
		return keys, nil
	})
	funcPanic = Func("functest@v1", "panic", func(s string) string { panic(s) })
)

func TestFunc(t *testing.T) {
	expect.EQ(t, funcSquare.Unit(), "functest@v1")
	expect.EQ(t, funcSquare.Name(), "square")
	expect.EQ(t, funcSquare.In(), reflect.TypeOf(0))
	fv, err := FuncByName("functest@v1", "square")
	assert.NoError(t, err)
	if fv != funcSquare {
		t.Error("wrong func")
	}
	expect.EQ(t, Funcs("functest@v1"), []string{"keys", "panic", "square"})
	if _, err := FuncByName("functest@v2", "square"); !errors.Is(errors.NotExist, err) {
		t.Errorf("got %v, want NotExist", err)
	}
}

func TestFuncCall(t *testing.T) {
	ctx := context.Background()
	for _, v := range []interface{}{3, int64(3), 3.0, uint8(3)} {
		out, err := funcSquare.Call(ctx, v)
		assert.NoError(t, err)
		expect.EQ(t, out, 9)
	}
	if _, err := funcSquare.Call(ctx, "3"); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want Invalid", err)
	}
	if _, err := funcSquare.Call(ctx, nil); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want Invalid", err)
	}

	out, err := funcKeys.Call(ctx, map[string]interface{}{"a": 1})
	assert.NoError(t, err)
	expect.EQ(t, out, []string{"a"})
	if _, err := funcKeys.Call(ctx, nil); err == nil || err.Error() != "nil map" {
		t.Errorf("got %v, want nil map", err)
	}

	if _, err := funcPanic.Call(ctx, "boom"); err == nil {
		t.Error("expected error")
	}
}

var (
	funcInt8    = Func("numtest@v1", "int8", func(x int8) int8 { return x })
	funcInt64   = Func("numtest@v1", "int64", func(x int64) int64 { return x })
	funcUint    = Func("numtest@v1", "uint", func(x uint) uint { return x })
	funcFloat32 = Func("numtest@v1", "float32", func(x float32) float32 { return x })
)

func TestFuncCallNumeric(t *testing.T) {
	ctx := context.Background()
	for _, c := range []struct {
		fn   *FuncValue
		in   interface{}
		want interface{}
	}{
		{funcInt8, int64(-128), int8(-128)},
		{funcInt8, 127.0, int8(127)},
		{funcInt64, 2.0, int64(2)},
		{funcInt64, uint64(1 << 62), int64(1 << 62)},
		{funcUint, 42.0, uint(42)},
		{funcUint, int64(7), uint(7)},
		{funcFloat32, 0.5, float32(0.5)},
		{funcFloat32, int64(1 << 24), float32(1 << 24)},
	} {
		out, err := c.fn.Call(ctx, c.in)
		if err != nil {
			t.Errorf("%s(%v): %v", c.fn.Name(), c.in, err)
			continue
		}
		expect.EQ(t, out, c.want)
	}
	for _, c := range []struct {
		fn *FuncValue
		in interface{}
	}{
		{funcInt64, 2.5},
		{funcInt8, int64(300)},
		{funcInt8, -129.0},
		{funcInt64, uint64(1 << 63)},
		{funcInt64, 1e19},
		{funcUint, int64(-1)},
		{funcUint, -1.0},
		{funcUint, 0.5},
		{funcFloat32, 1e300},
		{funcFloat32, int64(1<<24 + 1)},
	} {
		if _, err := c.fn.Call(ctx, c.in); !errors.Is(errors.Invalid, err) {
			t.Errorf("%s(%v (%T)): got %v, want Invalid", c.fn.Name(), c.in, c.in, err)
		}
	}
}

func expectPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	fn()
}

func TestFuncRegistration(t *testing.T) {
	expectPanic(t, func() { Func("functest@v1", "square", func(x int) int { return x }) })
	expectPanic(t, func() { Func("functest@v1", "notfunc", 1) })
	expectPanic(t, func() { Func("functest@v1", "noargs", func() int { return 0 }) })
	expectPanic(t, func() { Func("functest@v1", "twoargs", func(x, y int) int { return x }) })
	expectPanic(t, func() { Func("functest@v1", "noresult", func(x int) {}) })
	expectPanic(t, func() { Func("functest@v1", "tworesults", func(x int) (int, int) { return x, x }) })
}
