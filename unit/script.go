// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package unit

import (
	"context"
	"fmt"

	"github.com/dop251/goja"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigdispatch"
)

// Script loads JavaScript units. A script unit is a source file whose
// top level defines the exported functions, for example:
//
//	function square(x) { return x * x }
//
// The source is compiled once per load. Every instance runs the
// compiled program in its own runtime, so script state is never
// shared between workers or between jobs.
var Script Loader = scriptLoader{}

type scriptLoader struct{}

func (scriptLoader) Load(ctx context.Context, path, name string) (*Unit, error) {
	src, err := readUnit(ctx, path)
	if err != nil {
		return nil, err
	}
	program, err := goja.Compile(path, string(src), false)
	if err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unit %s", path), err)
	}
	s := &scriptUnit{path: path, name: name, program: program}
	// Instantiate once so that a unit that throws at the top level or
	// lacks the export fails here rather than on every worker.
	if _, err := s.instance(); err != nil {
		return nil, err
	}
	u := newUnit(path, name, src, s)
	log.Debug.Printf("unit %s: loaded script", u)
	return u, nil
}

type scriptUnit struct {
	path, name string
	program    *goja.Program
}

func (s *scriptUnit) instance() (Instance, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if _, err := vm.RunProgram(s.program); err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unit %s: initialize", s.path), err)
	}
	fn, ok := goja.AssertFunction(vm.Get(s.name))
	if !ok {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("unit %s: no function %q", s.path, s.name))
	}
	return &scriptInstance{vm: vm, fn: fn}, nil
}

func (s *scriptUnit) release() {
	s.program = nil
}

type scriptInstance struct {
	vm *goja.Runtime
	fn goja.Callable
}

// Call invokes the script function with v. The call is interrupted if
// ctx is done before it returns. Exceptions thrown by the script are
// returned as errors.
func (s *scriptInstance) Call(ctx context.Context, v interface{}) (interface{}, error) {
	if err := bigdispatch.ContextError(ctx, "script call"); err != nil {
		return nil, err
	}
	var (
		done    = make(chan struct{})
		stopped = make(chan struct{})
	)
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			s.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	res, err := s.fn(goja.Undefined(), s.vm.ToValue(v))
	close(done)
	<-stopped
	s.vm.ClearInterrupt()
	if err != nil {
		if _, ok := err.(*goja.InterruptedError); ok {
			return nil, bigdispatch.ContextError(ctx, "script call")
		}
		return nil, errors.E(err)
	}
	if res == nil || goja.IsUndefined(res) || goja.IsNull(res) {
		return nil, nil
	}
	return res.Export(), nil
}
