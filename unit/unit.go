// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package unit loads the functions that endpoints execute. A unit is
// a file that defines one or more named functions; a Loader binds one
// of them into the current process as a *Unit, which is released by
// Close once the job that needed it is done.
//
// Loading never consults a cache: every Load reads and compiles the
// unit anew, since consecutive jobs may name unrelated code under the
// same path or function name. All state created by a load is owned by
// the returned *Unit, so concurrent jobs never observe each other's
// units.
package unit

import (
	"context"
	"fmt"
	"io/ioutil"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/spaolacci/murmur3"
)

// A Loader binds the function name defined by the unit at path.
// Load returns an errors.NotExist error if the unit or the function
// does not exist, and an errors.Invalid error if the unit cannot be
// parsed or initialized.
type Loader interface {
	Load(ctx context.Context, path, name string) (*Unit, error)
}

// An Instance is a callable binding of a unit's function. Instances
// are not safe for concurrent use; each worker obtains its own from
// Unit.NewInstance.
type Instance interface {
	Call(ctx context.Context, v interface{}) (interface{}, error)
}

// impl is implemented by the concrete unit kinds.
type impl interface {
	instance() (Instance, error)
	release()
}

// A Unit is a function bound into the current process. It is valid
// until Close is called.
type Unit struct {
	// Path is the path from which the unit was loaded.
	Path string
	// Func is the name of the bound function.
	Func string
	// Digest is the murmur3 digest of the unit's source.
	Digest uint64

	mu   sync.RWMutex
	impl impl
}

func newUnit(path, name string, src []byte, impl impl) *Unit {
	return &Unit{
		Path:   path,
		Func:   name,
		Digest: murmur3.Sum64(src),
		impl:   impl,
	}
}

// NewInstance returns a fresh instance of the unit's function. It
// fails once the unit is closed.
func (u *Unit) NewInstance() (Instance, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.impl == nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unit %s: %s: unit is closed", u.Path, u.Func))
	}
	return u.impl.instance()
}

// Loaded tells whether the unit has not yet been closed.
func (u *Unit) Loaded() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.impl != nil
}

// Close unloads the unit, releasing everything its load created.
// Instances obtained earlier must not be used after Close. Closing a
// unit twice returns an error.
func (u *Unit) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.impl == nil {
		return errors.E(errors.Invalid, fmt.Sprintf("unit %s: closed twice", u.Path))
	}
	u.impl.release()
	u.impl = nil
	log.Debug.Printf("unit %s: %s: unloaded", u.Path, u.Func)
	return nil
}

func (u *Unit) String() string {
	return fmt.Sprintf("%s:%s@%016x", u.Path, u.Func, u.Digest)
}

// readUnit reads the unit source at path, which may name any file
// supported by package github.com/grailbio/base/file.
func readUnit(ctx context.Context, path string) (src []byte, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("unit %s", path), err)
	}
	defer func() {
		if cerr := f.Close(ctx); cerr != nil && err == nil {
			err = errors.E(fmt.Sprintf("unit %s", path), cerr)
		}
	}()
	src, err = ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("unit %s", path), err)
	}
	return src, nil
}
