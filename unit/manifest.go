// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package unit

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigdispatch"
	"gopkg.in/yaml.v3"
)

// Manifest loads manifest units. A manifest unit is a YAML document
// that exports functions compiled into the endpoint's binary:
//
//	unit: stats
//	version: v1
//	exports: [square, mean]
//
// Each export must be registered with bigdispatch.Func under the unit
// "stats@v1" (or "stats" if the manifest has no version).
var Manifest Loader = manifestLoader{}

type manifest struct {
	Unit    string   `yaml:"unit"`
	Version string   `yaml:"version"`
	Exports []string `yaml:"exports"`
}

// key returns the registry unit named by the manifest.
func (m manifest) key() string {
	if m.Version == "" {
		return m.Unit
	}
	return m.Unit + "@" + m.Version
}

func (m manifest) exports(name string) bool {
	for _, e := range m.Exports {
		if e == name {
			return true
		}
	}
	return false
}

type manifestLoader struct{}

func (manifestLoader) Load(ctx context.Context, path, name string) (*Unit, error) {
	src, err := readUnit(ctx, path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := yaml.Unmarshal(src, &m); err != nil {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unit %s", path), err)
	}
	if m.Unit == "" {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unit %s: manifest does not name a unit", path))
	}
	if !m.exports(name) {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("unit %s: %s does not export %q", path, m.key(), name))
	}
	fv, err := bigdispatch.FuncByName(m.key(), name)
	if err != nil {
		return nil, errors.E(fmt.Sprintf("unit %s", path), err)
	}
	u := newUnit(path, name, src, &funcUnit{fv: fv})
	log.Debug.Printf("unit %s: bound %s.%s", u, m.key(), name)
	return u, nil
}

type funcUnit struct {
	fv *bigdispatch.FuncValue
}

func (f *funcUnit) instance() (Instance, error) {
	return funcInstance{f.fv}, nil
}

func (f *funcUnit) release() { f.fv = nil }

type funcInstance struct{ fv *bigdispatch.FuncValue }

func (f funcInstance) Call(ctx context.Context, v interface{}) (interface{}, error) {
	return f.fv.Call(ctx, v)
}
