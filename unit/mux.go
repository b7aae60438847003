// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package unit

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/errors"
)

// A Mux is a Loader that dispatches on the (lowercased) file
// extension of the unit path.
type Mux map[string]Loader

// Default is the loader used by endpoints unless configured otherwise.
var Default = Mux{
	".js":   Script,
	".yaml": Manifest,
	".yml":  Manifest,
}

// Load implements Loader.
func (m Mux) Load(ctx context.Context, path, name string) (*Unit, error) {
	ext := strings.ToLower(filepath.Ext(path))
	loader, ok := m[ext]
	if !ok {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unit %s: no loader for extension %q", path, ext))
	}
	return loader.Load(ctx, path, name)
}
