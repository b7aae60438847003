// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package unit

import (
	"path/filepath"
	"runtime"
	"strings"
)

// Platform returns the platform identifier of the running process, as
// used for keys in a descriptor's overrides.
func Platform() string { return runtime.GOOS }

// Resolve returns the path from which the unit at location should be
// loaded on platform. If overrides holds a non-empty directory for the
// platform, the unit's file name is joined to that directory;
// otherwise location is returned unchanged. Both '/' and '\' separate
// path elements in location, since it may have been written on another
// platform.
func Resolve(location string, overrides map[string]string, platform string) string {
	dir := overrides[platform]
	if dir == "" {
		return location
	}
	base := location
	if i := strings.LastIndexAny(location, `/\`); i >= 0 {
		base = location[i+1:]
	}
	if strings.Contains(dir, "://") {
		return strings.TrimRight(dir, "/") + "/" + base
	}
	return filepath.Join(dir, base)
}

// Dir returns the directory of location, treating both '/' and '\' as
// separators. It is the counterpart of Resolve used by dispatchers to
// register their own platform's directory.
func Dir(location string) string {
	i := strings.LastIndexAny(location, `/\`)
	switch {
	case i < 0:
		return "."
	case i == 0:
		return location[:1]
	}
	return location[:i]
}
