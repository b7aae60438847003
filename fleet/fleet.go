// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package fleet discovers the endpoints among which jobs are
// dispatched: from a static list, or from running EC2 instances.
package fleet

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigdispatch"
)

// A Discoverer returns the current set of endpoints.
type Discoverer interface {
	Discover(ctx context.Context) ([]bigdispatch.Endpoint, error)
}

// Static is a fixed list of endpoints.
type Static []bigdispatch.Endpoint

// Discover returns s.
func (s Static) Discover(ctx context.Context) ([]bigdispatch.Endpoint, error) {
	return s, nil
}

// Parse parses a comma-separated list of host:port addresses. Blank
// entries are skipped; an empty list yields no endpoints (local mode).
func Parse(list string) (Static, error) {
	var endpoints Static
	for _, addr := range strings.Split(list, ",") {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("endpoint %q", addr), err)
		}
		if host == "" || port == "" {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("endpoint %q: missing host or port", addr))
		}
		endpoints = append(endpoints, bigdispatch.Endpoint(addr))
	}
	return endpoints, nil
}
