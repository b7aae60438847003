// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bigdispatch

// Endpoint names the process that executes one partition of a job:
// a TCP address (host:port) of a wire server, or Local for the
// calling process.
type Endpoint string

// Local is the endpoint that denotes the calling process.
const Local Endpoint = ""

// IsLocal tells whether e denotes the calling process.
func (e Endpoint) IsLocal() bool { return e == Local }

func (e Endpoint) String() string {
	if e.IsLocal() {
		return "local"
	}
	return string(e)
}

// A WorkDescriptor is the self-contained description of the work
// shipped to an endpoint: which function to run, where the unit that
// defines it lives, where the unit lives on other platforms, and the
// partition of inputs to run it over.
//
// All fields but Inputs are shared by every descriptor of a job.
// Descriptors are treated as immutable once built.
type WorkDescriptor struct {
	// JobID identifies the job in logs and events.
	JobID string
	// Func is the name of the function exported by the unit.
	Func string
	// Location is the canonical location of the unit, as seen by the
	// dispatching process.
	Location string
	// Overrides maps a platform identifier (a GOOS value) to the
	// directory that holds the unit on that platform.
	Overrides map[string]string
	// Inputs is the ordered partition of values to process.
	Inputs []interface{}
}

// WithInputs returns a copy of d with the provided inputs. The
// overrides map is copied so that clones never share mutable state.
func (d WorkDescriptor) WithInputs(inputs []interface{}) WorkDescriptor {
	c := d
	c.Overrides = make(map[string]string, len(d.Overrides))
	for k, v := range d.Overrides {
		c.Overrides[k] = v
	}
	c.Inputs = inputs
	return c
}
