// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
	Package bigdispatch implements a small work-dispatch engine. Given
	a function exported by a unit, a sequence of inputs, and a list of
	endpoints, bigdispatch partitions the inputs, ships each partition
	together with a description of the function to an endpoint, runs
	it there on a local worker pool, and reassembles the results in
	input order.

	Endpoints are either the calling process (bigdispatch.Local) or a
	wire server (package github.com/grailbio/bigdispatch/wire)
	reachable over TCP. The dispatcher itself lives in package
	github.com/grailbio/bigdispatch/exec.

	Because Go cannot ship code over the wire, a unit names code that
	the endpoint can find on its own: either a JavaScript source file,
	compiled and run in an isolated runtime for each job, or a manifest
	that exports functions compiled into the endpoint's binary with
	Func. Units may live at different paths on different platforms;
	the per-platform directories travel with each job so that every
	endpoint can resolve its own copy.

	This package holds the data model shared by the engine: the work
	descriptor, endpoints, per-item and per-endpoint results, the
	partitioning algorithm, and the function registry.
*/
package bigdispatch
