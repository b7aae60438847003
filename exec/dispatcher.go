// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigdispatch"
	"github.com/grailbio/bigdispatch/metrics"
	"github.com/grailbio/bigdispatch/unit"
	"github.com/grailbio/bigdispatch/wire"
)

// A Caller ships a work descriptor to a remote endpoint and returns
// its results. It is implemented by *wire.Client.
type Caller interface {
	Call(ctx context.Context, addr string, d bigdispatch.WorkDescriptor) ([]bigdispatch.Result, error)
}

// A Policy determines how ProcessWork reports failures.
type Policy int

const (
	// Strict reports the first endpoint or item error, in endpoint
	// order, as ProcessWork's error.
	Strict Policy = iota
	// Partial reports failures only inside the returned JobResult.
	Partial
)

func (p Policy) String() string {
	switch p {
	case Strict:
		return "strict"
	case Partial:
		return "partial"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses a policy name as returned by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "strict", "":
		return Strict, nil
	case "partial":
		return Partial, nil
	}
	return Strict, errors.E(errors.Invalid, fmt.Sprintf("unknown policy %q", s))
}

// A Job describes a unit of work to be dispatched: apply the function
// Func, exported by the unit at Location, to every value in Inputs.
type Job struct {
	// Location is the location of the unit as seen by this process.
	Location string
	// Func names the function exported by the unit.
	Func string
	// Inputs holds the values to process. Use bigdispatch.Values to
	// convert a typed slice.
	Inputs []interface{}
	// Overrides maps platform identifiers to the directory holding the
	// unit on that platform. The dispatching platform is added
	// automatically.
	Overrides map[string]string
	// Endpoints lists the remote endpoints among which the inputs are
	// partitioned. If empty, the job runs in this process.
	Endpoints []bigdispatch.Endpoint
}

// A Dispatcher partitions jobs among endpoints, runs the partitions
// concurrently, and reassembles their results in input order.
// Dispatchers are safe for concurrent use.
type Dispatcher struct {
	pool     Pool
	executor *Executor
	client   Caller
	policy   Policy
	timeout  time.Duration
	status   *status.Status
	eventer  eventlog.Eventer
	metrics  *metrics.Metrics
	tracer   *Tracer
}

// An Option configures a Dispatcher.
type Option func(d *Dispatcher)

// OuterPool configures the pool that runs one task per endpoint.
// The default runs all endpoints concurrently.
func OuterPool(p Pool) Option {
	return func(d *Dispatcher) {
		d.pool = p
	}
}

// LocalExecutor configures the executor used for local jobs.
func LocalExecutor(e *Executor) Option {
	return func(d *Dispatcher) {
		d.executor = e
	}
}

// Client configures the caller used to reach remote endpoints.
func Client(c Caller) Option {
	return func(d *Dispatcher) {
		d.client = c
	}
}

// FailurePolicy configures how failures are reported.
func FailurePolicy(p Policy) Option {
	return func(d *Dispatcher) {
		d.policy = p
	}
}

// Timeout bounds the time given to each endpoint. Endpoints that do
// not respond in time fail with an errors.Timeout error. Zero means
// no timeout.
func Timeout(timeout time.Duration) Option {
	if timeout < 0 {
		panic("exec.Timeout: timeout < 0")
	}
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// Status configures the dispatcher with a status object to which
// per-endpoint progress is reported.
func Status(status *status.Status) Option {
	return func(d *Dispatcher) {
		d.status = status
	}
}

// Eventer configures the dispatcher with an Eventer that will be used
// to log job events.
func Eventer(e eventlog.Eventer) Option {
	return func(d *Dispatcher) {
		d.eventer = e
	}
}

// Metrics configures the dispatcher to record jobs and endpoint calls.
func Metrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Trace configures the dispatcher to record its jobs in t.
func Trace(t *Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

// New returns a new Dispatcher configured with the provided options.
func New(options ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:     Goroutines(0),
		executor: new(Executor),
		client:   new(wire.Client),
		eventer:  eventlog.Nop{},
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// ProcessWork runs job and returns its results, aligned with the
// job's endpoints (or a single local result if the job has none).
// Each endpoint receives a contiguous partition of the inputs, so
// JobResult.Values returns outputs in input order.
//
// The returned JobResult is complete even when some endpoints fail.
// Under the Strict policy, the first failure is also returned as an
// error; under Partial, the error is set only if the job is invalid.
func (d *Dispatcher) ProcessWork(ctx context.Context, job Job) (bigdispatch.JobResult, error) {
	if job.Func == "" {
		return nil, errors.E(errors.Invalid, "job has no function name")
	}
	if job.Location == "" {
		return nil, errors.E(errors.Invalid, "job has no unit location")
	}
	overrides := make(map[string]string, len(job.Overrides)+1)
	for platform, dir := range job.Overrides {
		overrides[platform] = dir
	}
	overrides[unit.Platform()] = unit.Dir(job.Location)
	template := bigdispatch.WorkDescriptor{
		JobID:     uuid.New().String(),
		Func:      job.Func,
		Location:  job.Location,
		Overrides: overrides,
	}

	endpoints := job.Endpoints
	local := len(endpoints) == 0
	if local {
		endpoints = []bigdispatch.Endpoint{bigdispatch.Local}
	}
	chunks, err := bigdispatch.Plan(job.Inputs, len(job.Endpoints))
	if err != nil {
		return nil, err
	}
	d.metrics.ObserveJob(local)
	d.eventer.Event("bigdispatch:jobStart",
		"jobID", template.JobID,
		"func", job.Func,
		"location", job.Location,
		"numInputs", len(job.Inputs),
		"numEndpoints", len(job.Endpoints))
	log.Printf("job %s: dispatching %s from %s over %d inputs to %d endpoints",
		template.JobID, job.Func, job.Location, len(job.Inputs), len(endpoints))

	endJob := d.tracer.span(bigdispatch.Local, true, template.JobID, "job",
		"func", job.Func, "inputs", len(job.Inputs))
	var group *status.Group
	if d.status != nil {
		group = d.status.Groupf("job %s %s", template.JobID, job.Func)
	}
	tasks := make([]Task, len(endpoints))
	for i := range endpoints {
		endpoint, desc := endpoints[i], template.WithInputs(chunks[i])
		tasks[i] = func(ctx context.Context) bigdispatch.EndpointResult {
			return d.run(ctx, group, endpoint, desc)
		}
	}
	start := time.Now()
	result := bigdispatch.JobResult(d.pool.Run(ctx, tasks))
	for i := range result {
		result[i].Endpoint = endpoints[i]
	}
	err = result.Err()
	endJob("success", err == nil)
	d.eventer.Event("bigdispatch:jobDone",
		"jobID", template.JobID,
		"duration", time.Since(start).Seconds(),
		"success", err == nil)
	if group != nil {
		group.Printf("done in %s", time.Since(start))
	}
	if err != nil {
		log.Error.Printf("job %s: %v", template.JobID, err)
		if d.policy == Strict {
			return result, errors.E(fmt.Sprintf("job %s", template.JobID), err)
		}
	}
	return result, nil
}

// run executes one endpoint's partition, locally or remotely.
func (d *Dispatcher) run(ctx context.Context, group *status.Group, endpoint bigdispatch.Endpoint, desc bigdispatch.WorkDescriptor) bigdispatch.EndpointResult {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	var task *status.Task
	if group != nil {
		task = group.Start(endpoint.String())
		task.Printf("%d inputs", len(desc.Inputs))
		defer task.Done()
	}
	end := d.tracer.span(endpoint, false, desc.JobID, "endpoint", "inputs", len(desc.Inputs))
	var (
		start   = time.Now()
		results []bigdispatch.Result
		err     error
	)
	if endpoint.IsLocal() {
		results, err = d.executor.Execute(ctx, desc)
	} else {
		results, err = d.client.Call(ctx, string(endpoint), desc)
	}
	if err == nil && len(results) != len(desc.Inputs) {
		err = errors.E(errors.Integrity,
			fmt.Sprintf("endpoint returned %d results for %d inputs", len(results), len(desc.Inputs)))
	}
	r := bigdispatch.EndpointResult{Endpoint: endpoint, Results: results, Err: err}
	if err != nil {
		r.Results = nil
	}
	elapsed := time.Since(start)
	d.metrics.ObserveEndpoint(elapsed, r)
	if err := r.Error(); err != nil {
		end("error", err.Error())
		if task != nil {
			task.Printf("error: %v", err)
		}
	} else {
		end()
		if task != nil {
			task.Printf("%d results in %s", len(results), elapsed)
		}
	}
	return r
}
