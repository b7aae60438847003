// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"context"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/eventlog"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigdispatch"
	"github.com/grailbio/bigdispatch/metrics"
	"github.com/grailbio/bigdispatch/unit"
	"github.com/grailbio/bigdispatch/wire"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/prometheus/client_golang/prometheus"
)

// startEndpoints starts n in-process endpoints serving the wire
// protocol and returns their addresses.
func startEndpoints(t *testing.T, n int) (endpoints []bigdispatch.Endpoint, shutdown func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		assert.NoError(t, err)
		endpoints = append(endpoints, bigdispatch.Endpoint(l.Addr().String()))
		server := &wire.Server{Handler: &Executor{Parallelism: 2}}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(ctx, l); err != nil {
				t.Error(err)
			}
		}()
	}
	return endpoints, func() {
		cancel()
		wg.Wait()
	}
}

// deadEndpoint returns the address of a closed port.
func deadEndpoint(t *testing.T) bigdispatch.Endpoint {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	addr := l.Addr().String()
	assert.NoError(t, l.Close())
	return bigdispatch.Endpoint(addr)
}

func lengths(result bigdispatch.JobResult) []int {
	n := make([]int, len(result))
	for i, r := range result {
		n[i] = len(r.Results)
	}
	return n
}

func TestProcessWorkRemote(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "dispatch")
	defer cleanup()
	location := writeUnit(t, dir, "exectest.yaml", manifestSrc)
	endpoints, shutdown := startEndpoints(t, 3)
	defer shutdown()

	inputs := make([]interface{}, 10)
	for i := range inputs {
		inputs[i] = i + 1
	}
	d := New()
	result, err := d.ProcessWork(context.Background(), Job{
		Location:  location,
		Func:      "square",
		Inputs:    inputs,
		Endpoints: endpoints,
	})
	assert.NoError(t, err)
	expect.EQ(t, lengths(result), []int{4, 4, 2})
	for i, r := range result {
		expect.EQ(t, r.Endpoint, endpoints[i])
	}
	values, err := result.Values()
	assert.NoError(t, err)
	expect.EQ(t, values, []interface{}{1, 4, 9, 16, 25, 36, 49, 64, 81, 100})
}

func TestProcessWorkScript(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "dispatch")
	defer cleanup()
	location := writeUnit(t, dir, "plus.js", scriptSrc)
	endpoints, shutdown := startEndpoints(t, 2)
	defer shutdown()
	d := New(Client(&wire.Client{Compress: true}))
	result, err := d.ProcessWork(context.Background(), Job{
		Location:  location,
		Func:      "plus",
		Inputs:    bigdispatch.Values([]int{1, 2, 3}),
		Endpoints: endpoints,
	})
	assert.NoError(t, err)
	values, err := result.Values()
	assert.NoError(t, err)
	expect.EQ(t, values, []interface{}{int64(2), int64(3), int64(4)})
}

func TestProcessWorkEmpty(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "dispatch")
	defer cleanup()
	location := writeUnit(t, dir, "exectest.yaml", manifestSrc)
	endpoints, shutdown := startEndpoints(t, 2)
	defer shutdown()

	result, err := New().ProcessWork(context.Background(), Job{
		Location:  location,
		Func:      "square",
		Endpoints: endpoints,
	})
	assert.NoError(t, err)
	expect.EQ(t, lengths(result), []int{0, 0})
	values, err := result.Values()
	assert.NoError(t, err)
	expect.EQ(t, len(values), 0)
}

func TestProcessWorkLocal(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "dispatch")
	defer cleanup()
	location := writeUnit(t, dir, "exectest.yaml", manifestSrc)
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	assert.NoError(t, err)
	var s status.Status
	d := New(Metrics(m), Status(&s), OuterPool(Serial))
	result, err := d.ProcessWork(context.Background(), Job{
		Location: location,
		Func:     "square",
		Inputs:   bigdispatch.Values([]int{1, 2, 3, 4, 5}),
	})
	assert.NoError(t, err)
	expect.EQ(t, len(result), 1)
	if !result[0].Endpoint.IsLocal() {
		t.Errorf("got endpoint %s, want local", result[0].Endpoint)
	}
	values, err := result.Values()
	assert.NoError(t, err)
	expect.EQ(t, values, []interface{}{1, 4, 9, 16, 25})
}

// captureCaller records descriptors and returns their inputs.
type captureCaller struct {
	mu    sync.Mutex
	descs map[string]bigdispatch.WorkDescriptor
	drop  bool
}

func (c *captureCaller) Call(ctx context.Context, addr string, d bigdispatch.WorkDescriptor) ([]bigdispatch.Result, error) {
	c.mu.Lock()
	if c.descs == nil {
		c.descs = make(map[string]bigdispatch.WorkDescriptor)
	}
	c.descs[addr] = d
	c.mu.Unlock()
	results := make([]bigdispatch.Result, len(d.Inputs))
	for i, v := range d.Inputs {
		results[i].Value = v
	}
	if c.drop && len(results) > 0 {
		results = results[1:]
	}
	return results, nil
}

func TestProcessWorkDescriptors(t *testing.T) {
	caller := new(captureCaller)
	overrides := map[string]string{"testos": "/opt/units"}
	job := Job{
		Location:  "/home/units/f.js",
		Func:      "f",
		Inputs:    bigdispatch.Values([]string{"a", "b", "c"}),
		Overrides: overrides,
		Endpoints: []bigdispatch.Endpoint{"a:1", "b:1"},
	}
	result, err := New(Client(caller)).ProcessWork(context.Background(), job)
	assert.NoError(t, err)
	values, err := result.Values()
	assert.NoError(t, err)
	expect.EQ(t, values, []interface{}{"a", "b", "c"})

	// The caller's own platform is registered, and the job's overrides
	// are left untouched.
	expect.EQ(t, overrides, map[string]string{"testos": "/opt/units"})
	a, b := caller.descs["a:1"], caller.descs["b:1"]
	expect.EQ(t, a.Overrides, map[string]string{"testos": "/opt/units", unit.Platform(): "/home/units"})
	expect.EQ(t, a.Inputs, []interface{}{"a", "b"})
	expect.EQ(t, b.Inputs, []interface{}{"c"})
	a.Inputs, b.Inputs = nil, nil
	expect.EQ(t, a, b)
	if a.JobID == "" {
		t.Error("empty job ID")
	}
	if reflect.ValueOf(a.Overrides).Pointer() == reflect.ValueOf(b.Overrides).Pointer() {
		t.Error("descriptors share overrides")
	}
}

func TestProcessWorkResultCount(t *testing.T) {
	d := New(Client(&captureCaller{drop: true}))
	_, err := d.ProcessWork(context.Background(), Job{
		Location:  "/f.js",
		Func:      "f",
		Inputs:    ints(4),
		Endpoints: []bigdispatch.Endpoint{"a:1"},
	})
	if !errors.Is(errors.Integrity, err) {
		t.Errorf("got %v, want Integrity", err)
	}
}

func TestProcessWorkPolicy(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "dispatch")
	defer cleanup()
	location := writeUnit(t, dir, "exectest.yaml", manifestSrc)
	endpoints, shutdown := startEndpoints(t, 1)
	defer shutdown()
	job := Job{
		Location:  location,
		Func:      "square",
		Inputs:    ints(4),
		Endpoints: []bigdispatch.Endpoint{endpoints[0], deadEndpoint(t)},
	}
	check := func(result bigdispatch.JobResult) {
		t.Helper()
		expect.EQ(t, len(result), 2)
		if result[0].Err != nil {
			t.Errorf("endpoint 0: %v", result[0].Err)
		}
		expect.EQ(t, len(result[0].Results), 2)
		if !errors.Is(errors.Net, result[1].Err) {
			t.Errorf("endpoint 1: got %v, want Net", result[1].Err)
		}
	}

	result, err := New().ProcessWork(context.Background(), job)
	if !errors.Is(errors.Net, err) {
		t.Errorf("got %v, want Net", err)
	}
	check(result)

	result, err = New(FailurePolicy(Partial)).ProcessWork(context.Background(), job)
	assert.NoError(t, err)
	check(result)

	// Item errors are reported the same way.
	job.Func, job.Endpoints = "check", endpoints
	result, err = New().ProcessWork(context.Background(), job)
	if err == nil {
		t.Error("expected error")
	}
	result, err = New(FailurePolicy(Partial)).ProcessWork(context.Background(), job)
	assert.NoError(t, err)
	expect.EQ(t, result[0].Results[0].Value, 0)
	if result[0].Results[1].Err == nil {
		t.Error("expected item error")
	}
}

type blockingCaller struct{}

func (blockingCaller) Call(ctx context.Context, addr string, d bigdispatch.WorkDescriptor) ([]bigdispatch.Result, error) {
	<-ctx.Done()
	return nil, bigdispatch.ContextError(ctx, "call "+addr)
}

func TestProcessWorkTimeout(t *testing.T) {
	d := New(Client(blockingCaller{}), Timeout(50*time.Millisecond), FailurePolicy(Partial))
	start := time.Now()
	result, err := d.ProcessWork(context.Background(), Job{
		Location:  "/f.js",
		Func:      "f",
		Inputs:    ints(3),
		Endpoints: []bigdispatch.Endpoint{"a:1", "b:1", "c:1"},
	})
	assert.NoError(t, err)
	for i, r := range result {
		if !errors.Is(errors.Timeout, r.Err) {
			t.Errorf("endpoint %d: got %v, want Timeout", i, r.Err)
		}
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("job took %s", elapsed)
	}
}

func TestProcessWorkInvalid(t *testing.T) {
	d := New(FailurePolicy(Partial))
	for _, job := range []Job{
		{Location: "/f.js"},
		{Func: "f"},
	} {
		if _, err := d.ProcessWork(context.Background(), job); !errors.Is(errors.Invalid, err) {
			t.Errorf("%+v: got %v, want Invalid", job, err)
		}
	}
}

type recordingEventer struct {
	eventlog.Nop
	mu    sync.Mutex
	types []string
}

func (e *recordingEventer) Event(typ string, fieldPairs ...interface{}) {
	e.mu.Lock()
	e.types = append(e.types, typ)
	e.mu.Unlock()
}

func TestProcessWorkEvents(t *testing.T) {
	e := new(recordingEventer)
	_, err := New(Eventer(e), Client(new(captureCaller))).ProcessWork(context.Background(), Job{
		Location:  "/f.js",
		Func:      "f",
		Inputs:    ints(2),
		Endpoints: []bigdispatch.Endpoint{"a:1"},
	})
	assert.NoError(t, err)
	expect.EQ(t, e.types, []string{"bigdispatch:jobStart", "bigdispatch:jobDone"})
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{Strict, Partial} {
		got, err := ParsePolicy(p.String())
		assert.NoError(t, err)
		expect.EQ(t, got, p)
	}
	if _, err := ParsePolicy("lenient"); !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want Invalid", err)
	}
}
