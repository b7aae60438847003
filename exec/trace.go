// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package exec

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/grailbio/bigdispatch"
	"github.com/grailbio/bigdispatch/internal/trace"
)

// A Tracer records the jobs run by a dispatcher, and their endpoint
// calls, as events in the Chrome tracing format. Each endpoint is
// rendered as a "process", and the dispatcher itself as process 0.
// Concurrent calls to the same endpoint are assigned distinct virtual
// thread IDs so that they are rendered on separate rows.
//
// A nil *Tracer discards events.
type Tracer struct {
	mu     sync.Mutex
	first  time.Time
	events []trace.Event
	pids   map[bigdispatch.Endpoint]int
	// rows holds, for each process, whether each row is busy.
	rows map[int][]bool
}

// NewTracer returns a new, empty tracer.
func NewTracer() *Tracer {
	return &Tracer{
		pids: make(map[bigdispatch.Endpoint]int),
		rows: make(map[int][]bool),
	}
}

// span begins a complete ("X") event named name on the process
// representing endpoint (or the dispatcher, if dispatcher is true).
// The returned function ends the span; the arguments passed to either
// are interleaved key-value pairs attached to the event.
func (t *Tracer) span(endpoint bigdispatch.Endpoint, dispatcher bool, name, cat string, args ...interface{}) (end func(args ...interface{})) {
	if t == nil {
		return func(...interface{}) {}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if t.first.IsZero() {
		t.first = now
	}
	var pid int
	if !dispatcher {
		pid = t.pid(endpoint, now)
	}
	event := trace.Event{
		Pid:  pid,
		Tid:  t.acquireRow(pid),
		Ts:   t.ts(now),
		Ph:   "X",
		Name: name,
		Cat:  cat,
		Args: make(map[string]interface{}),
	}
	addArgs(event.Args, args)
	return func(args ...interface{}) {
		t.mu.Lock()
		defer t.mu.Unlock()
		event.Dur = t.ts(time.Now()) - event.Ts
		if event.Dur == 0 {
			event.Dur = 1
		}
		addArgs(event.Args, args)
		t.releaseRow(pid, event.Tid)
		t.events = append(t.events, event)
	}
}

func addArgs(m map[string]interface{}, args []interface{}) {
	if len(args)%2 != 0 {
		panic("exec.Tracer: odd number of arguments")
	}
	for i := 0; i < len(args); i += 2 {
		m[fmt.Sprint(args[i])] = args[i+1]
	}
}

// ts returns the timestamp of now in microseconds since the first
// event.
func (t *Tracer) ts(now time.Time) int64 {
	return now.Sub(t.first).Nanoseconds() / 1e3
}

// pid returns the process ID of endpoint, assigning one (and naming
// the process) if this is the endpoint's first event.
func (t *Tracer) pid(endpoint bigdispatch.Endpoint, now time.Time) int {
	pid, ok := t.pids[endpoint]
	if ok {
		return pid
	}
	pid = len(t.pids) + 1
	t.pids[endpoint] = pid
	t.events = append(t.events, trace.Event{
		Pid:  pid,
		Ts:   t.ts(now),
		Ph:   "M",
		Name: "process_name",
		Args: map[string]interface{}{"name": endpoint.String()},
	})
	return pid
}

// acquireRow returns the lowest idle row (thread ID) of pid, marking
// it busy. Rows are 1-indexed.
func (t *Tracer) acquireRow(pid int) int {
	rows := t.rows[pid]
	for i, busy := range rows {
		if !busy {
			rows[i] = true
			return i + 1
		}
	}
	t.rows[pid] = append(rows, true)
	return len(rows) + 1
}

func (t *Tracer) releaseRow(pid, tid int) {
	t.rows[pid][tid-1] = false
}

// Marshal writes the events recorded by t to w in Chrome's event
// tracing format. Spans that have not ended are omitted.
func (t *Tracer) Marshal(w io.Writer) error {
	t.mu.Lock()
	tr := trace.Trace{Events: make([]trace.Event, len(t.events))}
	copy(tr.Events, t.events)
	t.mu.Unlock()
	return tr.Encode(w)
}
