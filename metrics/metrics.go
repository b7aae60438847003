// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package metrics exports dispatch and endpoint metrics through
// Prometheus. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/grailbio/bigdispatch"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

// Metrics holds the collectors recorded by dispatchers and wire
// servers.
type Metrics struct {
	jobs     *prometheus.CounterVec
	calls    *prometheus.CounterVec
	items    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	requests *prometheus.CounterVec
}

// New registers the dispatch collectors on reg. A nil registerer
// defaults to the global Prometheus registerer. Collectors that are
// already registered are reused, so New may be called more than once
// per registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bigdispatch_jobs_total",
			Help: "Total number of jobs dispatched, by mode (local or remote).",
		}, []string{"mode"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bigdispatch_endpoint_calls_total",
			Help: "Total number of endpoint calls made by dispatchers, by outcome.",
		}, []string{"outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bigdispatch_items_total",
			Help: "Total number of items processed, by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bigdispatch_endpoint_seconds",
			Help:    "Time taken by an endpoint to process its partition.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bigdispatch_requests_total",
			Help: "Total number of requests served by wire servers, by outcome.",
		}, []string{"outcome"}),
	}
	var err error
	if m.jobs, err = registerCounter(reg, m.jobs); err != nil {
		return nil, err
	}
	if m.calls, err = registerCounter(reg, m.calls); err != nil {
		return nil, err
	}
	if m.items, err = registerCounter(reg, m.items); err != nil {
		return nil, err
	}
	if m.requests, err = registerCounter(reg, m.requests); err != nil {
		return nil, err
	}
	if err := reg.Register(m.latency); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		m.latency = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return m, nil
}

func registerCounter(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(*prometheus.CounterVec), nil
		}
		return nil, err
	}
	return c, nil
}

func outcome(err error) string {
	if err != nil {
		return outcomeError
	}
	return outcomeOK
}

// ObserveJob records a dispatched job.
func (m *Metrics) ObserveJob(local bool) {
	if m == nil {
		return
	}
	mode := "remote"
	if local {
		mode = "local"
	}
	m.jobs.WithLabelValues(mode).Inc()
}

// ObserveEndpoint records the outcome of one endpoint call made by a
// dispatcher, including its per-item outcomes.
func (m *Metrics) ObserveEndpoint(elapsed time.Duration, r bigdispatch.EndpointResult) {
	if m == nil {
		return
	}
	o := outcome(r.Err)
	m.calls.WithLabelValues(o).Inc()
	m.latency.WithLabelValues(o).Observe(elapsed.Seconds())
	m.observeItems(r.Results)
}

// ObserveRequest records a request served by a wire server.
func (m *Metrics) ObserveRequest(results []bigdispatch.Result, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome(err)).Inc()
	m.observeItems(results)
}

func (m *Metrics) observeItems(results []bigdispatch.Result) {
	var ok, failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
		} else {
			ok++
		}
	}
	m.items.WithLabelValues(outcomeOK).Add(float64(ok))
	m.items.WithLabelValues(outcomeError).Add(float64(failed))
}
