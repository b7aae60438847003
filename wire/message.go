// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package wire

import (
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigdispatch"
)

// A request is the payload of a request frame.
type request struct {
	Descriptor bigdispatch.WorkDescriptor
}

// descriptor returns the request's descriptor. Gob does not transmit
// empty maps and slices, so they are restored here: decoded
// descriptors never have nil Overrides or Inputs.
func (r request) descriptor() bigdispatch.WorkDescriptor {
	d := r.Descriptor
	if d.Overrides == nil {
		d.Overrides = map[string]string{}
	}
	if d.Inputs == nil {
		d.Inputs = []interface{}{}
	}
	return d
}

// A response is the payload of a response frame. Err is set if the
// partition failed as a whole, in which case Results is empty.
type response struct {
	Results []result
	Err     *wireError
}

type result struct {
	Value interface{}
	Err   *wireError
}

// wireError is an error in transit. Only its kind, severity and text
// survive the trip.
type wireError struct {
	Kind     int
	Severity int
	Message  string
}

func newResponse(results []bigdispatch.Result, err error) response {
	if err != nil {
		return response{Err: toWire(err)}
	}
	resp := response{Results: make([]result, len(results))}
	for i, res := range results {
		resp.Results[i] = result{Value: res.Value, Err: toWire(res.Err)}
	}
	return resp
}

func (r response) results() ([]bigdispatch.Result, error) {
	if r.Err != nil {
		return nil, r.Err.error()
	}
	results := make([]bigdispatch.Result, len(r.Results))
	for i, res := range r.Results {
		results[i] = bigdispatch.Result{Value: res.Value}
		if res.Err != nil {
			results[i].Err = res.Err.error()
		}
	}
	return results, nil
}

func toWire(err error) *wireError {
	if err == nil {
		return nil
	}
	top := errors.Recover(err)
	e, kind, severity := top, top.Kind, top.Severity
	// Wrapping errors are of kind Other; report the innermost kind.
	for kind == errors.Other {
		inner, ok := e.Err.(*errors.Error)
		if !ok {
			break
		}
		e = inner
		kind = e.Kind
		if severity == errors.Unknown {
			severity = e.Severity
		}
	}
	// The kind and severity are restored on receipt, so the message
	// must not carry their text.
	return &wireError{Kind: int(kind), Severity: int(severity), Message: bare(top, e).Error()}
}

// bare returns a copy of the chain of errors from e through last with
// their kinds and severities cleared.
func bare(e, last *errors.Error) error {
	c := *e
	c.Severity = errors.Unknown
	if e == last {
		c.Kind = errors.Other
		return &c
	}
	c.Err = bare(e.Err.(*errors.Error), last)
	return &c
}

func (w *wireError) error() error {
	return errors.E(errors.Kind(w.Kind), errors.Severity(w.Severity), w.Message)
}
