// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package wire

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigdispatch"
	"github.com/grailbio/bigdispatch/ctxsync"
	"github.com/grailbio/bigdispatch/metrics"
)

// A Handler executes the work described by a request. It is
// implemented by *exec.Executor.
type Handler interface {
	Execute(ctx context.Context, d bigdispatch.WorkDescriptor) ([]bigdispatch.Result, error)
}

// A Server serves wire requests with a Handler.
type Server struct {
	Handler Handler
	// Compress enables zstd compression of response frames. Responses
	// to compressed requests are always compressed.
	Compress bool
	// Metrics, if not nil, records served requests.
	Metrics *metrics.Metrics
	// Drain is the time given to requests in flight to complete once
	// the server is shut down.
	Drain time.Duration
}

// ServeConn serves exactly one request on conn and closes it: it reads
// one request frame, executes it, and writes one response frame. The
// connection is closed early if ctx is done.
// Failures of the handler are reported to the client; ServeConn
// returns only errors that prevented a response from being delivered.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblock a pending read or write.
			conn.Close()
		case <-stop:
		}
	}()
	var req request
	flags, err := readFrame(conn, &req)
	if err != nil {
		return err
	}
	d := req.descriptor()
	results, err := s.Handler.Execute(ctx, d)
	s.Metrics.ObserveRequest(results, err)
	if err != nil {
		log.Error.Printf("job %s: %s from %s: %v", d.JobID, d.Func, conn.RemoteAddr(), err)
	}
	compress := s.Compress || flags&flagZstd != 0
	if err := WriteFrame(conn, newResponse(results, err), compress); err != nil {
		if !errors.Is(errors.Invalid, err) {
			return err
		}
		// The results could not be encoded (typically a value of an
		// unregistered type); report that instead.
		log.Error.Printf("job %s: encode response: %v", d.JobID, err)
		return WriteFrame(conn, newResponse(nil, err), compress)
	}
	return nil
}

// Serve accepts connections on l and serves each in its own goroutine
// until ctx is done, at which point l is closed. Requests in flight
// are then given s.Drain to complete before their contexts are
// canceled, their connections are closed, and Serve returns nil.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-stop:
		}
	}()
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	var inflight ctxsync.Counter
	log.Printf("serving on %s", l.Addr())
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.drain(&inflight)
				return nil
			}
			return errors.E(errors.Net, fmt.Sprintf("accept on %s", l.Addr()), err)
		}
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			if err := s.ServeConn(reqCtx, conn); err != nil {
				log.Error.Printf("serve %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

func (s *Server) drain(inflight *ctxsync.Counter) {
	n := inflight.N()
	if n == 0 {
		return
	}
	log.Printf("draining %d requests", n)
	ctx, cancel := context.WithTimeout(context.Background(), s.Drain)
	defer cancel()
	if err := inflight.Wait(ctx); err != nil {
		log.Printf("abandoning %d requests", inflight.N())
	}
}
