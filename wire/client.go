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
)

// A Client calls remote endpoints. The zero Client is ready to use.
type Client struct {
	// Compress enables zstd compression of request frames.
	Compress bool
	// Dialer is used to open connections. If nil, a zero net.Dialer
	// is used.
	Dialer *net.Dialer
}

// Call ships d to the endpoint at addr and returns its results. Call
// opens a connection, writes one request frame, blocks until it has
// read one response frame, and closes the connection.
//
// Connection and I/O failures are returned as errors.Net errors. If
// ctx is done before the response arrives, the connection is closed
// and Call returns an errors.Timeout or errors.Canceled error. Errors
// reported by the endpoint keep their kind.
func (c *Client) Call(ctx context.Context, addr string, d bigdispatch.WorkDescriptor) ([]bigdispatch.Result, error) {
	dialer := c.Dialer
	if dialer == nil {
		dialer = new(net.Dialer)
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if cerr := bigdispatch.ContextError(ctx, fmt.Sprintf("dial %s", addr)); cerr != nil {
			return nil, cerr
		}
		return nil, errors.E(errors.Net, fmt.Sprintf("dial %s", addr), err)
	}
	defer conn.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblock any pending read or write.
			conn.SetDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()

	start := time.Now()
	var resp response
	err = WriteFrame(conn, request{Descriptor: d}, c.Compress)
	if err == nil {
		err = ReadFrame(conn, &resp)
	}
	if err != nil {
		if cerr := bigdispatch.ContextError(ctx, fmt.Sprintf("call %s", addr)); cerr != nil {
			return nil, cerr
		}
		return nil, errors.E(fmt.Sprintf("call %s", addr), err)
	}
	log.Debug.Printf("job %s: %s: %d inputs in %s", d.JobID, addr, len(d.Inputs), time.Since(start))
	return resp.results()
}
