// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command bigdispatch serves and dispatches bigdispatch jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigdispatch/dispatchconfig"
	_ "github.com/grailbio/bigdispatch/example"
	"github.com/grailbio/bigdispatch/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	file.RegisterImplementation("s3", s3file.NewImplementation(
		s3file.NewDefaultProvider(session.Options{})))
}

func usage() {
	fmt.Fprintf(os.Stderr, `Bigdispatch runs functions over lists of values, locally or across a
fleet of endpoints.

Usage:

	bigdispatch <command> [arguments]

The commands are:

	serve       serve dispatched work on this machine
	run         dispatch a function over a list of JSON values

Configuration is read from %s; flags given
to each command override it.
`, dispatchconfig.Path)
	os.Exit(2)
}

func main() {
	log.AddFlags()
	log.SetFlags(0)
	log.SetPrefix("bigdispatch: ")
	must.Func = log.Fatal
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
	}

	config, err := dispatchconfig.Load(context.Background(), dispatchconfig.Path)
	must.Nil(err)

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	default:
		fmt.Fprintln(os.Stderr, "unknown command", cmd)
		flag.Usage()
	case "serve":
		serveCmd(config, args)
	case "run":
		runCmd(config, args)
	}
}

// startHTTP registers the process's metrics and serves them, together
// with the status of s (if not nil), on addr. It returns nil metrics
// if addr is empty.
func startHTTP(addr string, s *status.Status) *metrics.Metrics {
	if addr == "" {
		return nil
	}
	m, err := metrics.New(prometheus.DefaultRegisterer)
	must.Nil(err)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if s != nil {
		mux.Handle("/debug/status", status.Handler(s))
	}
	go func() {
		log.Printf("HTTP metrics at: %v", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error.Printf("failed to start HTTP at: %v: %v", addr, err)
		}
	}()
	return m
}
