// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigdispatch/dispatchconfig"
	"github.com/grailbio/bigdispatch/wire"
)

func serveUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: bigdispatch serve [flags]

Command serve runs an endpoint: it accepts work descriptors on the
listen address, runs them with a local worker pool, and returns their
results. Units named by requests are loaded from the local filesystem
(or any path understood by github.com/grailbio/base/file), after
applying the request's platform overrides.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func serveCmd(config dispatchconfig.Config, args []string) {
	flags := flag.NewFlagSet("bigdispatch serve", flag.ExitOnError)
	config.RegisterFlags(flags, "")
	flags.Usage = func() { serveUsage(flags) }
	must.Nil(flags.Parse(args))
	if flags.NArg() != 0 {
		flags.Usage()
	}
	must.Nil(config.Validate())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	l, err := net.Listen("tcp", config.Listen)
	must.Nil(err, "listen")
	server := &wire.Server{
		Handler:  config.Executor(),
		Compress: config.Compress,
		Metrics:  startHTTP(config.HTTP, nil),
		Drain:    config.Drain,
	}
	if err := server.Serve(ctx, l); err != nil {
		log.Fatal(err)
	}
	log.Printf("shut down")
}
