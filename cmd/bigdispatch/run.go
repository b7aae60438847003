// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigdispatch"
	"github.com/grailbio/bigdispatch/dispatchconfig"
	"github.com/grailbio/bigdispatch/exec"
)

func runUsage(flags *flag.FlagSet) {
	fmt.Fprint(os.Stderr, `usage: bigdispatch run -unit path -func name [flags] [inputs.json]

Command run applies the function name, exported by the unit at path,
to each value of the JSON array read from inputs.json (or standard
input), and prints the JSON array of results. The inputs are
partitioned among the configured endpoints; with no endpoints they
are processed in this process.

The flags are:
`)
	flags.PrintDefaults()
	os.Exit(2)
}

func runCmd(config dispatchconfig.Config, args []string) {
	var (
		flags         = flag.NewFlagSet("bigdispatch run", flag.ExitOnError)
		unitPath      = flags.String("unit", "", "path of the unit defining the function")
		funcName      = flags.String("func", "", "name of the function to apply")
		consoleStatus = flags.Bool("console-status", false, "print status to stderr")
	)
	config.RegisterFlags(flags, "")
	flags.Usage = func() { runUsage(flags) }
	must.Nil(flags.Parse(args))
	if *unitPath == "" || *funcName == "" || flags.NArg() > 1 {
		flags.Usage()
	}
	location := *unitPath
	if !strings.Contains(location, "://") {
		var err error
		location, err = filepath.Abs(location)
		must.Nil(err)
	}

	var in io.Reader = os.Stdin
	if flags.NArg() == 1 {
		f, err := os.Open(flags.Arg(0))
		must.Nil(err)
		defer f.Close()
		in = f
	}
	var inputs []interface{}
	must.Nil(json.NewDecoder(in).Decode(&inputs), "decode inputs")

	ctx := context.Background()
	var s status.Status
	if *consoleStatus {
		var console status.Reporter
		go console.Go(os.Stderr, &s)
	}
	tracer := config.Tracer()
	options, err := config.DispatcherOptions(startHTTP(config.HTTP, &s), &s, tracer)
	must.Nil(err)
	endpoints, err := config.Endpoints(ctx)
	must.Nil(err)
	result, err := exec.New(options...).ProcessWork(ctx, exec.Job{
		Location:  location,
		Func:      *funcName,
		Inputs:    inputs,
		Overrides: config.Overrides,
		Endpoints: endpoints,
	})
	if terr := config.WriteTrace(ctx, tracer); terr != nil {
		log.Error.Print(terr)
	}
	if err != nil {
		log.Fatal(err)
	}
	outputs, err := collect(inputs, len(endpoints), result)
	must.Nil(err)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	must.Nil(enc.Encode(outputs))
}

// collect returns the outputs of a job run over inputs on k endpoints,
// aligned with inputs. Failed items are reported as nulls, as is every
// input of a failed partition.
func collect(inputs []interface{}, k int, result bigdispatch.JobResult) ([]interface{}, error) {
	plan, err := bigdispatch.Plan(inputs, k)
	if err != nil {
		return nil, err
	}
	if len(plan) != len(result) {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("%d partitions planned, %d results", len(plan), len(result)))
	}
	outputs := make([]interface{}, 0, len(inputs))
	for j, r := range result {
		if r.Err != nil {
			log.Error.Printf("endpoint %s: %v", r.Endpoint, r.Err)
			outputs = append(outputs, make([]interface{}, len(plan[j]))...)
			continue
		}
		for i, res := range r.Results {
			if res.Err != nil {
				log.Error.Printf("endpoint %s: item %d: %v", r.Endpoint, i, res.Err)
				outputs = append(outputs, nil)
				continue
			}
			outputs = append(outputs, res.Value)
		}
	}
	return outputs, nil
}
