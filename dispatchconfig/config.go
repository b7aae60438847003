// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package dispatchconfig provides a shared configuration for
// bigdispatch programs. Configuration is read from a YAML profile,
// by default $HOME/.bigdispatch/config.yaml:
//
//	endpoints: [10.0.0.1:7070, 10.0.0.2:7070]
//	parallelism: 8
//	timeout: 5m
//	trace: /tmp/bigdispatch.trace
//	overrides:
//	  windows: 'C:\units'
//
// and may be overridden by command line flags registered with
// RegisterFlags.
package dispatchconfig

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigdispatch"
	"github.com/grailbio/bigdispatch/exec"
	"github.com/grailbio/bigdispatch/fleet"
	"github.com/grailbio/bigdispatch/metrics"
	"github.com/grailbio/bigdispatch/wire"
	"gopkg.in/yaml.v3"
)

// Path determines the location of the profile read by Load.
var Path = os.ExpandEnv("$HOME/.bigdispatch/config.yaml")

// EC2 configures endpoint discovery among tagged EC2 instances.
type EC2 struct {
	Tag    string `yaml:"tag"`
	Value  string `yaml:"value"`
	Region string `yaml:"region"`
	Port   int    `yaml:"port"`
}

// Config is a bigdispatch configuration.
type Config struct {
	// Endpoints is a static list of host:port endpoints. If empty and
	// EC2 is not configured, jobs run in-process.
	Endpoints []string `yaml:"endpoints"`
	// EC2 configures endpoint discovery; it is used only if Endpoints
	// is empty.
	EC2 EC2 `yaml:"ec2"`
	// Parallelism is the size of each endpoint's worker pool. Zero
	// means GOMAXPROCS.
	Parallelism int `yaml:"parallelism"`
	// Fanout bounds the number of endpoints called concurrently. Zero
	// means unbounded.
	Fanout int `yaml:"fanout"`
	// Overrides maps platforms to unit directories.
	Overrides map[string]string `yaml:"overrides"`
	// Timeout bounds the time given to each endpoint.
	Timeout time.Duration `yaml:"timeout"`
	// Compress enables frame compression.
	Compress bool `yaml:"compress"`
	// Policy is the failure policy: "strict" or "partial".
	Policy string `yaml:"policy"`
	// Listen is the address served by "bigdispatch serve".
	Listen string `yaml:"listen"`
	// HTTP is the address of the metrics server; empty disables it.
	HTTP string `yaml:"http"`
	// Drain is the time given to requests in flight when a server
	// shuts down.
	Drain time.Duration `yaml:"drain"`
	// Trace is the path to which a trace of dispatched jobs, in the
	// Chrome tracing format, is written; empty disables tracing.
	Trace string `yaml:"trace"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Policy: exec.Strict.String(),
		Listen: fmt.Sprintf(":%d", fleet.DefaultPort),
		Drain:  30 * time.Second,
	}
}

// Parse parses a YAML profile. Fields absent from the profile keep
// their default values.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, errors.E(errors.Invalid, "parse config", err)
	}
	return c, nil
}

// Load reads the profile at path. A missing profile yields the
// default configuration.
func Load(ctx context.Context, path string) (config Config, err error) {
	if !strings.Contains(path, "://") {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return Default(), nil
		}
	}
	f, err := file.Open(ctx, path)
	if err != nil {
		if errors.Is(errors.NotExist, err) {
			return Default(), nil
		}
		return Config{}, errors.E(fmt.Sprintf("open config %s", path), err)
	}
	defer func() {
		if cerr := f.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()
	data, err := ioutil.ReadAll(f.Reader(ctx))
	if err != nil {
		return Config{}, errors.E(fmt.Sprintf("read config %s", path), err)
	}
	config, err = Parse(data)
	if err != nil {
		return Config{}, errors.E(fmt.Sprintf("config %s", path), err)
	}
	return config, nil
}

// Validate checks that c is well formed.
func (c Config) Validate() error {
	if _, err := fleet.Parse(strings.Join(c.Endpoints, ",")); err != nil {
		return err
	}
	if _, err := exec.ParsePolicy(c.Policy); err != nil {
		return err
	}
	switch {
	case c.Parallelism < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("negative parallelism %d", c.Parallelism))
	case c.Fanout < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("negative fanout %d", c.Fanout))
	case c.Timeout < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("negative timeout %s", c.Timeout))
	case c.Drain < 0:
		return errors.E(errors.Invalid, fmt.Sprintf("negative drain %s", c.Drain))
	case c.EC2.Port < 0 || c.EC2.Port > 65535:
		return errors.E(errors.Invalid, fmt.Sprintf("bad ec2 port %d", c.EC2.Port))
	}
	return nil
}

// Discoverer returns the endpoint discoverer configured by c.
func (c Config) Discoverer() (fleet.Discoverer, error) {
	if len(c.Endpoints) > 0 || c.EC2.Tag == "" {
		return fleet.Parse(strings.Join(c.Endpoints, ","))
	}
	return fleet.NewEC2(c.EC2.Region, c.EC2.Tag, c.EC2.Value, c.EC2.Port)
}

// Endpoints returns the endpoints to dispatch to. An empty result
// means that jobs run in-process.
func (c Config) Endpoints(ctx context.Context) ([]bigdispatch.Endpoint, error) {
	d, err := c.Discoverer()
	if err != nil {
		return nil, err
	}
	return d.Discover(ctx)
}

// Executor returns the executor configured by c.
func (c Config) Executor() *exec.Executor {
	return &exec.Executor{Parallelism: c.Parallelism}
}

// Tracer returns a new tracer if c configures a trace path, and nil
// otherwise.
func (c Config) Tracer() *exec.Tracer {
	if c.Trace == "" {
		return nil
	}
	return exec.NewTracer()
}

// WriteTrace writes the events recorded by t to c's trace path. It
// does nothing if t is nil.
func (c Config) WriteTrace(ctx context.Context, t *exec.Tracer) (err error) {
	if t == nil {
		return nil
	}
	f, err := file.Create(ctx, c.Trace)
	if err != nil {
		return errors.E(fmt.Sprintf("create trace %s", c.Trace), err)
	}
	defer func() {
		if cerr := f.Close(ctx); err == nil && cerr != nil {
			err = errors.E(fmt.Sprintf("close trace %s", c.Trace), cerr)
		}
	}()
	if err := t.Marshal(f.Writer(ctx)); err != nil {
		return errors.E(fmt.Sprintf("write trace %s", c.Trace), err)
	}
	return nil
}

// DispatcherOptions returns the dispatcher options configured by c.
// Metrics, status and tracer are optional.
func (c Config) DispatcherOptions(m *metrics.Metrics, s *status.Status, t *exec.Tracer) ([]exec.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	policy, _ := exec.ParsePolicy(c.Policy)
	options := []exec.Option{
		exec.OuterPool(exec.Goroutines(c.Fanout)),
		exec.LocalExecutor(c.Executor()),
		exec.Client(&wire.Client{Compress: c.Compress}),
		exec.FailurePolicy(policy),
		exec.Timeout(c.Timeout),
	}
	if m != nil {
		options = append(options, exec.Metrics(m))
	}
	if s != nil {
		options = append(options, exec.Status(s))
	}
	if t != nil {
		options = append(options, exec.Trace(t))
	}
	return options, nil
}

// RegisterFlags registers flags that override c's values with fs. The
// flag names are prefixed with the supplied prefix. Flags default to
// c's current values, so profiles should be loaded before flags are
// registered.
func (c *Config) RegisterFlags(fs *flag.FlagSet, prefix string) {
	fs.Var((*listFlag)(&c.Endpoints), prefix+"endpoints", "comma-separated list of host:port endpoints; empty runs jobs in-process")
	fs.StringVar(&c.EC2.Tag, prefix+"ec2-tag", c.EC2.Tag, "discover endpoints among running EC2 instances with this tag")
	fs.StringVar(&c.EC2.Value, prefix+"ec2-value", c.EC2.Value, "value of the EC2 tag; empty matches any value")
	fs.StringVar(&c.EC2.Region, prefix+"ec2-region", c.EC2.Region, "AWS region used for EC2 discovery")
	fs.IntVar(&c.EC2.Port, prefix+"ec2-port", c.EC2.Port, "port served by discovered EC2 endpoints")
	fs.IntVar(&c.Parallelism, prefix+"parallelism", c.Parallelism, "size of each endpoint's worker pool, 0 requests GOMAXPROCS")
	fs.IntVar(&c.Fanout, prefix+"fanout", c.Fanout, "maximum number of endpoints called concurrently, 0 for no limit")
	fs.Var((*mapFlag)(&c.Overrides), prefix+"overrides", "comma-separated list of platform=dir unit directory overrides")
	fs.DurationVar(&c.Timeout, prefix+"timeout", c.Timeout, "time given to each endpoint, 0 for no limit")
	fs.BoolVar(&c.Compress, prefix+"compress", c.Compress, "compress frames")
	fs.StringVar(&c.Policy, prefix+"policy", c.Policy, "failure policy: strict or partial")
	fs.StringVar(&c.Listen, prefix+"listen", c.Listen, "address on which to serve requests")
	fs.StringVar(&c.HTTP, prefix+"http", c.HTTP, "address of the metrics server")
	fs.DurationVar(&c.Drain, prefix+"drain", c.Drain, "time given to requests in flight when the server shuts down")
	fs.StringVar(&c.Trace, prefix+"trace", c.Trace, "path to which a trace of dispatched jobs is written")
}

type listFlag []string

func (l *listFlag) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(v string) error {
	*l = nil
	for _, elem := range strings.Split(v, ",") {
		if elem = strings.TrimSpace(elem); elem != "" {
			*l = append(*l, elem)
		}
	}
	return nil
}

type mapFlag map[string]string

func (m *mapFlag) String() string {
	if m == nil {
		return ""
	}
	var elems []string
	for k, v := range *m {
		elems = append(elems, k+"="+v)
	}
	sort.Strings(elems)
	return strings.Join(elems, ",")
}

func (m *mapFlag) Set(v string) error {
	overrides := make(map[string]string)
	for _, elem := range strings.Split(v, ",") {
		if elem = strings.TrimSpace(elem); elem == "" {
			continue
		}
		parts := strings.SplitN(elem, "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("not in platform=dir format %q", elem)
		}
		overrides[parts[0]] = parts[1]
	}
	*m = overrides
	return nil
}
