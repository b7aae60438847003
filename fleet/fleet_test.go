// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fleet

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigdispatch"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestParse(t *testing.T) {
	endpoints, err := Parse("10.0.0.2:7070, 10.0.0.1:7070,,[::1]:80")
	assert.NoError(t, err)
	expect.EQ(t, endpoints, Static{"10.0.0.2:7070", "10.0.0.1:7070", "[::1]:80"})
	got, err := endpoints.Discover(context.Background())
	assert.NoError(t, err)
	expect.EQ(t, got, []bigdispatch.Endpoint(endpoints))

	endpoints, err = Parse("")
	assert.NoError(t, err)
	expect.EQ(t, len(endpoints), 0)

	for _, list := range []string{"localhost", "a:1,b", ":80", "host:"} {
		if _, err := Parse(list); !errors.Is(errors.Invalid, err) {
			t.Errorf("%q: got %v, want Invalid", list, err)
		}
	}
}

type fakeEC2 struct {
	ec2iface.EC2API
	pages   []*ec2.DescribeInstancesOutput
	filters []*ec2.Filter
	err     error
}

func (f *fakeEC2) DescribeInstancesPagesWithContext(ctx aws.Context, input *ec2.DescribeInstancesInput, fn func(*ec2.DescribeInstancesOutput, bool) bool, opts ...request.Option) error {
	f.filters = input.Filters
	if f.err != nil {
		return f.err
	}
	for i, page := range f.pages {
		if !fn(page, i == len(f.pages)-1) {
			break
		}
	}
	return nil
}

func reservation(ips ...string) *ec2.Reservation {
	r := new(ec2.Reservation)
	for _, ip := range ips {
		inst := new(ec2.Instance)
		if ip != "" {
			inst.PrivateIpAddress = aws.String(ip)
		}
		r.Instances = append(r.Instances, inst)
	}
	return r
}

func filter(filters []*ec2.Filter, name string) string {
	for _, f := range filters {
		if aws.StringValue(f.Name) == name {
			return aws.StringValue(f.Values[0])
		}
	}
	return ""
}

func TestEC2(t *testing.T) {
	api := &fakeEC2{pages: []*ec2.DescribeInstancesOutput{
		{Reservations: []*ec2.Reservation{reservation("10.0.0.3", "10.0.0.1")}},
		{Reservations: []*ec2.Reservation{reservation("", "10.0.0.2")}},
	}}
	e := &EC2{API: api, Tag: "role", Value: "worker", Port: 9000}
	endpoints, err := e.Discover(context.Background())
	assert.NoError(t, err)
	expect.EQ(t, endpoints, []bigdispatch.Endpoint{"10.0.0.1:9000", "10.0.0.2:9000", "10.0.0.3:9000"})
	expect.EQ(t, filter(api.filters, "tag:role"), "worker")
	expect.EQ(t, filter(api.filters, "instance-state-name"), "running")

	e = &EC2{API: api, Tag: "bigdispatch"}
	endpoints, err = e.Discover(context.Background())
	assert.NoError(t, err)
	expect.EQ(t, endpoints[0], bigdispatch.Endpoint(fmt.Sprintf("10.0.0.1:%d", DefaultPort)))
	expect.EQ(t, filter(api.filters, "tag-key"), "bigdispatch")
}

func TestEC2Errors(t *testing.T) {
	_, err := (&EC2{API: new(fakeEC2)}).Discover(context.Background())
	if !errors.Is(errors.Invalid, err) {
		t.Errorf("got %v, want Invalid", err)
	}
	api := &fakeEC2{err: fmt.Errorf("throttled")}
	_, err = (&EC2{API: api, Tag: "role"}).Discover(context.Background())
	if !errors.Is(errors.Net, err) {
		t.Errorf("got %v, want Net", err)
	}
}
