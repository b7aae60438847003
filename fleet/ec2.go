// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package fleet

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigdispatch"
)

// DefaultPort is the port on which endpoints serve by default.
const DefaultPort = 7070

// EC2 discovers endpoints among running EC2 instances that carry a
// tag. Each instance is addressed by its private IP address.
type EC2 struct {
	API ec2iface.EC2API
	// Tag and Value select the instances: instances whose tag Tag has
	// the value Value. If Value is empty, any instance carrying Tag
	// is selected.
	Tag, Value string
	// Port is the port on which the instances serve. If zero,
	// DefaultPort is used.
	Port int
}

// NewEC2 returns an EC2 discoverer that uses the default AWS
// credential chain. If region is empty, the session's default region
// is used.
func NewEC2(region, tag, value string, port int) (*EC2, error) {
	config := aws.NewConfig()
	if region != "" {
		config = config.WithRegion(region)
	}
	sess, err := session.NewSession(config)
	if err != nil {
		return nil, errors.E("ec2 discovery: aws session", err)
	}
	return &EC2{API: ec2.New(sess), Tag: tag, Value: value, Port: port}, nil
}

// Discover returns the endpoints of the matching running instances,
// sorted by address so that repeated discoveries of the same fleet
// partition work identically.
func (e *EC2) Discover(ctx context.Context) ([]bigdispatch.Endpoint, error) {
	if e.Tag == "" {
		return nil, errors.E(errors.Invalid, "ec2 discovery: no tag")
	}
	port := e.Port
	if port == 0 {
		port = DefaultPort
	}
	filters := []*ec2.Filter{
		{Name: aws.String("instance-state-name"), Values: []*string{aws.String("running")}},
	}
	if e.Value == "" {
		filters = append(filters, &ec2.Filter{
			Name:   aws.String("tag-key"),
			Values: []*string{aws.String(e.Tag)},
		})
	} else {
		filters = append(filters, &ec2.Filter{
			Name:   aws.String("tag:" + e.Tag),
			Values: []*string{aws.String(e.Value)},
		})
	}
	var ips []string
	err := e.API.DescribeInstancesPagesWithContext(ctx, &ec2.DescribeInstancesInput{Filters: filters},
		func(page *ec2.DescribeInstancesOutput, last bool) bool {
			for _, res := range page.Reservations {
				for _, inst := range res.Instances {
					if ip := aws.StringValue(inst.PrivateIpAddress); ip != "" {
						ips = append(ips, ip)
					}
				}
			}
			return true
		})
	if err != nil {
		if cerr := bigdispatch.ContextError(ctx, "ec2 discovery"); cerr != nil {
			return nil, cerr
		}
		return nil, errors.E(errors.Net, "ec2 discovery", err)
	}
	sort.Strings(ips)
	endpoints := make([]bigdispatch.Endpoint, len(ips))
	for i, ip := range ips {
		endpoints[i] = bigdispatch.Endpoint(net.JoinHostPort(ip, strconv.Itoa(port)))
	}
	log.Printf("ec2 discovery: %d instances tagged %s", len(endpoints), e.selector())
	return endpoints, nil
}

func (e *EC2) selector() string {
	if e.Value == "" {
		return e.Tag
	}
	return fmt.Sprintf("%s=%s", e.Tag, e.Value)
}
