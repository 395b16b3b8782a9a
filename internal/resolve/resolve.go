// Copyright (c) 2026 Metosin Oy
// aws-tools - operational tunneling for private AWS databases
// This source code is licensed under the MIT license found in the LICENSE file.

// Package resolve turns operator-facing names into the network identifiers
// a tunnel needs: the bastion's instance id and availability zone, and the
// database's endpoint address and port. Both lookups are read-only AWS
// describe calls and run once per invocation; the results are immutable for
// the life of the session.
package resolve

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"

	"github.com/metosin/aws-tools/internal/i18n"
	"github.com/metosin/aws-tools/internal/logging"
)

// JumpHost identifies the bastion instance a tunnel will hop through.
type JumpHost struct {
	InstanceID       string
	AvailabilityZone string
}

// Database is the private endpoint the tunnel forwards to.
type Database struct {
	Address string
	Port    int32
}

// InstanceDescriber is the slice of the EC2 API the resolver needs.
// Narrow on purpose so tests can fake it with a function adapter.
type InstanceDescriber interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, opts ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// DatabaseDescriber is the slice of the RDS API the resolver needs.
type DatabaseDescriber interface {
	DescribeDBInstances(ctx context.Context, in *rds.DescribeDBInstancesInput, opts ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// LoadAWSConfig builds the shared AWS configuration for all clients used
// in one invocation. Region and profile are optional; the SDK's usual
// resolution chain applies when they are empty.
func LoadAWSConfig(ctx context.Context, region, profile string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return cfg, nil
}

// FindJumpHost looks up a running instance whose Name tag equals name and
// returns its instance id and availability zone. When several running
// instances share the tag, the first result is used and a warning names
// the chosen id; no ordering is assumed.
func FindJumpHost(ctx context.Context, client InstanceDescriber, name string) (*JumpHost, error) {
	out, err := client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:Name"), Values: []string{name}},
			{Name: aws.String("instance-state-name"), Values: []string{"running"}},
		},
	})
	if err != nil {
		return nil, ClassifyAWSError(err)
	}

	var matches []ec2types.Instance
	for _, r := range out.Reservations {
		matches = append(matches, r.Instances...)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, i18n.T("resolve.error_no_jump_host", name))
	}
	if len(matches) > 1 {
		logging.Warn(i18n.T("resolve.warn_multiple_jump_hosts", len(matches), name, aws.ToString(matches[0].InstanceId)))
	}

	chosen := matches[0]
	jh := &JumpHost{
		InstanceID: aws.ToString(chosen.InstanceId),
	}
	if chosen.Placement != nil {
		jh.AvailabilityZone = aws.ToString(chosen.Placement.AvailabilityZone)
	}
	if jh.InstanceID == "" || jh.AvailabilityZone == "" {
		return nil, fmt.Errorf("incomplete instance description for %q", name)
	}
	return jh, nil
}

// FindDatabase looks up the RDS instance by its identifier and returns the
// endpoint address and port.
func FindDatabase(ctx context.Context, client DatabaseDescriber, identifier string) (*Database, error) {
	out, err := client.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(identifier),
	})
	if err != nil {
		return nil, ClassifyAWSError(err)
	}
	if len(out.DBInstances) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, i18n.T("resolve.error_no_database", identifier))
	}

	inst := out.DBInstances[0]
	if inst.Endpoint == nil || inst.Endpoint.Address == nil {
		return nil, fmt.Errorf("database %q has no endpoint yet", identifier)
	}
	return &Database{
		Address: aws.ToString(inst.Endpoint.Address),
		Port:    aws.ToInt32(inst.Endpoint.Port),
	}, nil
}
