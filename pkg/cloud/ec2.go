package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/cuemby/natfailover/pkg/types"
)

// EC2API is the part of the EC2 client used by EC2ControlPlane
type EC2API interface {
	DescribeRouteTables(ctx context.Context, params *ec2.DescribeRouteTablesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error)
	ReplaceRoute(ctx context.Context, params *ec2.ReplaceRouteInput, optFns ...func(*ec2.Options)) (*ec2.ReplaceRouteOutput, error)
	CreateRoute(ctx context.Context, params *ec2.CreateRouteInput, optFns ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
}

// EC2ControlPlane drives route tables and instances through the EC2 API
type EC2ControlPlane struct {
	api EC2API
}

// EC2Options selects the region and, optionally, a custom endpoint
type EC2Options struct {
	Region   string
	Endpoint string
}

// LoadAWSConfig resolves credentials and region the way the SDK does by
// default: environment, shared config, then the instance role
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load aws config: %w", err)
	}
	return cfg, nil
}

// NewEC2ControlPlane creates a control plane backed by the EC2 API
func NewEC2ControlPlane(ctx context.Context, opts EC2Options) (*EC2ControlPlane, error) {
	cfg, err := LoadAWSConfig(ctx, opts.Region)
	if err != nil {
		return nil, err
	}

	client := ec2.NewFromConfig(cfg, func(o *ec2.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewEC2ControlPlaneWithAPI(client), nil
}

// NewEC2ControlPlaneWithAPI wraps an existing client
func NewEC2ControlPlaneWithAPI(api EC2API) *EC2ControlPlane {
	return &EC2ControlPlane{api: api}
}

func (c *EC2ControlPlane) DescribeRoute(ctx context.Context, table, cidr string) (string, bool, error) {
	out, err := c.api.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		RouteTableIds: []string{table},
	})
	if err != nil {
		return "", false, classify(fmt.Sprintf("describe route table %s", table), err)
	}
	if len(out.RouteTables) == 0 {
		return "", false, fmt.Errorf("describe route table %s: %w", table, ErrNotFound)
	}

	for _, route := range out.RouteTables[0].Routes {
		if aws.ToString(route.DestinationCidrBlock) != cidr {
			continue
		}
		// Blackhole routes still name their old target; report them as
		// pointing nowhere so they get replaced
		if route.State == ec2types.RouteStateBlackhole {
			return "", true, nil
		}
		return aws.ToString(route.InstanceId), true, nil
	}
	return "", false, nil
}

func (c *EC2ControlPlane) ReplaceRoute(ctx context.Context, table, cidr, instanceID string) error {
	_, err := c.api.ReplaceRoute(ctx, &ec2.ReplaceRouteInput{
		RouteTableId:         aws.String(table),
		DestinationCidrBlock: aws.String(cidr),
		InstanceId:           aws.String(instanceID),
	})
	if err != nil {
		return classify(fmt.Sprintf("replace route %s in %s", cidr, table), err)
	}
	return nil
}

func (c *EC2ControlPlane) CreateRoute(ctx context.Context, table, cidr, instanceID string) error {
	_, err := c.api.CreateRoute(ctx, &ec2.CreateRouteInput{
		RouteTableId:         aws.String(table),
		DestinationCidrBlock: aws.String(cidr),
		InstanceId:           aws.String(instanceID),
	})
	if err != nil {
		return classify(fmt.Sprintf("create route %s in %s", cidr, table), err)
	}
	return nil
}

func (c *EC2ControlPlane) DescribeInstance(ctx context.Context, instanceID string) (types.Instance, error) {
	out, err := c.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return types.Instance{}, classify(fmt.Sprintf("describe instance %s", instanceID), err)
	}

	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			if aws.ToString(inst.InstanceId) != instanceID {
				continue
			}
			state := types.InstanceStateUnknown
			if inst.State != nil {
				state = types.InstanceState(inst.State.Name)
			}
			return types.Instance{
				ID:        instanceID,
				State:     state,
				PublicIP:  aws.ToString(inst.PublicIpAddress),
				PrivateIP: aws.ToString(inst.PrivateIpAddress),
			}, nil
		}
	}
	return types.Instance{}, fmt.Errorf("describe instance %s: %w", instanceID, ErrNotFound)
}

func (c *EC2ControlPlane) StopInstance(ctx context.Context, instanceID string) error {
	_, err := c.api.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return classify(fmt.Sprintf("stop instance %s", instanceID), err)
	}
	return nil
}

func (c *EC2ControlPlane) StartInstance(ctx context.Context, instanceID string) error {
	_, err := c.api.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return classify(fmt.Sprintf("start instance %s", instanceID), err)
	}
	return nil
}

// classify maps EC2 error codes onto the package sentinels, keeping the
// original error in the chain
func classify(op string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}

	code := apiErr.ErrorCode()
	switch {
	case strings.HasSuffix(code, ".NotFound"):
		return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
	case code == "IncorrectInstanceState", code == "IncorrectState":
		return fmt.Errorf("%s: %w: %w", op, ErrIncorrectState, err)
	case code == "RouteAlreadyExists":
		return fmt.Errorf("%s: %w: %w", op, ErrRouteExists, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
