package cloud

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/natfailover/pkg/types"
)

type fakeEC2 struct {
	tables    []ec2types.RouteTable
	instances []ec2types.Instance
	err       error

	replaced []*ec2.ReplaceRouteInput
	created  []*ec2.CreateRouteInput
	stopped  []string
	started  []string
}

func (f *fakeEC2) DescribeRouteTables(_ context.Context, in *ec2.DescribeRouteTablesInput, _ ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := &ec2.DescribeRouteTablesOutput{}
	for _, table := range f.tables {
		if aws.ToString(table.RouteTableId) == in.RouteTableIds[0] {
			out.RouteTables = append(out.RouteTables, table)
		}
	}
	return out, nil
}

func (f *fakeEC2) ReplaceRoute(_ context.Context, in *ec2.ReplaceRouteInput, _ ...func(*ec2.Options)) (*ec2.ReplaceRouteOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.replaced = append(f.replaced, in)
	return &ec2.ReplaceRouteOutput{}, nil
}

func (f *fakeEC2) CreateRoute(_ context.Context, in *ec2.CreateRouteInput, _ ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, in)
	return &ec2.CreateRouteOutput{Return: aws.Bool(true)}, nil
}

func (f *fakeEC2) DescribeInstances(_ context.Context, _ *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.DescribeInstancesOutput{
		Reservations: []ec2types.Reservation{{Instances: f.instances}},
	}, nil
}

func (f *fakeEC2) StopInstances(_ context.Context, in *ec2.StopInstancesInput, _ ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.stopped = append(f.stopped, in.InstanceIds...)
	return &ec2.StopInstancesOutput{}, nil
}

func (f *fakeEC2) StartInstances(_ context.Context, in *ec2.StartInstancesInput, _ ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.started = append(f.started, in.InstanceIds...)
	return &ec2.StartInstancesOutput{}, nil
}

func TestEC2DescribeRoute(t *testing.T) {
	api := &fakeEC2{tables: []ec2types.RouteTable{
		{
			RouteTableId: aws.String("rtb-1"),
			Routes: []ec2types.Route{
				{DestinationCidrBlock: aws.String("10.0.0.0/16"), GatewayId: aws.String("local")},
				{DestinationCidrBlock: aws.String("0.0.0.0/0"), InstanceId: aws.String("i-a"), State: ec2types.RouteStateActive},
			},
		},
		{
			RouteTableId: aws.String("rtb-2"),
			Routes: []ec2types.Route{
				{DestinationCidrBlock: aws.String("0.0.0.0/0"), InstanceId: aws.String("i-b"), State: ec2types.RouteStateBlackhole},
			},
		},
		{RouteTableId: aws.String("rtb-3")},
	}}
	cp := NewEC2ControlPlaneWithAPI(api)
	ctx := context.Background()

	target, found, err := cp.DescribeRoute(ctx, "rtb-1", "0.0.0.0/0")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "i-a", target)

	target, found, err = cp.DescribeRoute(ctx, "rtb-2", "0.0.0.0/0")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, target, "blackhole route must not count as converged")

	_, found, err = cp.DescribeRoute(ctx, "rtb-3", "0.0.0.0/0")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = cp.DescribeRoute(ctx, "rtb-missing", "0.0.0.0/0")
	assert.True(t, IsNotFound(err))
}

func TestEC2RouteWrites(t *testing.T) {
	api := &fakeEC2{}
	cp := NewEC2ControlPlaneWithAPI(api)
	ctx := context.Background()

	require.NoError(t, cp.ReplaceRoute(ctx, "rtb-1", "0.0.0.0/0", "i-a"))
	require.NoError(t, cp.CreateRoute(ctx, "rtb-2", "0.0.0.0/0", "i-b"))

	require.Len(t, api.replaced, 1)
	assert.Equal(t, "rtb-1", aws.ToString(api.replaced[0].RouteTableId))
	assert.Equal(t, "i-a", aws.ToString(api.replaced[0].InstanceId))
	require.Len(t, api.created, 1)
	assert.Equal(t, "0.0.0.0/0", aws.ToString(api.created[0].DestinationCidrBlock))
}

func TestEC2DescribeInstance(t *testing.T) {
	api := &fakeEC2{instances: []ec2types.Instance{{
		InstanceId:       aws.String("i-b"),
		State:            &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopping},
		PrivateIpAddress: aws.String("10.0.1.10"),
	}}}
	cp := NewEC2ControlPlaneWithAPI(api)

	inst, err := cp.DescribeInstance(context.Background(), "i-b")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateStopping, inst.State)
	assert.Equal(t, "10.0.1.10", inst.PrivateIP)
	assert.Empty(t, inst.PublicIP)

	_, err = cp.DescribeInstance(context.Background(), "i-zzz")
	assert.True(t, IsNotFound(err))
}

func TestEC2PowerCalls(t *testing.T) {
	api := &fakeEC2{}
	cp := NewEC2ControlPlaneWithAPI(api)

	require.NoError(t, cp.StopInstance(context.Background(), "i-b"))
	require.NoError(t, cp.StartInstance(context.Background(), "i-b"))
	assert.Equal(t, []string{"i-b"}, api.stopped)
	assert.Equal(t, []string{"i-b"}, api.started)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		incorrect bool
		exists    bool
	}{
		{"route table missing", &smithy.GenericAPIError{Code: "InvalidRouteTableID.NotFound"}, true, false, false},
		{"route missing", &smithy.GenericAPIError{Code: "InvalidRoute.NotFound"}, true, false, false},
		{"instance missing", &smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound"}, true, false, false},
		{"incorrect state", &smithy.GenericAPIError{Code: "IncorrectInstanceState"}, false, true, false},
		{"route exists", &smithy.GenericAPIError{Code: "RouteAlreadyExists"}, false, false, true},
		{"throttled", &smithy.GenericAPIError{Code: "RequestLimitExceeded"}, false, false, false},
		{"transport", errors.New("connection reset"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := NewEC2ControlPlaneWithAPI(&fakeEC2{err: tt.err})
			err := cp.StopInstance(context.Background(), "i-b")

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.notFound, IsNotFound(err))
			assert.Equal(t, tt.incorrect, IsIncorrectState(err))
			assert.Equal(t, tt.exists, IsRouteExists(err))
			assert.Equal(t, tt.notFound || tt.incorrect || tt.exists, Permanent(err))
		})
	}
}
