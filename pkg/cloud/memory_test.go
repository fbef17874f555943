package cloud

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/natfailover/pkg/types"
)

var (
	nodeA = types.Node{Identity: types.IdentityA, InstanceID: "i-a", Address: "10.0.0.10", PrivateRouteTable: "rtb-pa", SharedRouteTable: "rtb-sa"}
	nodeB = types.Node{Identity: types.IdentityB, InstanceID: "i-b", Address: "10.0.1.10", PrivateRouteTable: "rtb-pb", SharedRouteTable: "rtb-sb"}
)

func TestMemoryForPairSeedsSteadyState(t *testing.T) {
	m := NewMemoryForPair(nodeA, nodeB)

	for table, owner := range map[string]string{"rtb-pa": "i-a", "rtb-sa": "i-a", "rtb-pb": "i-b", "rtb-sb": "i-b"} {
		target, ok := m.Route(table, types.DefaultRouteCIDR)
		require.True(t, ok, table)
		assert.Equal(t, owner, target, table)
	}

	inst, err := m.DescribeInstance(context.Background(), "i-b")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateRunning, inst.State)
	assert.Equal(t, "10.0.1.10", inst.PrivateIP)
}

func TestMemoryRoutes(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryForPair(nodeA, nodeB)
	m.AddRouteTable("rtb-empty")

	require.NoError(t, m.ReplaceRoute(ctx, "rtb-pb", types.DefaultRouteCIDR, "i-a"))
	target, found, err := m.DescribeRoute(ctx, "rtb-pb", types.DefaultRouteCIDR)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "i-a", target)

	err = m.ReplaceRoute(ctx, "rtb-empty", types.DefaultRouteCIDR, "i-a")
	assert.True(t, IsNotFound(err))

	require.NoError(t, m.CreateRoute(ctx, "rtb-empty", types.DefaultRouteCIDR, "i-a"))
	err = m.CreateRoute(ctx, "rtb-empty", types.DefaultRouteCIDR, "i-a")
	assert.True(t, IsRouteExists(err))

	_, _, err = m.DescribeRoute(ctx, "rtb-nope", types.DefaultRouteCIDR)
	assert.True(t, IsNotFound(err))

	err = m.ReplaceRoute(ctx, "rtb-pa", types.DefaultRouteCIDR, "i-ghost")
	assert.True(t, IsNotFound(err))
}

func TestMemoryPowerTransitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryForPair(nodeA, nodeB)

	require.NoError(t, m.StopInstance(ctx, "i-b"))
	inst, _ := m.DescribeInstance(ctx, "i-b")
	assert.Equal(t, types.InstanceStateStopped, inst.State)

	// Stopping a stopped instance is a no-op, as on EC2
	require.NoError(t, m.StopInstance(ctx, "i-b"))

	m.SetLagging("i-b", true)
	require.NoError(t, m.StartInstance(ctx, "i-b"))
	inst, _ = m.DescribeInstance(ctx, "i-b")
	assert.Equal(t, types.InstanceStatePending, inst.State)
	require.NoError(t, m.StartInstance(ctx, "i-b"))

	err := m.StopInstance(ctx, "i-b")
	assert.True(t, IsIncorrectState(err))

	m.SetInstanceState("i-b", types.InstanceStateTerminated)
	err = m.StartInstance(ctx, "i-b")
	assert.True(t, IsIncorrectState(err))
}

func TestMemoryFailNext(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryForPair(nodeA, nodeB)
	boom := errors.New("throttled")

	m.FailNext(OpReplaceRoute, "rtb-pb", boom, 2)

	assert.ErrorIs(t, m.ReplaceRoute(ctx, "rtb-pb", types.DefaultRouteCIDR, "i-a"), boom)
	assert.ErrorIs(t, m.ReplaceRoute(ctx, "rtb-pb", types.DefaultRouteCIDR, "i-a"), boom)
	assert.NoError(t, m.ReplaceRoute(ctx, "rtb-pb", types.DefaultRouteCIDR, "i-a"))
	assert.Equal(t, 3, m.Calls(OpReplaceRoute, "rtb-pb"))

	// Other tables are unaffected
	assert.NoError(t, m.ReplaceRoute(ctx, "rtb-sb", types.DefaultRouteCIDR, "i-a"))
}

func TestMemoryHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMemoryForPair(nodeA, nodeB)
	assert.ErrorIs(t, m.StopInstance(ctx, "i-b"), context.Canceled)
	assert.Zero(t, m.Calls(OpStopInstance, "i-b"))
}
