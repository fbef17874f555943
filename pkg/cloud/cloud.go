package cloud

import (
	"context"
	"errors"

	"github.com/cuemby/natfailover/pkg/types"
)

var (
	// ErrNotFound is returned when a route table, route or instance does
	// not exist
	ErrNotFound = errors.New("resource not found")

	// ErrIncorrectState is returned when an instance cannot accept a power
	// operation in its current lifecycle state
	ErrIncorrectState = errors.New("incorrect instance state")

	// ErrRouteExists is returned by CreateRoute when the destination is
	// already routed
	ErrRouteExists = errors.New("route already exists")
)

// ControlPlane is the subset of the cloud provider API the failover
// controller drives. Implementations must be safe for concurrent use.
type ControlPlane interface {
	// DescribeRoute returns the instance the route for cidr in table
	// targets. found is false when the table has no such route.
	DescribeRoute(ctx context.Context, table, cidr string) (target string, found bool, err error)

	// ReplaceRoute points an existing route at instanceID
	ReplaceRoute(ctx context.Context, table, cidr, instanceID string) error

	// CreateRoute adds a route targeting instanceID
	CreateRoute(ctx context.Context, table, cidr, instanceID string) error

	DescribeInstance(ctx context.Context, instanceID string) (types.Instance, error)
	StopInstance(ctx context.Context, instanceID string) error
	StartInstance(ctx context.Context, instanceID string) error
}

// IsNotFound reports whether err means the resource does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsIncorrectState reports whether err means the instance is in a state
// that rejects the requested power operation
func IsIncorrectState(err error) bool {
	return errors.Is(err, ErrIncorrectState)
}

// IsRouteExists reports whether err means the route was already created
func IsRouteExists(err error) bool {
	return errors.Is(err, ErrRouteExists)
}

// Permanent reports whether retrying the call that produced err cannot help
// within the same cycle
func Permanent(err error) bool {
	return IsNotFound(err) || IsIncorrectState(err) || IsRouteExists(err)
}
