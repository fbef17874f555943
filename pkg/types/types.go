package types

import (
	"fmt"
	"sort"
	"time"
)

// DefaultRouteCIDR is the destination of the route the controller manages
const DefaultRouteCIDR = "0.0.0.0/0"

// Identity distinguishes the two members of a NAT pair
type Identity string

const (
	IdentityA Identity = "a"
	IdentityB Identity = "b"
)

// Other returns the identity of the opposite pair member
func (i Identity) Other() Identity {
	if i == IdentityA {
		return IdentityB
	}
	return IdentityA
}

// Valid reports whether i names a pair member
func (i Identity) Valid() bool {
	return i == IdentityA || i == IdentityB
}

// Node represents one NAT instance of the pair
type Node struct {
	Identity   Identity `yaml:"identity" json:"identity"`
	InstanceID string   `yaml:"instanceId" json:"instanceId"`

	// Address is the private IP or hostname the peer probes
	Address string `yaml:"address" json:"address"`

	// PrivateRouteTable is the route table of the private subnet in this
	// node's availability zone
	PrivateRouteTable string `yaml:"privateRouteTable" json:"privateRouteTable"`

	// SharedRouteTable is the shared-services route table in this node's
	// availability zone
	SharedRouteTable string `yaml:"sharedRouteTable" json:"sharedRouteTable"`
}

// RouteTables returns the route tables this node owns in steady state
func (n *Node) RouteTables() []string {
	return []string{n.PrivateRouteTable, n.SharedRouteTable}
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)", n.Identity, n.InstanceID)
}

// PeerState is the local view of the peer's health
type PeerState string

const (
	PeerStateHealthy    PeerState = "healthy"
	PeerStateSuspect    PeerState = "suspect"
	PeerStateDown       PeerState = "down"
	PeerStateRecovering PeerState = "recovering"
)

// Gauge returns a stable numeric value for metrics
func (s PeerState) Gauge() float64 {
	switch s {
	case PeerStateHealthy:
		return 0
	case PeerStateSuspect:
		return 1
	case PeerStateDown:
		return 2
	case PeerStateRecovering:
		return 3
	default:
		return -1
	}
}

// RouteIntent maps route table IDs to the instance that should be the target
// of their default route
type RouteIntent map[string]string

// Tables returns the route table IDs of the intent in sorted order
func (ri RouteIntent) Tables() []string {
	tables := make([]string, 0, len(ri))
	for table := range ri {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}

// RouteResult is the outcome of converging a single route table
type RouteResult struct {
	Table   string
	Target  string
	Changed bool
	Err     error
}

// InstanceState mirrors the EC2 instance lifecycle states
type InstanceState string

const (
	InstanceStatePending      InstanceState = "pending"
	InstanceStateRunning      InstanceState = "running"
	InstanceStateStopping     InstanceState = "stopping"
	InstanceStateStopped      InstanceState = "stopped"
	InstanceStateShuttingDown InstanceState = "shutting-down"
	InstanceStateTerminated   InstanceState = "terminated"
	InstanceStateUnknown      InstanceState = "unknown"
)

// Instance is the observed state of a compute instance
type Instance struct {
	ID        string
	State     InstanceState
	PublicIP  string
	PrivateIP string
}

// PowerAction is a power operation against the peer instance
type PowerAction string

const (
	PowerActionNone  PowerAction = ""
	PowerActionStop  PowerAction = "stop"
	PowerActionStart PowerAction = "start"
)

// Transition records a change of the observed peer state
type Transition struct {
	From                PeerState
	To                  PeerState
	ConsecutiveFailures int
	At                  time.Time
}
