package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/natfailover/pkg/types"
)

// ErrInvalidConfig wraps every validation failure. A controller must refuse to
// start when Validate returns it.
var ErrInvalidConfig = errors.New("invalid failover configuration")

// ProbeKind selects how the peer is probed
type ProbeKind string

const (
	ProbeICMP ProbeKind = "icmp"
	ProbeTCP  ProbeKind = "tcp"
	ProbeHTTP ProbeKind = "http"
)

// Defaults mirror the parameters of the NAT stack template
const (
	DefaultPingCount        = 10
	DefaultPingTimeout      = 2 * time.Second
	DefaultPingInterval     = 2 * time.Second
	DefaultStopSettle       = 60 * time.Second
	DefaultStartSettle      = 300 * time.Second
	DefaultRecoveryWindow   = 300 * time.Second
	DefaultActionAttempts   = 3
	DefaultActionRetryDelay = 500 * time.Millisecond
	DefaultStatusAddr       = ":9321"
	DefaultStatusPort       = 9321
	DefaultDataDir          = "/var/lib/natfailover"
	DefaultJournalRetention = 10000
)

// ProbeConfig describes the liveness probe sent to the peer
type ProbeConfig struct {
	Kind ProbeKind `yaml:"kind"`

	// Port is used by tcp and http probes
	Port int `yaml:"port,omitempty"`

	// Privileged makes the icmp probe use raw sockets (default) instead of
	// unprivileged datagram sockets, which need net.ipv4.ping_group_range
	// to admit the process group
	Privileged *bool `yaml:"privileged,omitempty"`
}

// RawSockets reports whether the icmp probe uses raw sockets. Unset means
// raw.
func (p ProbeConfig) RawSockets() bool {
	return p.Privileged == nil || *p.Privileged
}

// LogConfig holds logging options
type LogConfig struct {
	Level string `yaml:"level,omitempty"`
	JSON  bool   `yaml:"json,omitempty"`
}

// FailoverConfig is the immutable configuration of one controller. It is
// resolved from a Pair for a given node identity.
type FailoverConfig struct {
	Node     types.Identity `yaml:"node"`
	Region   string         `yaml:"region"`
	Endpoint string         `yaml:"endpoint,omitempty"`

	Self types.Node `yaml:"self"`
	Peer types.Node `yaml:"peer"`

	Probe ProbeConfig `yaml:"probe"`

	PingCount      int           `yaml:"pingCount"`
	PingTimeout    time.Duration `yaml:"pingTimeout"`
	PingInterval   time.Duration `yaml:"pingInterval"`
	StopSettle     time.Duration `yaml:"stopSettle"`
	StartSettle    time.Duration `yaml:"startSettle"`
	RecoveryWindow time.Duration `yaml:"recoveryWindow"`

	// RestartPeer starts the peer again once it has been observed stopped
	// after a takeover
	RestartPeer bool `yaml:"restartPeer"`

	ActionAttempts   int           `yaml:"actionAttempts"`
	ActionRetryDelay time.Duration `yaml:"actionRetryDelay"`

	StatusAddr       string    `yaml:"statusAddr"`
	DataDir          string    `yaml:"dataDir"`
	JournalRetention int       `yaml:"journalRetention"`
	Log              LogConfig `yaml:"log"`
}

// TakeoverIntent returns the route intent applied when the peer is declared
// down: every table of the pair targets self.
func (c *FailoverConfig) TakeoverIntent() types.RouteIntent {
	intent := types.RouteIntent{}
	for _, table := range c.Self.RouteTables() {
		intent[table] = c.Self.InstanceID
	}
	for _, table := range c.Peer.RouteTables() {
		intent[table] = c.Self.InstanceID
	}
	return intent
}

// HandbackIntent returns the route intent applied when the peer has recovered.
// Only the peer's own tables are handed back; self keeps its tables.
func (c *FailoverConfig) HandbackIntent() types.RouteIntent {
	intent := types.RouteIntent{}
	for _, table := range c.Peer.RouteTables() {
		intent[table] = c.Peer.InstanceID
	}
	return intent
}

// Validate checks the invariants that must hold before the control loop
// starts. All problems are reported together.
func (c *FailoverConfig) Validate() error {
	var errs []error
	required := func(name, value string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	if !c.Node.Valid() {
		errs = append(errs, fmt.Errorf("node must be %q or %q, got %q", types.IdentityA, types.IdentityB, c.Node))
	}
	if c.Region == "" && c.Endpoint == "" {
		errs = append(errs, errors.New("region or endpoint is required"))
	}
	required("self instance id", c.Self.InstanceID)
	required("self private route table", c.Self.PrivateRouteTable)
	required("self shared route table", c.Self.SharedRouteTable)
	required("peer instance id", c.Peer.InstanceID)
	required("peer private route table", c.Peer.PrivateRouteTable)
	required("peer shared route table", c.Peer.SharedRouteTable)
	required("peer address", c.Peer.Address)

	if c.Self.InstanceID != "" && c.Self.InstanceID == c.Peer.InstanceID {
		errs = append(errs, fmt.Errorf("self and peer share instance id %s", c.Self.InstanceID))
	}
	seen := map[string]bool{}
	for _, table := range append(c.Self.RouteTables(), c.Peer.RouteTables()...) {
		if table == "" {
			continue
		}
		if seen[table] {
			errs = append(errs, fmt.Errorf("route table %s is listed more than once", table))
		}
		seen[table] = true
	}

	if c.PingCount <= 0 {
		errs = append(errs, fmt.Errorf("pingCount must be positive, got %d", c.PingCount))
	}
	positive("pingTimeout", c.PingTimeout)
	positive("pingInterval", c.PingInterval)
	positive("stopSettle", c.StopSettle)
	positive("startSettle", c.StartSettle)
	positive("recoveryWindow", c.RecoveryWindow)
	positive("actionRetryDelay", c.ActionRetryDelay)
	if c.ActionAttempts <= 0 {
		errs = append(errs, fmt.Errorf("actionAttempts must be positive, got %d", c.ActionAttempts))
	}

	switch c.Probe.Kind {
	case ProbeICMP:
	case ProbeTCP, ProbeHTTP:
		if c.Probe.Port <= 0 || c.Probe.Port > 65535 {
			errs = append(errs, fmt.Errorf("probe port %d out of range for %s probe", c.Probe.Port, c.Probe.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown probe kind %q", c.Probe.Kind))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
