package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/natfailover/pkg/types"
	"gopkg.in/yaml.v3"
)

// Duration accepts either a Go duration string ("2s") or a bare number of
// seconds ("2" or 2), which is how the NAT stack template passes its timing
// parameters.
type Duration time.Duration

// maxSeconds is the largest bare number of seconds a time.Duration holds
var maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// ParseDuration parses a Go duration or a bare number of seconds
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) >= maxSeconds {
			return 0, fmt.Errorf("invalid duration %q: out of range", s)
		}
		return Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Duration(d), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Unmarshal implements envconfig.Unmarshaler
func (d *Duration) Unmarshal(s string) error {
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Member describes one NAT instance in the pair document
type Member struct {
	InstanceID        string `yaml:"instanceId"`
	Address           string `yaml:"address"`
	PrivateRouteTable string `yaml:"privateRouteTable"`
	SharedRouteTable  string `yaml:"sharedRouteTable"`
}

// Pair is the configuration document shared by both NAT instances. Each
// controller resolves its own FailoverConfig from it with ForNode, so the two
// nodes run the same code with swapped parameters.
type Pair struct {
	// Node selects which member this process runs as. It is usually left
	// empty in the file and supplied by flag or environment.
	Node types.Identity `yaml:"node,omitempty"`

	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint,omitempty"`

	A Member `yaml:"a"`
	B Member `yaml:"b"`

	Probe ProbeConfig `yaml:"probe,omitempty"`

	PingCount      int      `yaml:"pingCount,omitempty"`
	PingTimeout    Duration `yaml:"pingTimeout,omitempty"`
	PingInterval   Duration `yaml:"pingInterval,omitempty"`
	StopSettle     Duration `yaml:"stopSettle,omitempty"`
	StartSettle    Duration `yaml:"startSettle,omitempty"`
	RecoveryWindow Duration `yaml:"recoveryWindow,omitempty"`

	RestartPeer *bool `yaml:"restartPeer,omitempty"`

	ActionAttempts   int      `yaml:"actionAttempts,omitempty"`
	ActionRetryDelay Duration `yaml:"actionRetryDelay,omitempty"`

	StatusAddr       string    `yaml:"statusAddr,omitempty"`
	DataDir          string    `yaml:"dataDir,omitempty"`
	JournalRetention int       `yaml:"journalRetention,omitempty"`
	Log              LogConfig `yaml:"log,omitempty"`
}

// ApplyDefaults fills every unset option with its default
func (p *Pair) ApplyDefaults() {
	if p.Probe.Kind == "" {
		p.Probe.Kind = ProbeICMP
	}
	if p.Probe.Port == 0 && p.Probe.Kind != ProbeICMP {
		p.Probe.Port = DefaultStatusPort
	}
	if p.Probe.Privileged == nil {
		privileged := true
		p.Probe.Privileged = &privileged
	}
	if p.PingCount == 0 {
		p.PingCount = DefaultPingCount
	}
	if p.PingTimeout == 0 {
		p.PingTimeout = Duration(DefaultPingTimeout)
	}
	if p.PingInterval == 0 {
		p.PingInterval = Duration(DefaultPingInterval)
	}
	if p.StopSettle == 0 {
		p.StopSettle = Duration(DefaultStopSettle)
	}
	if p.StartSettle == 0 {
		p.StartSettle = Duration(DefaultStartSettle)
	}
	if p.RecoveryWindow == 0 {
		p.RecoveryWindow = Duration(DefaultRecoveryWindow)
	}
	if p.RestartPeer == nil {
		restart := true
		p.RestartPeer = &restart
	}
	if p.ActionAttempts == 0 {
		p.ActionAttempts = DefaultActionAttempts
	}
	if p.ActionRetryDelay == 0 {
		p.ActionRetryDelay = Duration(DefaultActionRetryDelay)
	}
	if p.StatusAddr == "" {
		p.StatusAddr = DefaultStatusAddr
	}
	if p.DataDir == "" {
		p.DataDir = DefaultDataDir
	}
	if p.JournalRetention == 0 {
		p.JournalRetention = DefaultJournalRetention
	}
	if p.Log.Level == "" {
		p.Log.Level = "info"
	}
}

// Member returns the pair member with the given identity
func (p *Pair) Member(id types.Identity) Member {
	if id == types.IdentityB {
		return p.B
	}
	return p.A
}

// NodeForInstance returns the identity of the member running instanceID
func (p *Pair) NodeForInstance(instanceID string) (types.Identity, bool) {
	switch {
	case instanceID == "":
		return "", false
	case p.A.InstanceID == instanceID:
		return types.IdentityA, true
	case p.B.InstanceID == instanceID:
		return types.IdentityB, true
	}
	return "", false
}

// ForNode resolves the configuration of the controller running on node id.
// The result is validated; a returned error wraps ErrInvalidConfig.
func (p *Pair) ForNode(id types.Identity) (*FailoverConfig, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: node must be %q or %q, got %q", ErrInvalidConfig, types.IdentityA, types.IdentityB, id)
	}

	resolved := *p
	resolved.ApplyDefaults()

	self := resolved.Member(id)
	peer := resolved.Member(id.Other())

	cfg := &FailoverConfig{
		Node:     id,
		Region:   resolved.Region,
		Endpoint: resolved.Endpoint,
		Self: types.Node{
			Identity:          id,
			InstanceID:        self.InstanceID,
			Address:           self.Address,
			PrivateRouteTable: self.PrivateRouteTable,
			SharedRouteTable:  self.SharedRouteTable,
		},
		Peer: types.Node{
			Identity:          id.Other(),
			InstanceID:        peer.InstanceID,
			Address:           peer.Address,
			PrivateRouteTable: peer.PrivateRouteTable,
			SharedRouteTable:  peer.SharedRouteTable,
		},
		Probe:            resolved.Probe,
		PingCount:        resolved.PingCount,
		PingTimeout:      time.Duration(resolved.PingTimeout),
		PingInterval:     time.Duration(resolved.PingInterval),
		StopSettle:       time.Duration(resolved.StopSettle),
		StartSettle:      time.Duration(resolved.StartSettle),
		RecoveryWindow:   time.Duration(resolved.RecoveryWindow),
		RestartPeer:      *resolved.RestartPeer,
		ActionAttempts:   resolved.ActionAttempts,
		ActionRetryDelay: time.Duration(resolved.ActionRetryDelay),
		StatusAddr:       resolved.StatusAddr,
		DataDir:          resolved.DataDir,
		JournalRetention: resolved.JournalRetention,
		Log:              resolved.Log,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
