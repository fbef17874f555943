package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cuemby/natfailover/pkg/config"
)

// CheckType represents the type of liveness probe
type CheckType string

const (
	CheckTypeICMP CheckType = "icmp"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeHTTP CheckType = "http"
)

// ErrLocalFailure marks a probe that could not be sent from this node, such
// as an ICMP socket the kernel refuses to open. It says nothing about the
// peer.
var ErrLocalFailure = errors.New("probe cannot be sent from this node")

// Result represents the outcome of a single probe
type Result struct {
	Alive     bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration

	// Err wraps ErrLocalFailure when the probe never left this node. Such a
	// result must not count against the peer.
	Err error
}

// Checker is the interface that all peer probes must implement
type Checker interface {
	// Check sends one probe and reports whether the peer answered. Peer
	// misses of any kind are Alive=false with a nil Err; Err is reserved
	// for local failures.
	Check(ctx context.Context) Result

	// Type returns the type of probe
	Type() CheckType
}

// SelfChecker is implemented by checkers that can verify at startup that
// this node is able to send them at all
type SelfChecker interface {
	SelfCheck(ctx context.Context) error
}

// NewChecker builds the probe configured for the peer
func NewChecker(cfg *config.FailoverConfig) (Checker, error) {
	switch cfg.Probe.Kind {
	case config.ProbeICMP:
		return NewICMPChecker(cfg.Peer.Address).
			WithTimeout(cfg.PingTimeout).
			WithPrivileged(cfg.Probe.RawSockets()), nil

	case config.ProbeTCP:
		address := net.JoinHostPort(cfg.Peer.Address, strconv.Itoa(cfg.Probe.Port))
		return NewTCPChecker(address).WithTimeout(cfg.PingTimeout), nil

	case config.ProbeHTTP:
		url := fmt.Sprintf("http://%s/health", net.JoinHostPort(cfg.Peer.Address, strconv.Itoa(cfg.Probe.Port)))
		return NewHTTPChecker(url).
			WithTimeout(cfg.PingTimeout).
			WithExpectedNode(string(cfg.Peer.Identity)), nil

	default:
		return nil, fmt.Errorf("unsupported probe kind: %s", cfg.Probe.Kind)
	}
}

func localFailure(start time.Time, err error) Result {
	return Result{
		Alive:     false,
		Message:   err.Error(),
		CheckedAt: start,
		Duration:  time.Since(start),
		Err:       fmt.Errorf("%w: %w", ErrLocalFailure, err),
	}
}

func failed(start time.Time, format string, args ...interface{}) Result {
	return Result{
		Alive:     false,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
