package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-ping/ping"
)

// ICMPChecker sends a single ICMP echo request to the peer
type ICMPChecker struct {
	// Address is the peer's private IP or hostname
	Address string

	// Timeout bounds the wait for the echo reply (default: 2 seconds)
	Timeout time.Duration

	// Privileged uses raw ICMP sockets. Unprivileged mode relies on
	// net.ipv4.ping_group_range allowing the process group.
	Privileged bool

	// run sends the echo; replaced in tests
	run func(*ping.Pinger) error
}

// selfCheckAddress is pinged at startup to prove the socket can be opened
const selfCheckAddress = "127.0.0.1"

// NewICMPChecker creates a new ICMP echo checker
func NewICMPChecker(address string) *ICMPChecker {
	return &ICMPChecker{
		Address:    address,
		Timeout:    2 * time.Second,
		Privileged: true,
	}
}

// SelfCheck opens an echo socket once, against the loopback address. It
// fails when the kernel refuses the socket, for example an unprivileged
// socket outside net.ipv4.ping_group_range or a raw one without
// CAP_NET_RAW.
func (c *ICMPChecker) SelfCheck(ctx context.Context) error {
	pinger, err := ping.NewPinger(selfCheckAddress)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLocalFailure, err)
	}
	pinger.Count = 1
	pinger.Timeout = time.Second
	pinger.SetPrivileged(c.Privileged)

	stop := context.AfterFunc(ctx, pinger.Stop)
	defer stop()

	if err := c.send(pinger); err != nil {
		return fmt.Errorf("%w: icmp socket (privileged=%t): %w", ErrLocalFailure, c.Privileged, err)
	}
	return nil
}

func (c *ICMPChecker) send(pinger *ping.Pinger) error {
	if c.run != nil {
		return c.run(pinger)
	}
	return pinger.Run()
}

// isLocal reports whether a pinger error comes from this node rather than
// the network
func isLocal(err error) bool {
	return errors.Is(err, os.ErrPermission)
}

// Check performs one echo round trip
func (c *ICMPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return failed(start, "probe cancelled: %v", err)
	}

	timeout := c.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return failed(start, "probe deadline exceeded")
	}

	// NewPinger resolves the address; resolution failures count as a miss
	pinger, err := ping.NewPinger(c.Address)
	if err != nil {
		return failed(start, "failed to resolve %s: %v", c.Address, err)
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(c.Privileged)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := c.send(pinger); err != nil {
		if isLocal(err) {
			return localFailure(start, fmt.Errorf("ping %s: %w", c.Address, err))
		}
		return failed(start, "ping %s failed: %v", c.Address, err)
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return failed(start, "no echo reply from %s within %s", c.Address, timeout)
	}

	return Result{
		Alive:     true,
		Message:   fmt.Sprintf("echo reply from %s in %s", stats.IPAddr, stats.AvgRtt),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (c *ICMPChecker) Type() CheckType {
	return CheckTypeICMP
}

// WithTimeout sets the echo timeout
func (c *ICMPChecker) WithTimeout(timeout time.Duration) *ICMPChecker {
	c.Timeout = timeout
	return c
}

// WithPrivileged toggles raw socket mode
func (c *ICMPChecker) WithPrivileged(privileged bool) *ICMPChecker {
	c.Privileged = privileged
	return c
}
