package health

import (
	"context"
	"net"
	"time"
)

// TCPChecker reports the peer alive when a TCP handshake to Address
// completes. Nothing is written on the connection.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a connect probe with a 2s timeout
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: 2 * time.Second}
}

// Check dials the peer once
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return failed(start, "connection failed: %v", err)
	}
	local := conn.LocalAddr().String()
	_ = conn.Close()

	return Result{
		Alive:     true,
		Message:   "connected to " + t.Address + " from " + local,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (t *TCPChecker) Type() CheckType {
	return CheckTypeTCP
}

// WithTimeout bounds the handshake
func (t *TCPChecker) WithTimeout(timeout time.Duration) *TCPChecker {
	t.Timeout = timeout
	return t
}
