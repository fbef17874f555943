package health

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/go-ping/ping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// socketRefused is what go-ping returns when the kernel refuses the socket
func socketRefused(errno syscall.Errno) error {
	return &net.OpError{Op: "listen", Net: "ip4:icmp", Err: os.NewSyscallError("socket", errno)}
}

func TestICMPChecker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewICMPChecker("127.0.0.1").Check(ctx)
	assert.False(t, result.Alive)
	assert.Contains(t, result.Message, "cancelled")
}

func TestICMPChecker_ExpiredDeadline(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	result := NewICMPChecker("127.0.0.1").Check(ctx)
	assert.False(t, result.Alive)
}

func TestICMPChecker_Options(t *testing.T) {
	checker := NewICMPChecker("10.0.2.10").WithTimeout(time.Second).WithPrivileged(false)

	assert.Equal(t, CheckTypeICMP, checker.Type())
	assert.Equal(t, time.Second, checker.Timeout)
	assert.False(t, checker.Privileged)
}

func TestICMPChecker_SocketRefusedIsLocal(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.EPERM, syscall.EACCES} {
		t.Run(errno.Error(), func(t *testing.T) {
			checker := NewICMPChecker("10.0.2.10").WithPrivileged(false)
			checker.run = func(*ping.Pinger) error { return socketRefused(errno) }

			result := checker.Check(context.Background())
			assert.False(t, result.Alive)
			require.Error(t, result.Err)
			assert.True(t, errors.Is(result.Err, ErrLocalFailure))
			assert.Contains(t, result.Message, "10.0.2.10")
		})
	}
}

func TestICMPChecker_NetworkErrorIsPeerMiss(t *testing.T) {
	checker := NewICMPChecker("10.0.2.10")
	checker.run = func(*ping.Pinger) error {
		return &net.OpError{Op: "write", Net: "ip4:icmp", Err: os.NewSyscallError("sendto", syscall.EHOSTUNREACH)}
	}

	result := checker.Check(context.Background())
	assert.False(t, result.Alive)
	assert.NoError(t, result.Err)
}

func TestICMPChecker_NoReplyIsPeerMiss(t *testing.T) {
	checker := NewICMPChecker("10.0.2.10")
	checker.run = func(*ping.Pinger) error { return nil }

	result := checker.Check(context.Background())
	assert.False(t, result.Alive)
	assert.NoError(t, result.Err)
	assert.Contains(t, result.Message, "no echo reply")
}

func TestICMPChecker_SelfCheck(t *testing.T) {
	checker := NewICMPChecker("10.0.2.10").WithPrivileged(false)

	var target string
	checker.run = func(p *ping.Pinger) error {
		target = p.Addr()
		return nil
	}
	require.NoError(t, checker.SelfCheck(context.Background()))
	assert.Equal(t, selfCheckAddress, target)

	checker.run = func(*ping.Pinger) error { return socketRefused(syscall.EACCES) }
	err := checker.SelfCheck(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocalFailure))
	assert.Contains(t, err.Error(), "privileged=false")
}
