package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// CreateListener creates a TCP listener for one address family.
// network must be "tcp4" or "tcp6". IPv6 sockets are made v6-only so that a
// v4 and a v6 listener can share the same port number.
func CreateListener(network, address string) (net.Listener, error) {
	return CreateListenerContext(context.Background(), network, address)
}

// CreateListenerContext is CreateListener with a context for the bind.
func CreateListenerContext(ctx context.Context, network, address string) (net.Listener, error) {
	if network != "tcp4" && network != "tcp6" {
		return nil, fmt.Errorf("unsupported network type: %s, only 'tcp4' or 'tcp6' are supported", network)
	}

	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return setSocketOptions(network, c)
		},
	}
	ln, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener on %s %s: %w", network, address, err)
	}
	return ln, nil
}

// IsAddrInUse checks if the error indicates an "address already in use" condition.
func IsAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) && sysErr.Err == syscall.EADDRINUSE {
		return true
	}
	// Some platforms only expose the condition through the message.
	return strings.Contains(strings.ToLower(err.Error()), "address already in use")
}

// IsClosedConn reports whether err was caused by using a closed connection or
// listener.
func IsClosedConn(err error) bool {
	return err != nil && errors.Is(err, net.ErrClosed)
}
