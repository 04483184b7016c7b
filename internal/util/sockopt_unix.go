//go:build unix

package util

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func setSocketOptions(network string, c syscall.RawConn) error {
	var optErr error
	err := c.Control(func(fd uintptr) {
		if optErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); optErr != nil {
			return
		}
		if network == "tcp6" {
			optErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
		}
	})
	if err != nil {
		return err
	}
	return optErr
}
