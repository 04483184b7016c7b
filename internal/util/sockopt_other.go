//go:build !unix

package util

import "syscall"

// Go already marks tcp6 listeners v6-only on these platforms.
func setSocketOptions(string, syscall.RawConn) error { return nil }
