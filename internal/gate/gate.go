// Package gate decides whether a peer may talk to the server, based only on
// the network origin of its address.
package gate

import (
	"net"
	"strings"

	"example.com/lanserve/internal/ipaddr"
)

// Reason explains why a peer was refused.
type Reason string

const (
	ReasonAllowed    Reason = ""
	ReasonNonPrivate Reason = "Non-private connection"
)

// Decision is the outcome of evaluating a remote address.
type Decision struct {
	Allowed bool
	Reason  Reason
	Host    string
	Version ipaddr.Version
	Class   ipaddr.Class
}

// Evaluate classifies remoteAddr and accepts it only when it is a loopback or
// private address. remoteAddr may be "host:port", "[v6]:port" or a bare host.
func Evaluate(remoteAddr string) Decision {
	host := HostOf(remoteAddr)
	v := ipaddr.VersionOf(host)
	class := ipaddr.Classify(ipaddr.Parse(host, v))

	d := Decision{
		Allowed: class.IsLocal(),
		Host:    host,
		Version: v,
		Class:   class,
	}
	if !d.Allowed {
		d.Reason = ReasonNonPrivate
	}
	return d
}

// HostOf strips the port and any brackets from a network address.
func HostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
}
