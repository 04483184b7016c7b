package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"example.com/lanserve/internal/ipaddr"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		allowed bool
		class   ipaddr.Class
		version ipaddr.Version
	}{
		{"public v4", "8.8.8.8:5123", false, ipaddr.Public, ipaddr.V4},
		{"private v4", "192.168.0.5:40000", true, ipaddr.Private, ipaddr.V4},
		{"loopback v4", "127.0.0.1:1", true, ipaddr.Loopback, ipaddr.V4},
		{"loopback v6", "[::1]:8080", true, ipaddr.Loopback, ipaddr.V6},
		{"link-local v6 with zone", "[fe80::1%eth0]:8080", true, ipaddr.Loopback, ipaddr.V6},
		{"unique local v6", "[fd00::5]:443", true, ipaddr.Private, ipaddr.V6},
		{"public v6", "[2001:4860::1]:80", false, ipaddr.Public, ipaddr.V6},
		{"bare host", "10.1.2.3", true, ipaddr.Private, ipaddr.V4},
		{"bare bracketed v6", "[::1]", true, ipaddr.Loopback, ipaddr.V6},
		{"garbage", "not-an-address", false, ipaddr.Public, ipaddr.V4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(tt.remote)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.class, d.Class)
			assert.Equal(t, tt.version, d.Version)
			if tt.allowed {
				assert.Equal(t, ReasonAllowed, d.Reason)
			} else {
				assert.Equal(t, ReasonNonPrivate, d.Reason)
			}
		})
	}
}

func TestHostOf(t *testing.T) {
	assert.Equal(t, "::1", HostOf("[::1]:80"))
	assert.Equal(t, "10.0.0.1", HostOf("10.0.0.1:80"))
	assert.Equal(t, "10.0.0.1", HostOf("10.0.0.1"))
	assert.Equal(t, "fe80::1", HostOf("[fe80::1]"))
}
