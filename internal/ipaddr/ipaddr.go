// Package ipaddr parses textual IPv4 and IPv6 addresses into fixed-width
// group form and classifies them as loopback, private or public.
//
// Parsing is deliberately lenient: it never fails. Missing or non-numeric
// components read as zero, and short IPv4 forms use the classic shorthand
// where the last component fills every remaining byte.
package ipaddr

import (
	"net/netip"
	"strings"
)

// Version is the IP protocol version of an Address.
type Version int

const (
	V4 Version = 4
	V6 Version = 6
)

// String returns "IPv4" or "IPv6".
func (v Version) String() string {
	if v == V6 {
		return "IPv6"
	}
	return "IPv4"
}

// Class is the reachability class of an address.
type Class int

const (
	// Public is the zero value so that an unclassified address is never
	// mistaken for a local one.
	Public Class = iota
	Private
	Loopback
)

// String returns the label used in diagnostics: "external", "local" or "loopback".
func (c Class) String() string {
	switch c {
	case Loopback:
		return "loopback"
	case Private:
		return "local"
	default:
		return "external"
	}
}

// IsLocal reports whether the class may connect to the server.
func (c Class) IsLocal() bool {
	return c == Loopback || c == Private
}

// Address is an immutable parsed IP address. IPv4 addresses use the first
// four groups, each holding one byte; IPv6 addresses use all eight groups.
type Address struct {
	version Version
	groups  [8]uint16
}

// Version returns the address family.
func (a Address) Version() Version { return a.version }

// Groups returns a copy of the address groups: four bytes for IPv4, eight
// 16-bit words for IPv6.
func (a Address) Groups() []uint16 {
	n := 8
	if a.version == V4 {
		n = 4
	}
	out := make([]uint16, n)
	copy(out, a.groups[:n])
	return out
}

// Bytes returns the four octets of an IPv4 address. It returns zeros for IPv6.
func (a Address) Bytes() [4]byte {
	var b [4]byte
	if a.version != V4 {
		return b
	}
	for i := range b {
		b[i] = byte(a.groups[i])
	}
	return b
}

// String formats the address in its canonical textual form.
func (a Address) String() string {
	if a.version == V4 {
		return netip.AddrFrom4(a.Bytes()).String()
	}
	var b [16]byte
	for i, g := range a.groups {
		b[2*i] = byte(g >> 8)
		b[2*i+1] = byte(g)
	}
	return netip.AddrFrom16(b).String()
}

// IsLoopback reports whether a is 127.0.0.0/8, ::1 or link-local fe80::/10.
func (a Address) IsLoopback() bool {
	if a.version == V4 {
		return a.groups[0] == 127
	}
	if a.groups[0]&0xFFC0 == 0xFE80 {
		return true
	}
	for _, g := range a.groups[:7] {
		if g != 0 {
			return false
		}
	}
	return a.groups[7] == 1
}

// IsPrivate reports whether a is in 10/8, 172.16/12, 192.168/16 or fc00::/7.
func (a Address) IsPrivate() bool {
	if a.version == V4 {
		g := a.groups
		return g[0] == 10 ||
			(g[0] == 192 && g[1] == 168) ||
			(g[0] == 172 && g[1]&0xF0 == 16)
	}
	return a.groups[0]&0xFE00 == 0xFC00
}

// Classify returns the class of a. Loopback wins over Private.
func Classify(a Address) Class {
	switch {
	case a.IsLoopback():
		return Loopback
	case a.IsPrivate():
		return Private
	default:
		return Public
	}
}

// ClassifyText detects the version of text, parses it and classifies it.
func ClassifyText(text string) Class {
	return Classify(Parse(text, VersionOf(text)))
}

// VersionOf selects the parsing rules for text: anything containing a colon
// is IPv6.
func VersionOf(text string) Version {
	if strings.IndexByte(text, ':') >= 0 {
		return V6
	}
	return V4
}

// Parse parses text using the rules of version v.
func Parse(text string, v Version) Address {
	if v == V6 {
		return ParseV6(text)
	}
	return ParseV4(text)
}

// ParseV4 parses a dotted IPv4 address.
//
// With four or more components the first three are bytes and the fourth is
// the final byte; anything after the fourth is ignored. With fewer, the last
// component is an integer spread over all remaining bytes, so "10.5" is
// 10.0.0.5 and "10" is 0.0.0.10.
func ParseV4(text string) Address {
	parts := strings.Split(text, ".")
	lead := len(parts) - 1
	if lead > 3 {
		lead = 3
	}

	a := Address{version: V4}
	for i := 0; i < lead; i++ {
		v, _ := leadingInt(parts[i], 10)
		a.groups[i] = uint16(v & 0xFF)
	}

	rest, _ := leadingInt(parts[lead], 10)
	rest &= uint32(0xFFFFFFFF) >> (8 * lead)
	for i := lead; i < 4; i++ {
		shift := 8 * (3 - i)
		a.groups[i] = uint16((rest >> shift) & 0xFF)
	}
	return a
}

// ParseV6 parses a colon separated IPv6 address, honouring a single "::"
// compression point. At most eight groups are read.
func ParseV6(text string) Address {
	var head, tail []uint16
	groups := &head
	count := 0
	pos := 0

	for {
		i := strings.IndexByte(text[pos:], ':')
		if i < 0 {
			break
		}
		start := pos + i
		end := start
		for end < len(text) && text[end] == ':' {
			end++
		}
		field := text[pos:start]
		pos = end

		if field != "" {
			*groups = append(*groups, hexGroup(field))
			count++
			if count >= 8 {
				break
			}
		}
		if end-start > 1 {
			groups = &tail
		}
	}
	if pos < len(text) {
		*groups = append(*groups, hexGroup(text[pos:]))
	}

	a := Address{version: V6}
	if len(head) > 8 {
		head = head[:8]
	}
	copy(a.groups[:], head)
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	for i := range tail {
		a.groups[7-i] = tail[len(tail)-1-i]
	}
	return a
}

func hexGroup(s string) uint16 {
	v, _ := leadingInt(s, 16)
	return uint16(v & 0xFFFF)
}

// leadingInt reads an integer the lenient way: leading whitespace and an
// optional sign are skipped, base 16 accepts a 0x prefix, and digits are
// consumed until the first character that is not one. Arithmetic wraps
// modulo 2^32 and negative values are two's complement. ok is false when no
// digit was found, in which case the value is zero.
func leadingInt(s string, base uint32) (v uint32, ok bool) {
	s = strings.TrimLeft(s, " \t\n\r\v\f")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	if base == 16 && len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}

	n := 0
	for ; n < len(s); n++ {
		d := digitValue(s[n])
		if d >= base {
			break
		}
		v = v*base + d
	}
	if n == 0 {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

func digitValue(c byte) uint32 {
	switch {
	case '0' <= c && c <= '9':
		return uint32(c - '0')
	case 'a' <= c && c <= 'f':
		return uint32(c-'a') + 10
	case 'A' <= c && c <= 'F':
		return uint32(c-'A') + 10
	default:
		return 255
	}
}
