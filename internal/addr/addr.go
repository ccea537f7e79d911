// Package addr implements the exporter address abstraction shared by the
// peer registry and the flow-log writer: a small value type over IPv4 and
// IPv6 host addresses with equality and a total order.
package addr

import (
	"bytes"
	"fmt"
	"net"
)

// Family distinguishes the two address shapes an Addr can hold.
type Family uint8

const (
	// FamilyV4 marks a 4-byte IPv4 address.
	FamilyV4 Family = 4
	// FamilyV6 marks a 16-byte IPv6 address.
	FamilyV6 Family = 6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "ipv4"
	case FamilyV6:
		return "ipv6"
	default:
		return fmt.Sprintf("family(%d)", uint8(f))
	}
}

// Addr is a value-typed tagged union over an IPv4 or IPv6 host address.
// Two Addrs are equal iff their families and bytes match.
type Addr struct {
	family Family
	bytes  [16]byte
}

// Zero is the default, unset Addr (family 0, all-zero bytes). It never
// equals a valid IPv4 or IPv6 address.
var Zero Addr

// FromIP builds an Addr from a net.IP, classifying it as IPv4 or IPv6.
// Returns an error if ip is nil or has an unexpected byte length.
func FromIP(ip net.IP) (Addr, error) {
	if v4 := ip.To4(); v4 != nil {
		var a Addr
		a.family = FamilyV4
		copy(a.bytes[:4], v4)
		return a, nil
	}
	if v6 := ip.To16(); v6 != nil {
		var a Addr
		a.family = FamilyV6
		copy(a.bytes[:], v6)
		return a, nil
	}
	return Addr{}, fmt.Errorf("addr: invalid IP %v", ip)
}

// FromV4Bytes builds an Addr directly from four network-order bytes, as
// decoded off the wire, without the net.IP round-trip.
func FromV4Bytes(b []byte) Addr {
	var a Addr
	a.family = FamilyV4
	copy(a.bytes[:4], b[:4])
	return a
}

// FromV6Bytes builds an Addr directly from sixteen network-order bytes.
func FromV6Bytes(b []byte) Addr {
	var a Addr
	a.family = FamilyV6
	copy(a.bytes[:], b[:16])
	return a
}

// Family reports whether the address is IPv4 or IPv6.
func (a Addr) Family() Family { return a.family }

// IsZero reports whether a is the Zero value.
func (a Addr) IsZero() bool { return a == Zero }

// IP converts the address back to a net.IP.
func (a Addr) IP() net.IP {
	switch a.family {
	case FamilyV4:
		ip := make(net.IP, 4)
		copy(ip, a.bytes[:4])
		return ip
	case FamilyV6:
		ip := make(net.IP, 16)
		copy(ip, a.bytes[:])
		return ip
	default:
		return nil
	}
}

// Bytes returns the address's raw bytes (4 for IPv4, 16 for IPv6).
func (a Addr) Bytes() []byte {
	switch a.family {
	case FamilyV4:
		out := make([]byte, 4)
		copy(out, a.bytes[:4])
		return out
	case FamilyV6:
		out := make([]byte, 16)
		copy(out, a.bytes[:])
		return out
	default:
		return nil
	}
}

// Equal reports whether a and b name the same address: same family, same
// bytes.
func (a Addr) Equal(b Addr) bool {
	return a.family == b.family && a.bytes == b.bytes
}

// Less implements the total order used to key the peer registry's ordered
// structure: family first, then lexicographic bytes.
func (a Addr) Less(b Addr) bool {
	if a.family != b.family {
		return a.family < b.family
	}
	return bytes.Compare(a.bytes[:], b.bytes[:]) < 0
}

// Compare returns -1, 0, or 1 following the Less order, for use with
// sort-by-comparator APIs.
func (a Addr) Compare(b Addr) int {
	if a.family != b.family {
		if a.family < b.family {
			return -1
		}
		return 1
	}
	return bytes.Compare(a.bytes[:], b.bytes[:])
}

// String renders the address in its usual textual form.
func (a Addr) String() string {
	if ip := a.IP(); ip != nil {
		return ip.String()
	}
	return "<invalid addr>"
}

// MarshalText implements encoding.TextMarshaler so Addr can be logged via
// logrus fields and serialized into structured output without a manual
// conversion at every call site.
func (a Addr) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
