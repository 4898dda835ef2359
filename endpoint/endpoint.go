// Package endpoint parses the server address strings carried in
// AddEgressResponse.egress_point_sock_addr ("host:port" or "[v6]:port")
// into a form the reconnection policy can alternate on by address family.
package endpoint

import (
	"fmt"
	"net"
	"strconv"
)

// Family is the IP address family of an Endpoint.
type Family int

const (
	FamilyUnknown Family = iota
	V4
	V6
)

func (f Family) String() string {
	switch f {
	case V4:
		return "V4"
	case V6:
		return "V6"
	default:
		return "UNKNOWN"
	}
}

// Endpoint preserves both the original "host:port" string form and the
// parsed (ip, port, family) form, so logging can always show what the
// server sent even when the parsed IP is used for dialing.
type Endpoint struct {
	raw    string
	ip     net.IP
	port   uint16
	family Family
}

// Parse splits s into host and port, resolves the family from the host's
// IP literal, and returns an Endpoint. s must already be an IP literal,
// not a hostname: AddEgressResponse.egress_point_sock_addr entries are
// always literal addresses.
func Parse(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint: %q: invalid port: %w", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Endpoint{}, fmt.Errorf("endpoint: %q: invalid IP literal %q", s, host)
	}

	family := V4
	if ip.To4() == nil {
		family = V6
	}

	return Endpoint{raw: s, ip: ip, port: uint16(port), family: family}, nil
}

// String returns the original "host:port" form, unchanged from the wire.
func (e Endpoint) String() string {
	return e.raw
}

// IP returns the parsed address.
func (e Endpoint) IP() net.IP {
	return e.ip
}

// Port returns the parsed port.
func (e Endpoint) Port() uint16 {
	return e.port
}

// Family reports whether the endpoint is V4 or V6.
func (e Endpoint) Family() Family {
	return e.family
}

// ParseAll parses every entry in addrs, preserving order. A single
// malformed entry fails the whole batch: AddEgressResponse is either
// entirely well-formed or the egress allocation itself is treated as a
// protocol error.
func ParseAll(addrs []string) ([]Endpoint, error) {
	out := make([]Endpoint, 0, len(addrs))
	for _, a := range addrs {
		ep, err := Parse(a)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// FilterFamily returns the subset of endpoints matching family, preserving
// order.
func FilterFamily(endpoints []Endpoint, family Family) []Endpoint {
	var out []Endpoint
	for _, e := range endpoints {
		if e.family == family {
			out = append(out, e)
		}
	}
	return out
}

// HasFamily reports whether endpoints contains at least one entry of the
// given family.
func HasFamily(endpoints []Endpoint, family Family) bool {
	for _, e := range endpoints {
		if e.family == family {
			return true
		}
	}
	return false
}
