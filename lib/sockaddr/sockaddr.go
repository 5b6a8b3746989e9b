// Package sockaddr parses, compares, and renders the textual
// network-address+port forms used throughout UPnP: bare hosts, "host:port",
// bracketed IPv6 literals with optional zone-id, and the IPv4
// "address:service" form. See spec.md §4.2.
package sockaddr

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Family distinguishes the address families this package understands.
type Family int

const (
	FamilyV4 Family = iota
	FamilyV6
)

func (f Family) String() string {
	if f == FamilyV6 {
		return "ipv6"
	}
	return "ipv4"
}

// ErrInvalid is returned for any syntactically or semantically malformed
// input: an out-of-range port, a literal that isn't a valid address, etc.
var ErrInvalid = errors.New("sockaddr: invalid address")

// SockAddr is a parsed network-address+port pair.
type SockAddr struct {
	family      Family
	ip          net.IP
	zone        string // as given: numeric or an interface name; empty if none
	zoneIsIndex bool
	port        uint16
	hasPort     bool
	service     string // unresolved alphanumeric service name, ipv4 "addr:service" form
}

// Parse parses s per the grammar in spec.md §4.2. If s is empty and passive
// is true, the result is the IPv4 all-zero "any address"; ParsePreferV6
// yields the IPv6 one instead.
func Parse(s string, passive bool) (*SockAddr, error) {
	return parse(s, passive, FamilyV4)
}

// ParsePreferV6 behaves like Parse but the empty+passive case yields the
// IPv6 any-address ("[::]" ) instead of IPv4's "0.0.0.0".
func ParsePreferV6(s string, passive bool) (*SockAddr, error) {
	return parse(s, passive, FamilyV6)
}

func parse(s string, passive bool, preferred Family) (*SockAddr, error) {
	if s == "" {
		if !passive {
			return nil, fmt.Errorf("%w: empty address without AI_PASSIVE", ErrInvalid)
		}
		if preferred == FamilyV6 {
			return &SockAddr{family: FamilyV6, ip: net.IPv6zero}, nil
		}
		return &SockAddr{family: FamilyV4, ip: net.IPv4zero.To4()}, nil
	}

	if strings.HasPrefix(s, "[") {
		return parseBracketed(s)
	}

	// A bare IPv6 literal with neither port nor zone may omit brackets.
	if ip := net.ParseIP(s); ip != nil && ip.To4() == nil {
		return &SockAddr{family: FamilyV6, ip: ip}, nil
	}

	return parseHostPort(s)
}

func parseBracketed(s string) (*SockAddr, error) {
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated bracketed literal %q", ErrInvalid, s)
	}
	inner := s[1:end]
	rest := s[end+1:]

	host := inner
	zone := ""
	zoneIsIndex := false
	if i := strings.IndexByte(inner, '%'); i >= 0 {
		host = inner[:i]
		zone = inner[i+1:]
		if zone == "" {
			return nil, fmt.Errorf("%w: empty zone-id", ErrInvalid)
		}
		if _, err := strconv.Atoi(zone); err == nil {
			zoneIsIndex = true
		}
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.To4() != nil {
		return nil, fmt.Errorf("%w: %q is not an IPv6 literal", ErrInvalid, host)
	}

	sa := &SockAddr{family: FamilyV6, ip: ip, zone: zone, zoneIsIndex: zoneIsIndex}

	switch {
	case rest == "":
		return sa, nil
	case strings.HasPrefix(rest, ":"):
		port, err := parsePort(rest[1:])
		if err != nil {
			return nil, err
		}
		sa.port = port
		sa.hasPort = true
		return sa, nil
	default:
		return nil, fmt.Errorf("%w: trailing garbage %q after bracketed literal", ErrInvalid, rest)
	}
}

func parseHostPort(s string) (*SockAddr, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		ip := net.ParseIP(s)
		if ip == nil {
			return nil, fmt.Errorf("%w: %q is not a literal address", ErrInvalid, s)
		}
		return ipSockAddr(ip), nil
	}

	host, portStr := s[:idx], s[idx+1:]
	if strings.Count(host, ":") > 0 {
		// A second colon outside brackets means an unbracketed IPv6
		// literal carrying a port, which spec.md §4.2 disallows.
		return nil, fmt.Errorf("%w: IPv6 literal with a port must be bracketed: %q", ErrInvalid, s)
	}

	var ip net.IP
	if host == "" {
		ip = net.IPv4zero.To4()
	} else {
		ip = net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("%w: %q is not a literal address", ErrInvalid, host)
		}
	}

	sa := ipSockAddr(ip)
	if port, err := parsePort(portStr); err == nil {
		sa.port = port
		sa.hasPort = true
		return sa, nil
	}

	if !isAlnum(portStr) {
		return nil, fmt.Errorf("%w: %q is neither a port nor a service name", ErrInvalid, portStr)
	}
	sa.service = portStr
	return sa, nil
}

func ipSockAddr(ip net.IP) *SockAddr {
	if v4 := ip.To4(); v4 != nil {
		return &SockAddr{family: FamilyV4, ip: v4}
	}
	return &SockAddr{family: FamilyV6, ip: ip}
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 65535 {
		return 0, fmt.Errorf("%w: port %q out of range 0..65535", ErrInvalid, s)
	}
	return uint16(n), nil
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return false
		}
	}
	return true
}

// Family reports the parsed address family.
func (s *SockAddr) Family() Family { return s.family }

// IP returns the parsed address.
func (s *SockAddr) IP() net.IP { return s.ip }

// Zone returns the textual zone-id as given (name or numeric), and whether
// one was present.
func (s *SockAddr) Zone() (string, bool) { return s.zone, s.zone != "" }

// Port returns the numeric port and whether one was resolved. An
// "address:service" form returns ok=false until ResolveService succeeds.
func (s *SockAddr) Port() (uint16, bool) { return s.port, s.hasPort }

// Service returns the unresolved service name for an "address:service"
// input, or "" if none was given.
func (s *SockAddr) Service() string { return s.service }

// ResolveService resolves a pending service name to a numeric port using
// lookup (typically net.LookupPort), caching the result.
func (s *SockAddr) ResolveService(lookup func(network, service string) (int, error)) error {
	if s.service == "" {
		return nil
	}
	port, err := lookup("tcp", s.service)
	if err != nil {
		return fmt.Errorf("sockaddr: resolving service %q: %w", s.service, err)
	}
	p, err := parsePort(strconv.Itoa(port))
	if err != nil {
		return err
	}
	s.port = p
	s.hasPort = true
	return nil
}

// IsLoopback reports whether the address is ::1 or within 127.0.0.0/8.
func (s *SockAddr) IsLoopback() bool { return s.ip.IsLoopback() }

// IsUnspecified reports whether the address is the all-zero any-address.
func (s *SockAddr) IsUnspecified() bool { return s.ip.IsUnspecified() }

// zoneIndex resolves the zone to a numeric interface index, using ifindex
// as the (injectable) name->index resolver.
func (s *SockAddr) zoneIndex(ifindex func(name string) (int, error)) (int, bool, error) {
	if s.zone == "" {
		return 0, false, nil
	}
	if s.zoneIsIndex {
		n, err := strconv.Atoi(s.zone)
		return n, true, err
	}
	n, err := ifindex(s.zone)
	if err != nil {
		return 0, true, err
	}
	return n, true, nil
}

var defaultIfindex = func(name string) (int, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0, err
	}
	return iface.Index, nil
}

// Equal compares two addresses for equality per spec.md §4.2: IP bytes,
// family and port must match; a textual zone name and a numeric zone-id
// compare equal when they resolve to the same interface index.
func (s *SockAddr) Equal(other *SockAddr) bool {
	return s.equal(other, defaultIfindex)
}

func (s *SockAddr) equal(other *SockAddr, ifindex func(string) (int, error)) bool {
	if other == nil || s.family != other.family || !s.ip.Equal(other.ip) {
		return false
	}
	if s.hasPort != other.hasPort || s.port != other.port {
		return false
	}
	aIdx, aHas, aErr := s.zoneIndex(ifindex)
	bIdx, bHas, bErr := other.zoneIndex(ifindex)
	if aHas != bHas {
		return false
	}
	if !aHas {
		return true
	}
	if aErr != nil || bErr != nil {
		return s.zone == other.zone
	}
	return aIdx == bIdx
}

// Render produces the canonical textual form: "[ipv6%zone]:port" or
// "ipv4:port", with no leading zeros and brackets only around IPv6.
func (s *SockAddr) Render() string {
	var b strings.Builder
	if s.family == FamilyV6 {
		b.WriteByte('[')
		b.WriteString(s.ip.String())
		if s.zone != "" {
			b.WriteByte('%')
			b.WriteString(s.zone)
		}
		b.WriteByte(']')
	} else {
		b.WriteString(s.ip.String())
	}
	if s.hasPort {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(int(s.port)))
	} else if s.service != "" {
		b.WriteByte(':')
		b.WriteString(s.service)
	}
	return b.String()
}

func (s *SockAddr) String() string { return s.Render() }

// Canonical is Render(Parse(s)); it is the fixed point referenced by the
// idempotence invariant in spec.md §8.1.
func Canonical(s string, passive bool) (string, error) {
	sa, err := Parse(s, passive)
	if err != nil {
		return "", err
	}
	return sa.Render(), nil
}
