// Package netif enumerates local network interfaces and addresses, and
// converts between dotted/colon netmasks and CIDR prefix lengths. See
// spec.md §4.1.
package netif

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/jackpal/gateway"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/sockaddr"
)

// ErrInvalid is returned by NetmaskToBitmask for a netmask that does not
// parse or is not contiguous.
var ErrInvalid = errors.New("netif: invalid netmask or bitmask")

// ErrOsError wraps a failure to enumerate interfaces or addresses from the
// OS (spec.md's OsError/NoMemory codes collapse to a single wrapped error
// in Go, since Go has no separate allocation-failure signal).
var ErrOsError = errors.New("netif: OS error enumerating interfaces")

// Entry is one (interface, address) pair. A physical interface with
// multiple addresses appears as multiple Entry values, one per address.
type Entry struct {
	index    int
	name     string
	addr     net.IP
	prefix   int // bitmask length for addr's family
	loopback bool
}

func (e Entry) Index() int    { return e.index }
func (e Entry) Name() string  { return e.name }
func (e Entry) IsLoopback() bool { return e.loopback }

// SockAddr renders the entry's address as a *sockaddr.SockAddr with no
// port set.
func (e Entry) SockAddr() (*sockaddr.SockAddr, error) {
	return sockaddr.Parse(e.addr.String(), false)
}

// SockNetmask renders the entry's netmask (not the address) as a
// *sockaddr.SockAddr.
func (e Entry) SockNetmask() (*sockaddr.SockAddr, error) {
	mask := BitmaskToNetmask(family(e.addr), e.prefix)
	return sockaddr.Parse(mask.String(), false)
}

// Bitmask returns the address's prefix length: 0..32 for IPv4, 0..128 for
// IPv6.
func (e Entry) Bitmask() int { return e.prefix }

func family(ip net.IP) int {
	if ip.To4() != nil {
		return 4
	}
	return 6
}

// List is the result of GetFirst: an ordered snapshot of every local
// (interface, address) pair, plus a cursor for GetNext/FindNext.
type List struct {
	entries []Entry
	pos     int
}

// GetFirst enumerates interfaces and addresses from the OS per spec.md
// §4.1's default-selector ordering: non-loopback global unicast first,
// then ULA/link-local, then loopback, OS insertion order preserved within
// each tier.
func GetFirst() (*List, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOsError, err)
	}

	var tier0, tier1, tier2 []Entry
	for _, ifi := range ifs {
		addrs, err := ifi.Addrs()
		if err != nil {
			// Interface enumeration can partially fail (observed on some
			// mobile platforms); skip this interface rather than aborting
			// the whole scan.
			if debug {
				l.Debugln("netif: skipping", ifi.Name, "addrs:", err)
			}
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipnet.IP
			prefix, _ := ipnet.Mask.Size()
			e := Entry{index: ifi.Index, name: ifi.Name, addr: ip, prefix: prefix, loopback: ip.IsLoopback()}
			switch {
			case e.loopback:
				tier2 = append(tier2, e)
			case ip.IsGlobalUnicast() && !ip.IsLinkLocalUnicast() && !(ip.To4() == nil && ip.IsPrivate()):
				tier0 = append(tier0, e)
			default:
				tier1 = append(tier1, e)
			}
		}
	}

	entries := append(append(tier0, tier1...), tier2...)
	return &List{entries: entries}, nil
}

// GetNext advances the cursor. It returns false once exhausted.
func (lst *List) GetNext() bool {
	if lst.pos+1 >= len(lst.entries) {
		lst.pos = len(lst.entries)
		return false
	}
	lst.pos++
	return true
}

// Current returns the entry the cursor currently points at. It must only
// be called after a successful GetFirst/GetNext/FindFirst/FindNext.
func (lst *List) Current() Entry {
	return lst.entries[lst.pos]
}

// FindFirst scans for the first entry matching selector without mutating
// the list's stored order, per spec.md §4.1. selector may be:
//   - "" — the first usable (non-loopback if one exists) entry, preferring
//     the interface that owns the default route;
//   - "loopback" — the first loopback entry;
//   - an interface name;
//   - a textual network address (optionally with a zone-id);
//   - a decimal interface index.
//
// FindNext continues the scan from the cursor.
func (lst *List) FindFirst(selector string) bool {
	lst.pos = -1
	return lst.FindNext(selector)
}

func (lst *List) FindNext(selector string) bool {
	for {
		if !lst.advance() {
			return false
		}
		if lst.matches(selector) {
			return true
		}
	}
}

func (lst *List) advance() bool {
	if lst.pos+1 >= len(lst.entries) {
		lst.pos = len(lst.entries)
		return false
	}
	lst.pos++
	return true
}

func (lst *List) matches(selector string) bool {
	e := lst.entries[lst.pos]

	if selector == "" {
		if e.loopback && hasNonLoopback(lst.entries) {
			return false
		}
		return preferredByDefaultRoute(e)
	}
	if selector == "loopback" {
		return e.loopback
	}
	if e.name == selector {
		return true
	}
	if idx, err := strconv.Atoi(selector); err == nil {
		return e.index == idx
	}
	if sa, err := sockaddr.Parse(selector, false); err == nil {
		return sa.IP().Equal(e.addr)
	}
	return false
}

func hasNonLoopback(entries []Entry) bool {
	for _, e := range entries {
		if !e.loopback {
			return true
		}
	}
	return false
}

// preferredByDefaultRoute reports whether e sits on the interface owning
// the default route, falling back to "any non-loopback entry" when the
// gateway lookup fails (no default route, or an unsupported platform).
func preferredByDefaultRoute(e Entry) bool {
	if e.loopback {
		return false
	}
	gw, err := gateway.DiscoverInterface()
	if err != nil || gw == nil {
		return true
	}
	return gw.Equal(e.addr) || sameInterfaceAsGateway(e, gw)
}

func sameInterfaceAsGateway(e Entry, gw net.IP) bool {
	ifi, err := net.InterfaceByIndex(e.index)
	if err != nil {
		return false
	}
	addrs, err := ifi.Addrs()
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok && ipnet.Contains(gw) {
			return true
		}
	}
	return false
}

// BitmaskToNetmask converts a prefix length to its netmask for the given
// address family (4 or 6). Panics are never raised; a bitmask outside
// 0..32 (IPv4) or 0..128 (IPv6) yields a nil IP, because net.CIDRMask
// returns nil for it.
func BitmaskToNetmask(fam int, bits int) net.IP {
	if fam == 4 {
		return net.IP(net.CIDRMask(bits, 32))
	}
	return net.IP(net.CIDRMask(bits, 128))
}

// NetmaskToBitmask converts a textual netmask to its prefix length,
// rejecting non-contiguous masks (e.g. ffff:ffff:ffff:ffff:f0f0::) with
// ErrInvalid as spec.md §4.1 requires.
func NetmaskToBitmask(mask string) (fam int, bits int, err error) {
	ip := net.ParseIP(mask)
	if ip == nil {
		return 0, 0, fmt.Errorf("%w: %q is not a netmask literal", ErrInvalid, mask)
	}

	if v4 := ip.To4(); v4 != nil {
		ones, ok := contiguousOnes(v4, 32)
		if !ok {
			return 0, 0, fmt.Errorf("%w: %q is not a contiguous IPv4 netmask", ErrInvalid, mask)
		}
		return 4, ones, nil
	}

	ones, ok := contiguousOnes(ip.To16(), 128)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q is not a contiguous IPv6 netmask", ErrInvalid, mask)
	}
	return 6, ones, nil
}

// contiguousOnes counts the leading 1 bits in b and confirms every
// remaining bit is 0, i.e. that b is a valid CIDR mask.
func contiguousOnes(b []byte, maxBits int) (int, bool) {
	ones := 0
	seenZero := false
	for _, byt := range b {
		for bit := 7; bit >= 0; bit-- {
			set := byt&(1<<uint(bit)) != 0
			if set {
				if seenZero {
					return 0, false
				}
				ones++
			} else {
				seenZero = true
			}
		}
	}
	if ones > maxBits {
		return 0, false
	}
	return ones, true
}

// ToIPv4MappedIPv6 converts a 4-byte IPv4 address to its IPv4-mapped IPv6
// form for use on a dual-stack socket, per spec.md §4.1's ordering
// contract.
func ToIPv4MappedIPv6(ip net.IP) net.IP {
	v4 := ip.To4()
	if v4 == nil {
		return ip
	}
	mapped := make(net.IP, net.IPv6len)
	copy(mapped, net.IPv4(v4[0], v4[1], v4[2], v4[3]))
	return mapped
}

