// Package ssdp implements the SSDP discovery engine (spec.md §4.7):
// multicast advertisement, byebye, M-SEARCH and search-reply framing, and
// the control-point search-list/timeout bookkeeping that consumes them.
package ssdp

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/thejerf/suture/v4"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
	"golang.org/x/sys/unix"
)

// Well-known SSDP multicast groups, spec.md §4.7.
const (
	GroupV4     = "239.255.255.250:1900"
	GroupV6Link = "[ff02::c]:1900"
	GroupV6Site = "[ff05::c]:1900"

	// DefaultTTL is the outgoing multicast hop limit. NewTransport uses it
	// in place of any ttl <= 0, so the sockets never run with TTL 0 and
	// IP_MULTICAST_LOOP stays disabled.
	DefaultTTL = 4
)

// Packet is a received SSDP datagram.
type Packet struct {
	Data    []byte
	Src     *net.UDPAddr
	IfIndex int
}

// Transport owns the joined multicast sockets and per-interface send
// path. Grounded on lib/beacon/multicast.go's reader/writer-per-group
// suture services, generalized from a single IPv6 group to the three
// groups spec.md §4.7 names and to dual-stack (v4 + v6) send.
type Transport struct {
	*suture.Supervisor

	ttl      int
	outbox   chan Packet
	v4       *groupService
	v6link   *groupService
	v6site   *groupService
}

// NewTransport joins all three SSDP multicast groups on every
// multicast-capable interface and returns a Transport ready to Serve.
func NewTransport(ttl int) *Transport {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &Transport{
		Supervisor: suture.New("ssdp-transport", suture.Spec{}),
		ttl:        ttl,
		outbox:     make(chan Packet, 64),
	}
	t.v4 = newGroupService(familyV4, GroupV4, ttl, t.outbox)
	t.v6link = newGroupService(familyV6, GroupV6Link, ttl, t.outbox)
	t.v6site = newGroupService(familyV6, GroupV6Site, ttl, t.outbox)
	t.Add(t.v4)
	t.Add(t.v6link)
	t.Add(t.v6site)
	return t
}

// Serve runs the joined group readers until ctx is cancelled.
func (t *Transport) Serve(ctx context.Context) error {
	return t.Supervisor.Serve(ctx)
}

// Recv returns the channel incoming datagrams arrive on, across every
// joined group.
func (t *Transport) Recv() <-chan Packet {
	return t.outbox
}

// SendMulticast writes payload to the named group (GroupV4, GroupV6Link
// or GroupV6Site) on every interface that supports it, mirroring
// multicastWriter.Serve's per-interface WriteTo loop.
func (t *Transport) SendMulticast(group string, payload []byte) error {
	switch group {
	case GroupV4:
		return t.v4.send(payload, nil)
	case GroupV6Link:
		return t.v6link.send(payload, nil)
	case GroupV6Site:
		return t.v6site.send(payload, nil)
	default:
		return fmt.Errorf("ssdp: unknown multicast group %q", group)
	}
}

// SendUnicast replies directly to dst (a control point's M-SEARCH source
// address) on the interface the request arrived on.
func (t *Transport) SendUnicast(dst *net.UDPAddr, ifIndex int, payload []byte) error {
	if dst.IP.To4() != nil {
		return t.v4.send(payload, &unicastTarget{addr: dst, ifIndex: ifIndex})
	}
	return t.v6link.send(payload, &unicastTarget{addr: dst, ifIndex: ifIndex})
}

type family int

const (
	familyV4 family = iota
	familyV6
)

type unicastTarget struct {
	addr    *net.UDPAddr
	ifIndex int
}

// groupService joins one multicast group on every usable interface and
// relays datagrams to outbox; it doubles as the send path for that
// group's address family. One instance is a suture.Service.
type groupService struct {
	fam    family
	group  string
	ttl    int
	outbox chan<- Packet

	conn4 *ipv4.PacketConn
	conn6 *ipv6.PacketConn
}

func newGroupService(fam family, group string, ttl int, outbox chan<- Packet) *groupService {
	return &groupService{fam: fam, group: group, ttl: ttl, outbox: outbox}
}

// Serve joins the group on every multicast-capable interface and reads
// until ctx is cancelled. Grounded on multicastReader.Serve's
// JoinGroup-per-interface loop; reuseaddr is set via the listener's
// Control callback (golang.org/x/sys/unix) since net.ListenPacket alone
// would fail when multiple groups bind the same port.
func (g *groupService) Serve(ctx context.Context) error {
	host, _, err := net.SplitHostPort(g.group)
	if err != nil {
		return fmt.Errorf("ssdp: group address %q: %w", g.group, err)
	}
	gip := net.ParseIP(host)
	if gip == nil {
		return fmt.Errorf("ssdp: group address %q: not an IP", host)
	}

	network := "udp6"
	listenAddr := fmt.Sprintf("[::]:%s", portOf(g.group))
	if g.fam == familyV4 {
		network = "udp4"
		listenAddr = fmt.Sprintf("0.0.0.0:%s", portOf(g.group))
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	pc, err := lc.ListenPacket(ctx, network, listenAddr)
	if err != nil {
		if debug {
			l.Debugln("ssdp: listen", network, listenAddr, err)
		}
		return err
	}
	defer pc.Close()

	intfs, err := net.Interfaces()
	if err != nil {
		return err
	}

	joined := 0
	if g.fam == familyV4 {
		g.conn4 = ipv4.NewPacketConn(pc)
		g.conn4.SetMulticastTTL(g.ttl)
		g.conn4.SetMulticastLoopback(g.ttl == 0)
		for _, intf := range intfs {
			if intf.Flags&net.FlagMulticast == 0 {
				continue
			}
			if err := g.conn4.JoinGroup(&intf, &net.UDPAddr{IP: gip}); err == nil {
				joined++
			}
		}
	} else {
		g.conn6 = ipv6.NewPacketConn(pc)
		g.conn6.SetMulticastHopLimit(g.ttl)
		g.conn6.SetMulticastLoopback(g.ttl == 0)
		for _, intf := range intfs {
			if intf.Flags&net.FlagMulticast == 0 {
				continue
			}
			if err := g.conn6.JoinGroup(&intf, &net.UDPAddr{IP: gip}); err == nil {
				joined++
			}
		}
	}
	if joined == 0 {
		return fmt.Errorf("ssdp: no multicast interfaces available for %s", g.group)
	}

	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	bs := make([]byte, 65536)
	for {
		n, _, src, err := readFrom(g, bs)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if debug {
				l.Debugln("ssdp: read", g.group, err)
			}
			return err
		}
		c := make([]byte, n)
		copy(c, bs[:n])
		udpSrc, _ := src.(*net.UDPAddr)
		select {
		case g.outbox <- Packet{Data: c, Src: udpSrc}:
		default:
			if debug {
				l.Debugln("ssdp: dropping datagram, outbox full")
			}
		}
	}
}

func readFrom(g *groupService, bs []byte) (int, interface{}, net.Addr, error) {
	if g.fam == familyV4 {
		n, cm, src, err := g.conn4.ReadFrom(bs)
		return n, cm, src, err
	}
	n, cm, src, err := g.conn6.ReadFrom(bs)
	return n, cm, src, err
}

func (g *groupService) send(payload []byte, unicast *unicastTarget) error {
	if unicast != nil {
		return g.sendTo(payload, unicast.addr, unicast.ifIndex)
	}

	host, _, err := net.SplitHostPort(g.group)
	if err != nil {
		return err
	}
	dst := &net.UDPAddr{IP: net.ParseIP(host), Port: portInt(g.group)}

	intfs, err := net.Interfaces()
	if err != nil {
		return err
	}
	var sent int
	for _, intf := range intfs {
		if intf.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := g.sendTo(payload, dst, intf.Index); err == nil {
			sent++
		} else if debug {
			l.Debugln("ssdp: send on", intf.Name, err)
		}
		time.Sleep(0) // placeholder for caller-side SSDP_PAUSE between interfaces
	}
	if sent == 0 {
		return fmt.Errorf("ssdp: send to %s failed on every interface", g.group)
	}
	return nil
}

func (g *groupService) sendTo(payload []byte, dst *net.UDPAddr, ifIndex int) error {
	if g.fam == familyV4 {
		if g.conn4 == nil {
			return fmt.Errorf("ssdp: %s socket not ready", g.group)
		}
		cm := &ipv4.ControlMessage{IfIndex: ifIndex}
		_, err := g.conn4.WriteTo(payload, cm, dst)
		return err
	}
	if g.conn6 == nil {
		return fmt.Errorf("ssdp: %s socket not ready", g.group)
	}
	cm := &ipv6.ControlMessage{IfIndex: ifIndex, HopLimit: g.ttl}
	_, err := g.conn6.WriteTo(payload, cm, dst)
	return err
}

func portOf(hostport string) string {
	_, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return "1900"
	}
	return port
}

func portInt(hostport string) int {
	_, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return 1900
	}
	var n int
	fmt.Sscanf(port, "%d", &n)
	return n
}

// setReuseAddr lets every joined group bind the same SSDP port, the way
// every pupnp-family SSDP implementation must since several groups share
// port 1900.
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
