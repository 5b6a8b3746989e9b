// Package upnpcore is the library's single entry point: it bundles every
// global resource named in spec.md §9's "Global mutable state" design note
// (document root, alias, device list, sockets, thread pool, timers) into
// one CoreContext value threaded explicitly through every operation,
// rather than hidden behind package-level globals. See SPEC_FULL.md §5.
package upnpcore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/automaxprocs"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/gena"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/netif"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/registry"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/soap"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/ssdp"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/webserver"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/workerpool"
)

// CoreContext is the handle every other operation in this package hangs
// off of. It is created by Init and torn down by Finish; a zero
// CoreContext is not usable.
type CoreContext struct {
	mut    sync.RWMutex
	inited bool

	ifaceName string
	addr4     net.IP
	addr6Link net.IP
	addr6Gua  net.IP
	port      int
	port6     int

	Reg       *registry.Registry
	Pool      *workerpool.Pool
	Transport *ssdp.Transport
	SSDP      *ssdp.Engine
	Web       *webserver.Server
	GENAClient *gena.Client
	GENAPub    *gena.Publisher
	SOAP       *soap.Client

	httpServer *http.Server
	listener   net.Listener
	cancel     context.CancelFunc

	maxContentLength int64

	routeMut    sync.RWMutex
	routes      map[string]serviceRoute
	lastState   map[routeKey]map[string]string
	virtualDirs map[string]*webserver.VirtualDir

	webRootDir       string
	webserverEnabled bool
	allowLiteralHost bool
	hostValidate     HostValidateFunc
}

type serviceRoute struct {
	handle    int
	serviceID string
	kind      routeKind
}

type routeKind int

const (
	routeControl routeKind = iota
	routeEvent
)

type routeKey struct {
	handle    int
	serviceID string
}

// Init selects a local network interface (by the same selector FindFirst
// accepts: "" for the default, a name, an address, or an index), starts
// the worker pool, SSDP engine, and embedded web server on it, and
// returns a ready CoreContext. port==0 lets the OS pick an ephemeral
// port, mirroring UpnpInit2's 0-means-any convention.
func Init(iface string, port int) (*CoreContext, error) {
	list, err := netif.GetFirst()
	if err != nil {
		return nil, fmt.Errorf("upnpcore: %w", err)
	}
	if !list.FindFirst(iface) {
		return nil, InvalidInterface
	}
	chosen := list.Current()

	c := &CoreContext{
		ifaceName:        chosen.Name(),
		maxContentLength: DefaultMaxContentLength,
		routes:           make(map[string]serviceRoute),
		lastState:        make(map[routeKey]map[string]string),
		virtualDirs:      make(map[string]*webserver.VirtualDir),
		allowLiteralHost: true, // UPnP devices are addressed by IP literal, not DNS, by default
	}
	if err := c.resolveAddresses(chosen.Index()); err != nil {
		return nil, err
	}

	c.Reg = registry.New()
	poolCfg := workerpool.DefaultConfig
	if procs := automaxprocs.Set(); procs > poolCfg.MinThreads {
		poolCfg.MinThreads = procs
		if poolCfg.MaxThreads < poolCfg.MinThreads {
			poolCfg.MaxThreads = poolCfg.MinThreads
		}
	}
	c.Pool = workerpool.New(poolCfg)
	c.Web = &webserver.Server{}
	c.Transport = ssdp.NewTransport(ssdp.DefaultTTL)
	c.SSDP = ssdp.NewEngine(c.Reg, c.Transport, c.Pool, int(time.Now().Unix()))
	c.GENAClient = gena.NewClient(c.Reg, c.Pool)
	c.GENAPub = gena.NewPublisher(c.Reg, c.Pool)
	c.SOAP = soap.NewClient(c.Reg, c.Pool)

	ln, err := net.Listen("tcp", netJoinHostPort(c.addr4, port))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", SocketBind, err)
	}
	c.listener = ln
	c.port = ln.Addr().(*net.TCPAddr).Port
	c.port6 = c.port

	c.httpServer = &http.Server{Handler: c.rootHandler()}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.Pool.Serve(ctx)
	go c.Transport.Serve(ctx)
	go c.SSDP.Serve(ctx)
	go func() {
		if err := c.httpServer.Serve(ln); err != nil && debug {
			l.Debugln("upnpcore: http server stopped:", err)
		}
	}()

	c.mut.Lock()
	c.inited = true
	c.mut.Unlock()
	return c, nil
}

// resolveAddresses scans every (interface, address) pair belonging to
// idx and buckets them into the IPv4/link-local-IPv6/ULA-GUA-IPv6 slots
// the addressing accessors read from.
func (c *CoreContext) resolveAddresses(idx int) error {
	list, err := netif.GetFirst()
	if err != nil {
		return fmt.Errorf("upnpcore: %w", err)
	}
	for {
		e := list.Current()
		if e.Index() == idx && !e.IsLoopback() {
			sa, err := e.SockAddr()
			if err == nil {
				ip := sa.IP()
				switch {
				case ip.To4() != nil:
					if c.addr4 == nil {
						c.addr4 = ip
					}
				case ip.IsLinkLocalUnicast():
					if c.addr6Link == nil {
						c.addr6Link = ip
					}
				default:
					if c.addr6Gua == nil {
						c.addr6Gua = ip
					}
				}
			}
		}
		if !list.GetNext() {
			break
		}
	}
	if c.addr4 == nil && c.addr6Link == nil && c.addr6Gua == nil {
		return InvalidInterface
	}
	return nil
}

// IsInited reports whether Init has succeeded and Finish has not yet
// been called.
func (c *CoreContext) IsInited() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return c.inited
}

// Finish tears a CoreContext down: stops accepting new HTTP/SSDP/pool
// work, withdraws every advertised root device, and releases the bound
// socket. A second Finish call returns ErrFinish, matching spec.md §7's
// named error for "operation requires a prior Init".
func (c *CoreContext) Finish() error {
	c.mut.Lock()
	if !c.inited {
		c.mut.Unlock()
		return ErrFinish
	}
	c.inited = false
	c.mut.Unlock()

	for h := 1; h <= registry.MaxHandles; h++ {
		if _, err := c.Reg.Device(h); err == nil {
			_ = c.SSDP.WithdrawRootDevice(h)
		}
	}
	c.cancel()
	_ = c.httpServer.Close()
	_ = c.listener.Close()
	c.Pool.Shutdown()
	return nil
}

// SetMaxContentLength caps the body of an inbound SOAP control request,
// which is rejected with 413 when larger, per SPEC_FULL.md §12's
// UpnpSetMaxContentLength carry-forward. No other HTTP body is checked
// against it.
func (c *CoreContext) SetMaxContentLength(n int64) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.maxContentLength = n
}

func (c *CoreContext) requireInited() error {
	if !c.IsInited() {
		return ErrFinish
	}
	return nil
}

func netJoinHostPort(ip net.IP, port int) string {
	host := "0.0.0.0"
	if ip != nil {
		host = ip.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
