package ssdp

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/httpmsg"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/registry"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/workerpool"
)

// Discovery callback events, delivered through the owning handle's
// Callback(event int, data interface{}) exactly as spec.md §6 describes.
const (
	EventAdvertisementAlive = iota + 100
	EventAdvertisementByebye
	EventSearchResult
	EventSearchTimeout
)

// SSDPPause is the gap the engine holds between successive multicast
// packets of the same advertisement round, per spec.md §4.7.
const SSDPPause = 100 * time.Millisecond

// DiscoveryEvent is the payload of an alive/byebye callback.
type DiscoveryEvent struct {
	NT       string
	USN      string
	Location string
	MaxAge   int
}

// SearchResult is the payload of a search-result callback.
type SearchResult struct {
	ST       string
	USN      string
	Location string
	MaxAge   int
}

// deviceAd is the engine's own record of an advertised root device,
// separate from lib/registry's handle table: the registry tracks
// subscriptions and SOAP/GENA bookkeeping, this tracks what an M-SEARCH
// is allowed to match against.
type deviceAd struct {
	handle       int
	udn          string
	deviceType   string
	serviceTypes []string
	location     string
	maxAge       int
	reAdvertise  workerpool.Handle
}

type pendingSearch struct {
	id          uint64
	cpHandle    int
	requestType string
	target      string
	timer       workerpool.Handle
}

// Engine ties the multicast transport to the registry and thread pool:
// it advertises registered root devices, answers M-SEARCH, and tracks a
// control point's outstanding searches. Grounded on discover/discover.go's
// goroutine read/announce loop, replacing the XDR node-announcement
// packet with SSDP NOTIFY/M-SEARCH framing and USN-based matching.
type Engine struct {
	reg       *registry.Registry
	transport *Transport
	pool      *workerpool.Pool
	seen      Dedup
	replyRate *rate.Limiter

	bootID   int32
	configID int32

	mut      sync.Mutex
	devices  map[int]*deviceAd
	searches map[uint64]*pendingSearch
	nextID   uint64
}

// NewEngine wires a transport, registry and worker pool into a running
// SSDP engine. bootID is the BOOTID.UPNP.ORG value carried in every
// advertisement and search reply; upnpcore.Init passes the current Unix
// time in seconds.
func NewEngine(reg *registry.Registry, transport *Transport, pool *workerpool.Pool, bootID int) *Engine {
	return &Engine{
		reg:       reg,
		transport: transport,
		pool:      pool,
		seen:      NewMemDedup(2048),
		replyRate: rate.NewLimiter(rate.Limit(50), 10),
		bootID:    int32(bootID),
		configID:  1,
		devices:   make(map[int]*deviceAd),
		searches:  make(map[uint64]*pendingSearch),
	}
}

// SetDedup overrides the default in-memory dedup store, e.g. with
// NewLevelDBDedup for persistence across restarts.
func (e *Engine) SetDedup(d Dedup) {
	e.mut.Lock()
	defer e.mut.Unlock()
	old := e.seen
	e.seen = d
	old.Close()
}

// Serve drives the transport's receive loop until ctx is cancelled.
func (e *Engine) Serve(ctx context.Context) error {
	recv := e.transport.Recv()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-recv:
			if !ok {
				return nil
			}
			e.handlePacket(pkt)
		}
	}
}

func (e *Engine) handlePacket(pkt Packet) {
	msg, err := ParseDatagram(pkt.Data)
	if err != nil {
		if debug {
			l.Debugln("ssdp: drop malformed datagram from", pkt.Src, err)
		}
		return
	}

	switch {
	case msg.IsRequest && msg.Method == httpmsg.MethodMSearch:
		e.handleSearchRequest(pkt, msg)
	case msg.IsRequest && msg.Method == httpmsg.MethodNotify:
		e.handleNotify(msg)
	case !msg.IsRequest && msg.StatusCode == 200:
		e.handleSearchReply(msg)
	}
}

// AdvertiseRootDevice sends the three ssdp:alive advertisements spec.md
// §4.7 names for a root device (rootdevice, UDN, deviceType) plus one per
// service type, three times each with SSDPPause between packets, then
// schedules the max-age/2
// periodic refresh.
func (e *Engine) AdvertiseRootDevice(handle int, udn, deviceType string, serviceTypes []string, location string, maxAge int) error {
	ad := &deviceAd{
		handle:       handle,
		udn:          udn,
		deviceType:   deviceType,
		serviceTypes: serviceTypes,
		location:     location,
		maxAge:       maxAge,
	}

	e.mut.Lock()
	e.devices[handle] = ad
	e.mut.Unlock()

	e.sendAliveRound(ad)
	e.scheduleReAdvertise(ad)
	return nil
}

func (e *Engine) scheduleReAdvertise(ad *deviceAd) {
	delay := time.Duration(ad.maxAge/2) * time.Second
	if delay <= 0 {
		delay = 15 * time.Second
	}
	ad.reAdvertise = e.pool.Schedule(delay, workerpool.REL, workerpool.Job{
		Run: func(ctx context.Context) {
			e.mut.Lock()
			cur, ok := e.devices[ad.handle]
			e.mut.Unlock()
			if !ok {
				return
			}
			e.sendAliveRound(cur)
			e.scheduleReAdvertise(cur)
		},
	}, workerpool.LOW)
}

func (e *Engine) sendAliveRound(ad *deviceAd) {
	for _, usn := range e.usnTriples(ad) {
		for i := 0; i < 3; i++ {
			msg := BuildNotifyAlive(AliveParams{
				NT:       usn.nt,
				USN:      usn.usn,
				Location: ad.location,
				MaxAge:   ad.maxAge,
				BootID:   int(atomic.LoadInt32(&e.bootID)),
				ConfigID: int(atomic.LoadInt32(&e.configID)),
			})
			if err := e.transport.SendMulticast(GroupV4, msg); err != nil && debug {
				l.Debugln("ssdp: advertise alive:", err)
			}
			time.Sleep(SSDPPause)
		}
	}
}

// WithdrawRootDevice sends ssdp:byebye three times for each NT the device
// was advertised under, cancels its re-advertise timer, and forgets it.
func (e *Engine) WithdrawRootDevice(handle int) error {
	e.mut.Lock()
	ad, ok := e.devices[handle]
	delete(e.devices, handle)
	e.mut.Unlock()
	if !ok {
		return fmt.Errorf("ssdp: handle %d is not advertised", handle)
	}
	if ad.reAdvertise != 0 {
		e.pool.Remove(ad.reAdvertise)
	}

	for _, usn := range e.usnTriples(ad) {
		for i := 0; i < 3; i++ {
			msg := BuildNotifyByebye(ByebyeParams{NT: usn.nt, USN: usn.usn, BootID: int(atomic.LoadInt32(&e.bootID))})
			if err := e.transport.SendMulticast(GroupV4, msg); err != nil && debug {
				l.Debugln("ssdp: advertise byebye:", err)
			}
			time.Sleep(SSDPPause)
		}
	}
	return nil
}

// Readvertise re-sends the ssdp:alive burst for an already-advertised
// root device without rescheduling its periodic refresh timer, used by
// the public SendAdvertisement operation. maxAge<=0 keeps the
// previously advertised value.
func (e *Engine) Readvertise(handle int, maxAge int) error {
	e.mut.Lock()
	ad, ok := e.devices[handle]
	if ok && maxAge > 0 {
		ad.maxAge = maxAge
	}
	e.mut.Unlock()
	if !ok {
		return fmt.Errorf("ssdp: handle %d is not advertised", handle)
	}
	e.sendAliveRound(ad)
	return nil
}

type usnPair struct{ nt, usn string }

func (e *Engine) usnTriples(ad *deviceAd) []usnPair {
	out := []usnPair{
		{nt: "upnp:rootdevice", usn: ad.udn + "::upnp:rootdevice"},
		{nt: ad.udn, usn: ad.udn},
		{nt: ad.deviceType, usn: ad.udn + "::" + ad.deviceType},
	}
	for _, st := range ad.serviceTypes {
		out = append(out, usnPair{nt: st, usn: ad.udn + "::" + st})
	}
	return out
}

// handleSearchRequest replies to an incoming M-SEARCH against every
// advertised device whose NT/USN matches, per spec.md §4.7's search
// matching rules. A missing/malformed MAN or MX drops the request
// silently.
func (e *Engine) handleSearchRequest(pkt Packet, msg *httpmsg.Message) {
	man, ok := msg.HeaderValue("MAN")
	if !ok || !strings.Contains(man, "ssdp:discover") {
		return
	}
	mxStr, _ := msg.HeaderValue("MX")
	mx, err := strconv.Atoi(strings.TrimSpace(mxStr))
	if err != nil {
		return
	}
	if mx < 1 {
		mx = 1
	} else if mx > 5 {
		mx = 5
	}

	st, ok := msg.HeaderValue("ST")
	if !ok {
		return
	}

	e.mut.Lock()
	ads := make([]*deviceAd, 0, len(e.devices))
	for _, ad := range e.devices {
		ads = append(ads, ad)
	}
	e.mut.Unlock()

	for _, ad := range ads {
		for _, usn := range e.matchSearchTarget(ad, st) {
			e.scheduleSearchReply(pkt, usn, ad, mx)
		}
	}
}

// matchSearchTarget returns the NT/USN pairs (and reply ST) an M-SEARCH
// target matches against one advertised device.
func (e *Engine) matchSearchTarget(ad *deviceAd, st string) []usnPair {
	switch {
	case st == "ssdp:all":
		return e.usnTriples(ad)
	case st == "upnp:rootdevice":
		return []usnPair{{nt: "upnp:rootdevice", usn: ad.udn + "::upnp:rootdevice"}}
	case st == "uuid:"+ad.udn || st == ad.udn:
		return []usnPair{{nt: ad.udn, usn: ad.udn}}
	case versionTolerantMatch(st, ad.deviceType):
		return []usnPair{{nt: st, usn: ad.udn + "::" + ad.deviceType}}
	default:
		for _, svc := range ad.serviceTypes {
			if versionTolerantMatch(st, svc) {
				return []usnPair{{nt: st, usn: ad.udn + "::" + svc}}
			}
		}
	}
	return nil
}

// versionTolerantMatch accepts an M-SEARCH requesting a version <= the
// advertised one for the same type prefix, per spec.md §4.7's "lower
// version requests may be answered" rule.
func versionTolerantMatch(requested, advertised string) bool {
	rBase, rVer, ok1 := splitVersion(requested)
	aBase, aVer, ok2 := splitVersion(advertised)
	if !ok1 || !ok2 || rBase != aBase {
		return false
	}
	return rVer <= aVer
}

func splitVersion(urn string) (base string, ver int, ok bool) {
	idx := strings.LastIndex(urn, ":")
	if idx < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(urn[idx+1:])
	if err != nil {
		return "", 0, false
	}
	return urn[:idx], n, true
}

func (e *Engine) scheduleSearchReply(pkt Packet, usn usnPair, ad *deviceAd, mx int) {
	if !e.replyRate.Allow() {
		if debug {
			l.Debugln("ssdp: dropping search reply, rate limited")
		}
		return
	}

	fudge := time.Duration(rand.Float64()*float64(mx)/10.0*float64(time.Second))
	delay := time.Duration(rand.Intn(mx)) * time.Second
	if delay > fudge {
		delay -= fudge
	} else {
		delay = 0
	}

	e.pool.Schedule(delay, workerpool.REL, workerpool.Job{
		Run: func(ctx context.Context) {
			reply := BuildSearchReply(ReplyParams{
				ST:       usn.nt,
				USN:      usn.usn,
				Location: ad.location,
				MaxAge:   ad.maxAge,
				BootID:   int(atomic.LoadInt32(&e.bootID)),
				ConfigID: int(atomic.LoadInt32(&e.configID)),
			})
			if err := e.transport.SendUnicast(pkt.Src, pkt.IfIndex, reply); err != nil && debug {
				l.Debugln("ssdp: search reply:", err)
			}
		},
	}, workerpool.HIGH)
}

// handleNotify dispatches ssdp:alive/ssdp:byebye to every registered
// control point, regardless of any active search, per spec.md §4.7.
func (e *Engine) handleNotify(msg *httpmsg.Message) {
	nts, ok := msg.HeaderValue("NTS")
	if !ok {
		return
	}
	usn, _ := msg.HeaderValue("USN")
	nt, _ := msg.HeaderValue("NT")

	dedupKey := nts + "|" + usn
	if e.seen.Seen(dedupKey) {
		return
	}

	switch nts {
	case "ssdp:alive":
		maxAgeStr, ok := msg.HeaderValue("CACHE-CONTROL")
		maxAge, valid := parseMaxAge(maxAgeStr)
		if !ok || !valid {
			if debug {
				l.Debugln("ssdp: dropping alive with missing/invalid MAX-AGE")
			}
			return
		}
		loc, _ := msg.HeaderValue("LOCATION")
		ev := DiscoveryEvent{NT: nt, USN: usn, Location: loc, MaxAge: maxAge}
		e.notifyControlPoints(EventAdvertisementAlive, ev)
	case "ssdp:byebye":
		ev := DiscoveryEvent{NT: nt, USN: usn}
		e.notifyControlPoints(EventAdvertisementByebye, ev)
	}
}

// parseMaxAge extracts the max-age value from a CACHE-CONTROL header,
// rejecting a missing or non-positive value per spec.md §4.7's
// validation rule.
func parseMaxAge(cacheControl string) (int, bool) {
	idx := strings.Index(strings.ToLower(cacheControl), "max-age=")
	if idx < 0 {
		return 0, false
	}
	rest := cacheControl[idx+len("max-age="):]
	if comma := strings.IndexByte(rest, ','); comma >= 0 {
		rest = rest[:comma]
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func (e *Engine) handleSearchReply(msg *httpmsg.Message) {
	st, _ := msg.HeaderValue("ST")
	usn, _ := msg.HeaderValue("USN")
	loc, _ := msg.HeaderValue("LOCATION")
	maxAge, _ := parseMaxAge(firstHeader(msg, "CACHE-CONTROL"))

	e.mut.Lock()
	var matched []*pendingSearch
	for _, s := range e.searches {
		if s.requestType == "ssdp:all" || s.target == st {
			matched = append(matched, s)
		}
	}
	e.mut.Unlock()

	for _, s := range matched {
		e.dispatchSearchResult(s.cpHandle, SearchResult{ST: st, USN: usn, Location: loc, MaxAge: maxAge})
	}
}

func firstHeader(msg *httpmsg.Message, name string) string {
	v, _ := msg.HeaderValue(name)
	return v
}

func (e *Engine) dispatchSearchResult(cpHandle int, res SearchResult) {
	cp, err := e.reg.ControlPoint(cpHandle)
	if err != nil {
		return
	}
	e.pool.AddJob(workerpool.Job{
		Run: func(ctx context.Context) {
			cp.Callback(EventSearchResult, res)
		},
	}, workerpool.MED)
}

func (e *Engine) notifyControlPoints(event int, data DiscoveryEvent) {
	for h := 1; h <= registry.MaxHandles; h++ {
		cp, err := e.reg.ControlPoint(h)
		if err != nil {
			continue
		}
		e.pool.AddJob(workerpool.Job{
			Run: func(ctx context.Context) { cp.Callback(event, data) },
		}, workerpool.LOW)
	}
}

// Search issues an M-SEARCH for st, delivering UPNP_DISCOVERY_SEARCH_RESULT
// callbacks on cpHandle as replies arrive and UPNP_DISCOVERY_SEARCH_TIMEOUT
// once timeout elapses with the search still outstanding.
func (e *Engine) Search(cpHandle int, st string, mx int, timeout time.Duration) error {
	if _, err := e.reg.ControlPoint(cpHandle); err != nil {
		return err
	}
	if mx < 1 {
		mx = 1
	} else if mx > 5 {
		mx = 5
	}

	e.mut.Lock()
	id := e.nextID
	e.nextID++
	ps := &pendingSearch{id: id, cpHandle: cpHandle, requestType: st, target: st}
	e.searches[id] = ps
	e.mut.Unlock()

	ps.timer = e.pool.Schedule(timeout, workerpool.REL, workerpool.Job{
		Run: func(ctx context.Context) {
			e.mut.Lock()
			delete(e.searches, id)
			e.mut.Unlock()
			cp, err := e.reg.ControlPoint(cpHandle)
			if err != nil {
				return
			}
			cp.Callback(EventSearchTimeout, st)
		},
	}, workerpool.LOW)

	return e.transport.SendMulticast(GroupV4, BuildMSearch(st, mx))
}
