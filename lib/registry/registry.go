// Package registry implements the fixed-capacity handle table shared by
// device and control-point records, plus the SID-indexed secondary index
// GENA subscriptions are looked up through. See spec.md §4.8.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/upnperr"
)

// sidIndexCapacity bounds the SID->handle secondary index well above
// MaxHandles*typical-subscriptions-per-device, so eviction only ever
// touches entries whose owning device has long since gone away.
const sidIndexCapacity = 4096

// MaxHandles is the fixed handle-table capacity named in spec.md §4.8.
const MaxHandles = 200

// Kind discriminates what a handle's slot holds.
type Kind int

const (
	KindRootDevice Kind = iota
	KindControlPoint
)

// ServiceSubscription is a device-side subscriber record.
type ServiceSubscription struct {
	SID        string
	EventURL   string
	EventKey   uint32
	Expires    time.Time
	ServiceID  string
	mut        sync.Mutex // serializes NOTIFY delivery per spec.md §5
	drain      sync.WaitGroup
}

// NextEventKey returns the next key to use on a NOTIFY, wrapping from
// UINT32_MAX back to 1 (0 is reserved for the initial NOTIFY) per
// spec.md §4.8.
func (s *ServiceSubscription) NextEventKey() uint32 {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.EventKey == ^uint32(0) {
		s.EventKey = 1
	} else {
		s.EventKey++
	}
	return s.EventKey
}

// Lock/Unlock serialize NOTIFY delivery for this subscription so events
// are always sent in ascending event-key order.
func (s *ServiceSubscription) Lock()   { s.mut.Lock() }
func (s *ServiceSubscription) Unlock() { s.mut.Unlock() }

// BeginDelivery/EndDelivery bracket an in-flight NOTIFY so UnregisterRootDevice
// can drain outstanding deliveries before tearing the record down, per
// SPEC_FULL.md §12.
func (s *ServiceSubscription) BeginDelivery() { s.drain.Add(1) }
func (s *ServiceSubscription) EndDelivery()   { s.drain.Done() }
func (s *ServiceSubscription) Wait()          { s.drain.Wait() }

// ClientSubscription is a control-point-side subscription record.
type ClientSubscription struct {
	SID         string
	PublisherURL string
	EventURL    string // our CALLBACK address, recorded for diagnostics
	Infinite    bool
	RenewTimer  interface{} // opaque handle from lib/workerpool, owned by lib/gena
	Expires     time.Time
}

// DeviceRecord is a registered root device.
type DeviceRecord struct {
	Handle        int
	DescURL       string
	Callback      func(event int, data interface{})
	Cookie        interface{}
	UDN           string

	mut           sync.RWMutex
	subscriptions map[string]*ServiceSubscription // SID -> subscription
}

func newDeviceRecord(handle int, descURL, udn string, cb func(int, interface{}), cookie interface{}) *DeviceRecord {
	return &DeviceRecord{
		Handle:        handle,
		DescURL:       descURL,
		UDN:           udn,
		Callback:      cb,
		Cookie:        cookie,
		subscriptions: make(map[string]*ServiceSubscription),
	}
}

// AddSubscription registers sub under a freshly generated UUIDv1 SID and
// returns it.
func (d *DeviceRecord) AddSubscription(eventURL, serviceID string, timeout time.Duration) *ServiceSubscription {
	d.mut.Lock()
	defer d.mut.Unlock()
	sub := &ServiceSubscription{
		SID:       "uuid:" + newSID(),
		EventURL:  eventURL,
		ServiceID: serviceID,
		Expires:   time.Now().Add(timeout),
	}
	d.subscriptions[sub.SID] = sub
	return sub
}

func (d *DeviceRecord) Subscription(sid string) (*ServiceSubscription, bool) {
	d.mut.RLock()
	defer d.mut.RUnlock()
	s, ok := d.subscriptions[sid]
	return s, ok
}

func (d *DeviceRecord) RemoveSubscription(sid string) {
	d.mut.Lock()
	sub, ok := d.subscriptions[sid]
	delete(d.subscriptions, sid)
	d.mut.Unlock()
	if ok {
		sub.Wait()
	}
}

// Subscriptions returns a snapshot of every active subscription, safe to
// range over without holding the registry lock.
func (d *DeviceRecord) Subscriptions() []*ServiceSubscription {
	d.mut.RLock()
	defer d.mut.RUnlock()
	out := make([]*ServiceSubscription, 0, len(d.subscriptions))
	for _, s := range d.subscriptions {
		out = append(out, s)
	}
	return out
}

func newSID() string {
	id, err := uuid.NewUUID() // v1: time-based, matching spec.md's "fresh SID (UUID v1)"
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ControlPointRecord is a registered control point.
type ControlPointRecord struct {
	Handle   int
	Callback func(event int, data interface{})
	Cookie   interface{}

	mut                  sync.RWMutex
	clientSubscriptions  map[string]*ClientSubscription // SID -> subscription
}

func newControlPointRecord(handle int, cb func(int, interface{}), cookie interface{}) *ControlPointRecord {
	return &ControlPointRecord{
		Handle:              handle,
		Callback:            cb,
		Cookie:              cookie,
		clientSubscriptions: make(map[string]*ClientSubscription),
	}
}

func (c *ControlPointRecord) AddSubscription(sub *ClientSubscription) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.clientSubscriptions[sub.SID] = sub
}

func (c *ControlPointRecord) Subscription(sid string) (*ClientSubscription, bool) {
	c.mut.RLock()
	defer c.mut.RUnlock()
	s, ok := c.clientSubscriptions[sid]
	return s, ok
}

func (c *ControlPointRecord) RemoveSubscription(sid string) {
	c.mut.Lock()
	defer c.mut.Unlock()
	delete(c.clientSubscriptions, sid)
}

// slot is one handle-table entry.
type slot struct {
	kind   Kind
	device *DeviceRecord
	cp     *ControlPointRecord
}

// Registry is the fixed-capacity (MaxHandles) handle table plus the SID
// secondary index. The zero value is not usable; use New.
type Registry struct {
	mut    sync.RWMutex          // HandleLock: acquire before touching any slot
	slots  [MaxHandles + 1]*slot // 1-indexed; 0 is never a valid handle
	sidIdx *lru.Cache[string, int]
}

// New creates an empty registry.
func New() *Registry {
	c, _ := lru.New[string, int](sidIndexCapacity)
	return &Registry{sidIdx: c}
}

// RegisterRootDevice allocates a handle for a new device record.
func (r *Registry) RegisterRootDevice(descURL, udn string, cb func(int, interface{}), cookie interface{}) (int, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	h, err := r.allocate()
	if err != nil {
		return 0, err
	}
	r.slots[h] = &slot{kind: KindRootDevice, device: newDeviceRecord(h, descURL, udn, cb, cookie)}
	return h, nil
}

// RegisterClient allocates a handle for a new control-point record.
func (r *Registry) RegisterClient(cb func(int, interface{}), cookie interface{}) (int, error) {
	r.mut.Lock()
	defer r.mut.Unlock()

	h, err := r.allocate()
	if err != nil {
		return 0, err
	}
	r.slots[h] = &slot{kind: KindControlPoint, cp: newControlPointRecord(h, cb, cookie)}
	return h, nil
}

func (r *Registry) allocate() (int, error) {
	for h := 1; h <= MaxHandles; h++ {
		if r.slots[h] == nil {
			return h, nil
		}
	}
	if debug {
		l.Debugln("registry: handle table full at", MaxHandles, "entries")
	}
	return 0, upnperr.OutOfMemory
}

// Device returns the device record at handle, under a read lock.
func (r *Registry) Device(handle int) (*DeviceRecord, error) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	s := r.slotAt(handle)
	if s == nil || s.kind != KindRootDevice {
		return nil, upnperr.InvalidHandle
	}
	return s.device, nil
}

// ControlPoint returns the control-point record at handle, under a read
// lock.
func (r *Registry) ControlPoint(handle int) (*ControlPointRecord, error) {
	r.mut.RLock()
	defer r.mut.RUnlock()
	s := r.slotAt(handle)
	if s == nil || s.kind != KindControlPoint {
		return nil, upnperr.InvalidHandle
	}
	return s.cp, nil
}

func (r *Registry) slotAt(handle int) *slot {
	if handle < 1 || handle > MaxHandles {
		return nil
	}
	return r.slots[handle]
}

// UnregisterRootDevice releases handle and every subscription parented to
// it, draining in-flight NOTIFY deliveries first (never holding the
// registry lock across that wait).
func (r *Registry) UnregisterRootDevice(handle int) error {
	r.mut.Lock()
	s := r.slotAt(handle)
	if s == nil || s.kind != KindRootDevice {
		r.mut.Unlock()
		return upnperr.InvalidHandle
	}
	dev := s.device
	r.slots[handle] = nil
	dev.mut.RLock()
	for sid := range dev.subscriptions {
		r.sidIdx.Remove(sid)
	}
	dev.mut.RUnlock()
	r.mut.Unlock()

	subs := dev.Subscriptions()
	if debug && len(subs) > 0 {
		l.Debugln("registry: draining", len(subs), "subscriptions for handle", handle)
	}
	for _, sub := range subs {
		sub.Wait()
	}
	return nil
}

// UnregisterClient releases handle.
func (r *Registry) UnregisterClient(handle int) error {
	r.mut.Lock()
	defer r.mut.Unlock()
	s := r.slotAt(handle)
	if s == nil || s.kind != KindControlPoint {
		return upnperr.InvalidHandle
	}
	r.slots[handle] = nil
	return nil
}

// Subscribe creates a fresh ServiceSubscription under the device at
// handle and indexes its SID for LookupBySID.
func (r *Registry) Subscribe(handle int, eventURL, serviceID string, timeout time.Duration) (*ServiceSubscription, error) {
	dev, err := r.Device(handle)
	if err != nil {
		return nil, err
	}
	sub := dev.AddSubscription(eventURL, serviceID, timeout)
	r.IndexSID(sub.SID, handle)
	return sub, nil
}

// Unsubscribe removes sid from the device at handle and from the SID
// index, draining any in-flight delivery first.
func (r *Registry) Unsubscribe(handle int, sid string) error {
	dev, err := r.Device(handle)
	if err != nil {
		return err
	}
	dev.RemoveSubscription(sid)
	r.sidIdx.Remove(sid)
	return nil
}

// IndexSID records that sid belongs to the device at handle, so
// LookupBySID can find the owning device without a linear scan.
func (r *Registry) IndexSID(sid string, handle int) {
	r.sidIdx.Add(sid, handle)
}

// LookupBySID finds the device owning sid, and the subscription itself.
func (r *Registry) LookupBySID(sid string) (*DeviceRecord, *ServiceSubscription, error) {
	handle, ok := r.sidIdx.Get(sid)
	if !ok {
		return nil, nil, upnperr.NotFound
	}
	dev, err := r.Device(handle)
	if err != nil {
		return nil, nil, err
	}
	sub, ok := dev.Subscription(sid)
	if !ok {
		return nil, nil, upnperr.NotFound
	}
	return dev, sub, nil
}
