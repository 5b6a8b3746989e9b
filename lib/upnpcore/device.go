package upnpcore

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

// AddressFamily selects which bound address a RegisterRootDevice variant
// advertises LOCATION headers against, per UpnpRegisterRootDevice3/4's
// address-family parameter.
type AddressFamily int

const (
	AfIPv4 AddressFamily = iota
	AfIPv6
	AfIPv6UlaGua
)

// RegisterRootDevice registers a root device whose description document
// already lives at descURL (served by the caller's own web server setup,
// or by this context's via AddVirtualDir/SetAlias). Returns a handle
// valid until UnRegisterRootDevice.
func (c *CoreContext) RegisterRootDevice(descURL string, callback func(event int, data interface{}), cookie interface{}) (int, error) {
	return c.registerRootDevice(descURL, callback, cookie)
}

// RegisterRootDevice2 registers a root device whose description document
// is supplied in memory rather than fetched from descURL; it is published
// at descURL's path via SetAlias before the handle is returned.
func (c *CoreContext) RegisterRootDevice2(descDoc []byte, descURL string, callback func(event int, data interface{}), cookie interface{}) (int, error) {
	path, err := requestURIOf(descURL)
	if err != nil {
		return 0, err
	}
	c.Web.SetAlias(path, descDoc)
	return c.registerRootDevice(descURL, callback, cookie)
}

// RegisterRootDevice3 is RegisterRootDevice with an explicit address
// family preference for the LOCATION header; af is not used, so it
// behaves exactly like RegisterRootDevice.
func (c *CoreContext) RegisterRootDevice3(descURL string, af AddressFamily, callback func(event int, data interface{}), cookie interface{}) (int, error) {
	_ = af
	return c.registerRootDevice(descURL, callback, cookie)
}

// RegisterRootDevice4 is RegisterRootDevice3 plus a CONFIGID.UPNP.ORG
// parameter; configID is not used, and the device's SSDP advertisements
// always carry CONFIGID.UPNP.ORG: 1.
func (c *CoreContext) RegisterRootDevice4(descURL string, af AddressFamily, configID int, callback func(event int, data interface{}), cookie interface{}) (int, error) {
	_ = af
	_ = configID
	return c.registerRootDevice(descURL, callback, cookie)
}

func (c *CoreContext) registerRootDevice(descURL string, callback func(event int, data interface{}), cookie interface{}) (int, error) {
	if err := c.requireInited(); err != nil {
		return 0, err
	}
	udn, err := newUDN()
	if err != nil {
		return 0, err
	}
	handle, err := c.Reg.RegisterRootDevice(descURL, udn, callback, cookie)
	if err != nil {
		return 0, err
	}
	return handle, nil
}

// UnRegisterRootDevice withdraws handle's SSDP advertisements, drops its
// GENA subscriptions, and frees its handle slot.
func (c *CoreContext) UnRegisterRootDevice(handle int) error {
	if err := c.requireInited(); err != nil {
		return err
	}
	_ = c.SSDP.WithdrawRootDevice(handle)
	return c.Reg.UnregisterRootDevice(handle)
}

// SendAdvertisement re-sends handle's ssdp:alive burst, optionally with a
// new max-age (expires, in seconds; 0 keeps the previously advertised
// value), per spec.md §6's External Interfaces "Device" row.
func (c *CoreContext) SendAdvertisement(handle int, expires int) error {
	if err := c.requireInited(); err != nil {
		return err
	}
	return c.SSDP.Readvertise(handle, expires)
}

// AdvertiseRootDevice is the one-time announcement call a host makes
// right after RegisterRootDevice, supplying the device/service types the
// SSDP engine advertises and answers M-SEARCH against.
func (c *CoreContext) AdvertiseRootDevice(handle int, deviceType string, serviceTypes []string, location string, maxAge int) error {
	if err := c.requireInited(); err != nil {
		return err
	}
	dev, err := c.Reg.Device(handle)
	if err != nil {
		return err
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return c.SSDP.AdvertiseRootDevice(handle, dev.UDN, deviceType, serviceTypes, location, maxAge)
}

// RegisterClient registers a control point and returns a handle used by
// SearchAsync and the SOAP/GENA client-side operations.
func (c *CoreContext) RegisterClient(callback func(event int, data interface{}), cookie interface{}) (int, error) {
	if err := c.requireInited(); err != nil {
		return 0, err
	}
	return c.Reg.RegisterClient(callback, cookie)
}

// UnRegisterClient frees handle's control-point slot. It does not cancel
// subscriptions or searches the handle started; search results and
// timeouts that arrive later for the freed handle are dropped.
func (c *CoreContext) UnRegisterClient(handle int) error {
	if err := c.requireInited(); err != nil {
		return err
	}
	return c.Reg.UnregisterClient(handle)
}

// SearchAsync issues an M-SEARCH for target, delivering matching replies
// as DISCOVERY_SEARCH_RESULT and a single DISCOVERY_SEARCH_TIMEOUT
// callback mx seconds later, per spec.md §8's S3/testable-property 8.
func (c *CoreContext) SearchAsync(handle int, mx int, target string, cookie interface{}) error {
	if err := c.requireInited(); err != nil {
		return err
	}
	_ = cookie // not stored and not passed to any callback
	return c.SSDP.Search(handle, target, mx, secondsOrDefault(mx, 3))
}

func secondsOrDefault(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func requestURIOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", BadRequest
	}
	if u.Path == "" {
		return "/", nil
	}
	return u.Path, nil
}

func newUDN() (string, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return "", NetworkError
	}
	return "uuid:" + id.String(), nil
}
