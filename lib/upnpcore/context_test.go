package upnpcore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/ssdp"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/upnpcore"
)

// TestInitFinishLifecycle covers spec.md §8's S1 scenario: Init("", 0) on
// a host with at least one non-loopback interface succeeds, exposes a
// usable port and address, and a second Finish reports ErrFinish.
func TestInitFinishLifecycle(t *testing.T) {
	c, err := upnpcore.Init("", 0)
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Finish()

	assert.True(t, c.IsInited())
	port := c.GetServerPort()
	assert.Greater(t, port, 0)
	assert.Less(t, port, 65536)

	assert.NoError(t, c.Finish())
	assert.False(t, c.IsInited())
	assert.ErrorIs(t, c.Finish(), upnpcore.ErrFinish)
}

func TestOperationsRequireInit(t *testing.T) {
	c, err := upnpcore.Init("", 0)
	require.NoError(t, err)
	require.NoError(t, c.Finish())

	_, err = c.RegisterRootDevice("http://127.0.0.1/d.xml", nil, nil)
	assert.ErrorIs(t, err, upnpcore.ErrFinish)

	_, err = c.RegisterClient(nil, nil)
	assert.ErrorIs(t, err, upnpcore.ErrFinish)
}

func TestSetMaxContentLength(t *testing.T) {
	c, err := upnpcore.Init("", 0)
	require.NoError(t, err)
	defer c.Finish()

	c.SetMaxContentLength(1024)
	// no direct getter is exposed, and no test sends a body over the
	// limit; this only checks that the call is accepted after Init.
}

func TestRegisterRootDeviceAdvertiseWithdraw(t *testing.T) {
	c, err := upnpcore.Init("", 0)
	require.NoError(t, err)
	defer c.Finish()

	handle, err := c.RegisterRootDevice("http://127.0.0.1:1/d.xml", nil, nil)
	require.NoError(t, err)
	assert.Greater(t, handle, 0)

	err = c.AdvertiseRootDevice(handle, "urn:schemas-upnp-org:device:tvdevice:1", nil, "http://127.0.0.1:1/d.xml", 100)
	require.NoError(t, err)

	require.NoError(t, c.SendAdvertisement(handle, 200))
	require.NoError(t, c.UnRegisterRootDevice(handle))
}

func TestRegisterClientAndSearchAsyncTimeout(t *testing.T) {
	c, err := upnpcore.Init("", 0)
	require.NoError(t, err)
	defer c.Finish()

	timedOut := make(chan struct{}, 1)
	handle, err := c.RegisterClient(func(event int, data interface{}) {
		if event == ssdp.EventSearchTimeout {
			select {
			case timedOut <- struct{}{}:
			default:
			}
		}
	}, nil)
	require.NoError(t, err)

	require.NoError(t, c.SearchAsync(handle, 1, "ssdp:all", nil))

	select {
	case <-timedOut:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for SEARCH_TIMEOUT callback")
	}
}

func TestWebserverConfigToggle(t *testing.T) {
	c, err := upnpcore.Init("", 0)
	require.NoError(t, err)
	defer c.Finish()

	dir := t.TempDir()
	c.SetWebServerRootDir(dir)
	assert.False(t, c.IsWebserverEnabled())

	c.EnableWebserver(true)
	assert.True(t, c.IsWebserverEnabled())

	c.EnableWebserver(false)
	assert.False(t, c.IsWebserverEnabled())
}
