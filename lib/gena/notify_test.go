package gena_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/gena"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/registry"
)

func TestAcceptSubscriptionRegistersWithRegistry(t *testing.T) {
	reg := registry.New()
	handle, err := reg.RegisterRootDevice("http://127.0.0.1:50001/desc.xml", "uuid:dev", func(event int, data interface{}) {}, nil)
	require.NoError(t, err)

	p := gena.NewPublisher(reg, newTestPool(t))
	sid, timeout, err := p.AcceptSubscription(handle, "urn:upnp-org:serviceId:Volume", "<http://127.0.0.1:51000/evt>", "Second-60", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sid)
	assert.Equal(t, 60*time.Second, timeout)

	dev, err := reg.Device(handle)
	require.NoError(t, err)
	sub, ok := dev.Subscription(sid)
	require.True(t, ok)
	assert.Equal(t, uint32(0), sub.EventKey)
}

func TestAcceptSubscriptionRejectsMissingCallback(t *testing.T) {
	reg := registry.New()
	handle, err := reg.RegisterRootDevice("http://127.0.0.1:50001/desc.xml", "uuid:dev", func(event int, data interface{}) {}, nil)
	require.NoError(t, err)

	p := gena.NewPublisher(reg, newTestPool(t))
	_, _, err = p.AcceptSubscription(handle, "urn:upnp-org:serviceId:Volume", "not-a-url", "Second-60", nil)
	assert.Error(t, err)
}

func TestNotifyDeliversAndAdvancesEventKey(t *testing.T) {
	received := make(chan string, 4)
	addr := startFakePublisher(t, func(line string, headers map[string]string) string {
		received <- headers["SEQ"]
		return "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"
	})

	reg := registry.New()
	handle, err := reg.RegisterRootDevice("http://127.0.0.1:50001/desc.xml", "uuid:dev", func(event int, data interface{}) {}, nil)
	require.NoError(t, err)

	p := gena.NewPublisher(reg, newTestPool(t))
	sid, _, err := p.AcceptSubscription(handle, "urn:upnp-org:serviceId:Volume", "<http://"+addr+"/evt>", "Second-60", map[string]string{"Volume": "5"})
	require.NoError(t, err)

	select {
	case seq := <-received:
		assert.Equal(t, "0", strings.TrimSpace(seq))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial NOTIFY")
	}

	err = p.Notify(handle, map[string]string{"Volume": "7"})
	require.NoError(t, err)

	select {
	case seq := <-received:
		assert.Equal(t, "1", strings.TrimSpace(seq))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second NOTIFY")
	}

	dev, err := reg.Device(handle)
	require.NoError(t, err)
	sub, ok := dev.Subscription(sid)
	require.True(t, ok)
	assert.Equal(t, uint32(1), sub.EventKey)
}

func TestRenewResetsExpirationKeepsEventKey(t *testing.T) {
	reg := registry.New()
	handle, err := reg.RegisterRootDevice("http://127.0.0.1:50001/desc.xml", "uuid:dev", func(event int, data interface{}) {}, nil)
	require.NoError(t, err)

	p := gena.NewPublisher(reg, newTestPool(t))
	sid, _, err := p.AcceptSubscription(handle, "urn:upnp-org:serviceId:Volume", "<http://127.0.0.1:51000/evt>", "Second-60", nil)
	require.NoError(t, err)

	dev, err := reg.Device(handle)
	require.NoError(t, err)
	sub, _ := dev.Subscription(sid)
	sub.NextEventKey()
	before := sub.Expires

	_, err = p.Renew(sid, "Second-120")
	require.NoError(t, err)
	assert.True(t, sub.Expires.After(before))
	assert.Equal(t, uint32(1), sub.EventKey)
}

func TestPublisherUnsubscribeRemovesRecord(t *testing.T) {
	reg := registry.New()
	handle, err := reg.RegisterRootDevice("http://127.0.0.1:50001/desc.xml", "uuid:dev", func(event int, data interface{}) {}, nil)
	require.NoError(t, err)

	p := gena.NewPublisher(reg, newTestPool(t))
	sid, _, err := p.AcceptSubscription(handle, "urn:upnp-org:serviceId:Volume", "<http://127.0.0.1:51000/evt>", "Second-60", nil)
	require.NoError(t, err)

	err = p.Unsubscribe(handle, sid)
	require.NoError(t, err)

	dev, err := reg.Device(handle)
	require.NoError(t, err)
	_, ok := dev.Subscription(sid)
	assert.False(t, ok)
}
