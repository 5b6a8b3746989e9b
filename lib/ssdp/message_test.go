package ssdp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/httpmsg"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/ssdp"
)

func TestBuildNotifyAliveParsesBack(t *testing.T) {
	raw := ssdp.BuildNotifyAlive(ssdp.AliveParams{
		NT:       "upnp:rootdevice",
		USN:      "uuid:abc::upnp:rootdevice",
		Location: "http://127.0.0.1:49152/desc.xml",
		MaxAge:   1800,
		BootID:   1,
		ConfigID: 1,
	})

	msg, err := ssdp.ParseDatagram(raw)
	require.NoError(t, err)
	assert.True(t, msg.IsRequest)
	assert.Equal(t, httpmsg.MethodNotify, msg.Method)

	nts, ok := msg.HeaderValue("NTS")
	require.True(t, ok)
	assert.Equal(t, "ssdp:alive", nts)

	cc, ok := msg.HeaderValue("CACHE-CONTROL")
	require.True(t, ok)
	assert.Equal(t, "max-age=1800", cc)
}

func TestBuildNotifyByebyeParsesBack(t *testing.T) {
	raw := ssdp.BuildNotifyByebye(ssdp.ByebyeParams{NT: "upnp:rootdevice", USN: "uuid:abc::upnp:rootdevice"})
	msg, err := ssdp.ParseDatagram(raw)
	require.NoError(t, err)
	nts, ok := msg.HeaderValue("NTS")
	require.True(t, ok)
	assert.Equal(t, "ssdp:byebye", nts)
}

func TestBuildMSearchParsesBack(t *testing.T) {
	raw := ssdp.BuildMSearch("ssdp:all", 3)
	msg, err := ssdp.ParseDatagram(raw)
	require.NoError(t, err)
	assert.True(t, msg.IsRequest)
	assert.Equal(t, httpmsg.MethodMSearch, msg.Method)

	man, ok := msg.HeaderValue("MAN")
	require.True(t, ok)
	assert.Contains(t, man, "ssdp:discover")

	mx, ok := msg.HeaderValue("MX")
	require.True(t, ok)
	assert.Equal(t, "3", mx)
}

func TestBuildSearchReplyParsesBackAsResponse(t *testing.T) {
	raw := ssdp.BuildSearchReply(ssdp.ReplyParams{
		ST:       "upnp:rootdevice",
		USN:      "uuid:abc::upnp:rootdevice",
		Location: "http://127.0.0.1:49152/desc.xml",
		MaxAge:   1800,
	})

	msg, err := ssdp.ParseDatagram(raw)
	require.NoError(t, err)
	assert.False(t, msg.IsRequest)
	assert.Equal(t, 200, msg.StatusCode)

	st, ok := msg.HeaderValue("ST")
	require.True(t, ok)
	assert.Equal(t, "upnp:rootdevice", st)
}

func TestParseDatagramRejectsGarbage(t *testing.T) {
	_, err := ssdp.ParseDatagram([]byte("not an http message at all\r\n\r\n"))
	assert.Error(t, err)
}
