package upnpcore

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/gena"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/registry"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/soap"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/webserver"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/workerpool"
)

// newDispatchTestContext builds a CoreContext wired for HTTP dispatch
// tests without binding a socket or running SSDP/HTTP goroutines.
func newDispatchTestContext(t *testing.T) *CoreContext {
	t.Helper()
	reg := registry.New()
	pool := workerpool.New(workerpool.DefaultConfig)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go pool.Serve(ctx)

	c := &CoreContext{
		Reg:              reg,
		Pool:             pool,
		Web:              &webserver.Server{},
		GENAPub:          gena.NewPublisher(reg, pool),
		SOAP:             soap.NewClient(reg, pool),
		maxContentLength: DefaultMaxContentLength,
		routes:           make(map[string]serviceRoute),
		lastState:        make(map[routeKey]map[string]string),
		virtualDirs:      make(map[string]*webserver.VirtualDir),
		allowLiteralHost: true,
		inited:           true,
	}
	return c
}

func TestRootHandlerSubscribeNewAndRenew(t *testing.T) {
	c := newDispatchTestContext(t)

	handle, err := c.Reg.RegisterRootDevice("http://127.0.0.1/d.xml", "uuid:test", nil, nil)
	require.NoError(t, err)
	c.RegisterEventSubURL(handle, "urn:upnp-org:serviceId:Tuner", "/events/tuner")
	require.NoError(t, c.Notify(handle, "urn:upnp-org:serviceId:Tuner", map[string]string{"Channel": "5"}))

	handler := c.rootHandler()

	req := httptest.NewRequest("SUBSCRIBE", "/events/tuner", nil)
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("CALLBACK", "<http://127.0.0.1:9/cb>")
	req.Header.Set("TIMEOUT", "Second-1800")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	resp := w.Result()
	require.Equal(t, 200, resp.StatusCode)
	sid := resp.Header.Get("SID")
	assert.NotEmpty(t, sid)
	assert.Equal(t, "Second-1800", resp.Header.Get("TIMEOUT"))

	renew := httptest.NewRequest("SUBSCRIBE", "/events/tuner", nil)
	renew.Header.Set("SID", sid)
	renew.Header.Set("TIMEOUT", "Second-1800")
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, renew)
	assert.Equal(t, 200, w2.Result().StatusCode)
	assert.Equal(t, sid, w2.Result().Header.Get("SID"))
}

func TestRootHandlerSubscribeMissingCallbackRejected(t *testing.T) {
	c := newDispatchTestContext(t)
	handle, err := c.Reg.RegisterRootDevice("http://127.0.0.1/d.xml", "uuid:test", nil, nil)
	require.NoError(t, err)
	c.RegisterEventSubURL(handle, "urn:upnp-org:serviceId:Tuner", "/events/tuner")

	req := httptest.NewRequest("SUBSCRIBE", "/events/tuner", nil)
	req.Header.Set("NT", "upnp:event")
	w := httptest.NewRecorder()
	c.rootHandler().ServeHTTP(w, req)
	assert.Equal(t, 412, w.Result().StatusCode)
}

func TestRootHandlerUnsubscribe(t *testing.T) {
	c := newDispatchTestContext(t)
	handle, err := c.Reg.RegisterRootDevice("http://127.0.0.1/d.xml", "uuid:test", nil, nil)
	require.NoError(t, err)
	c.RegisterEventSubURL(handle, "urn:upnp-org:serviceId:Tuner", "/events/tuner")

	handler := c.rootHandler()
	sub := httptest.NewRequest("SUBSCRIBE", "/events/tuner", nil)
	sub.Header.Set("NT", "upnp:event")
	sub.Header.Set("CALLBACK", "<http://127.0.0.1:9/cb>")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, sub)
	sid := w.Result().Header.Get("SID")
	require.NotEmpty(t, sid)

	unsub := httptest.NewRequest("UNSUBSCRIBE", "/events/tuner", nil)
	unsub.Header.Set("SID", sid)
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, unsub)
	assert.Equal(t, 200, w2.Result().StatusCode)

	w3 := httptest.NewRecorder()
	handler.ServeHTTP(w3, unsub)
	assert.Equal(t, 412, w3.Result().StatusCode)
}

func TestRootHandlerSOAPActionDispatch(t *testing.T) {
	c := newDispatchTestContext(t)

	var seenAction string
	handle, err := c.Reg.RegisterRootDevice("http://127.0.0.1/d.xml", "uuid:test", func(event int, data interface{}) {
		if event == soap.EventActionRequest {
			req := data.(*soap.ActionRequest)
			seenAction = req.Action
			req.Response = []byte(`<u:SetChannelResponse xmlns:u="urn:schemas-upnp-org:service:Tuner:1"></u:SetChannelResponse>`)
		}
	}, nil)
	require.NoError(t, err)
	c.RegisterControlURL(handle, "urn:upnp-org:serviceId:Tuner", "/control/tuner")

	body := `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body><u:SetChannel xmlns:u="urn:schemas-upnp-org:service:Tuner:1"><Channel>5</Channel></u:SetChannel></s:Body>
</s:Envelope>`
	req := httptest.NewRequest("POST", "/control/tuner", strings.NewReader(body))
	req.Header.Set("SOAPACTION", `"urn:schemas-upnp-org:service:Tuner:1#SetChannel"`)
	w := httptest.NewRecorder()
	c.rootHandler().ServeHTTP(w, req)

	assert.Equal(t, 200, w.Result().StatusCode)
	assert.Equal(t, "SetChannel", seenAction)
	assert.Contains(t, w.Body.String(), "SetChannelResponse")
}

func TestRootHandlerQueryStateVariable(t *testing.T) {
	c := newDispatchTestContext(t)
	handle, err := c.Reg.RegisterRootDevice("http://127.0.0.1/d.xml", "uuid:test", func(event int, data interface{}) {
		if event == soap.EventGetVarRequest {
			req := data.(*soap.GetVarRequest)
			req.Value = "5"
		}
	}, nil)
	require.NoError(t, err)
	c.RegisterControlURL(handle, "urn:upnp-org:serviceId:Tuner", "/control/tuner")

	body := `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body><u:QueryStateVariable xmlns:u="urn:schemas-upnp-org:control-1-0"><varName>Channel</varName></u:QueryStateVariable></s:Body>
</s:Envelope>`
	req := httptest.NewRequest("POST", "/control/tuner", strings.NewReader(body))
	req.Header.Set("SOAPACTION", `"urn:schemas-upnp-org:control-1-0#QueryStateVariable"`)
	w := httptest.NewRecorder()
	c.rootHandler().ServeHTTP(w, req)

	assert.Equal(t, 200, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), "5")
}

func TestRootHandlerUnknownPathFallsThroughToWebserver(t *testing.T) {
	c := newDispatchTestContext(t)
	c.Web.SetAlias("/description.xml", []byte("<root/>"))

	req := httptest.NewRequest("GET", "/description.xml", nil)
	w := httptest.NewRecorder()
	c.rootHandler().ServeHTTP(w, req)
	assert.Equal(t, 200, w.Result().StatusCode)
	assert.Equal(t, "<root/>", w.Body.String())
}

func TestRootHandlerRejectsLiteralHostWhenDisallowed(t *testing.T) {
	c := newDispatchTestContext(t)
	c.allowLiteralHost = false

	req := httptest.NewRequest("GET", "/description.xml", nil)
	req.Host = "127.0.0.1:80"
	w := httptest.NewRecorder()
	c.rootHandler().ServeHTTP(w, req)
	assert.Equal(t, 400, w.Result().StatusCode)
}
