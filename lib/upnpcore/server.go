package upnpcore

import (
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/registry"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/soap"
)

// RegisterControlURL mounts svcType's SOAP control endpoint at path, so
// an incoming POST with a matching SOAPACTION header is routed to
// handle's device callback as a CONTROL_ACTION_REQUEST. The description
// document the caller serves (via SetAlias/RegisterRootDevice2) is
// expected to advertise the same path as the service's controlURL.
func (c *CoreContext) RegisterControlURL(handle int, serviceID, path string) {
	c.routeMut.Lock()
	defer c.routeMut.Unlock()
	c.routes[path] = serviceRoute{handle: handle, serviceID: serviceID, kind: routeControl}
}

// RegisterEventSubURL mounts serviceID's GENA SUBSCRIBE/UNSUBSCRIBE
// endpoint at path, the service's eventSubURL.
func (c *CoreContext) RegisterEventSubURL(handle int, serviceID, path string) {
	c.routeMut.Lock()
	defer c.routeMut.Unlock()
	c.routes[path] = serviceRoute{handle: handle, serviceID: serviceID, kind: routeEvent}
}

func (c *CoreContext) lookupRoute(path string) (serviceRoute, bool) {
	c.routeMut.RLock()
	defer c.routeMut.RUnlock()
	r, ok := c.routes[path]
	return r, ok
}

// Notify publishes properties on serviceID to every current GENA
// subscriber of handle, caching them so the next AcceptSubscription's
// initial NOTIFY carries the latest known state.
func (c *CoreContext) Notify(handle int, serviceID string, properties map[string]string) error {
	if err := c.requireInited(); err != nil {
		return err
	}
	c.routeMut.Lock()
	key := routeKey{handle: handle, serviceID: serviceID}
	state := c.lastState[key]
	if state == nil {
		state = make(map[string]string, len(properties))
	}
	for k, v := range properties {
		state[k] = v
	}
	c.lastState[key] = state
	c.routeMut.Unlock()
	return c.GENAPub.Notify(handle, properties)
}

func (c *CoreContext) initialStateFor(handle int, serviceID string) map[string]string {
	c.routeMut.RLock()
	defer c.routeMut.RUnlock()
	return c.lastState[routeKey{handle: handle, serviceID: serviceID}]
}

// rootHandler builds the single HTTP entry point bound to the listening
// socket: GENA SUBSCRIBE/UNSUBSCRIBE, SOAP POST-with-SOAPACTION, and
// everything else (description XML, virtual dirs, static files) falling
// through to the embedded web server.
func (c *CoreContext) rootHandler() http.Handler {
	web := c.Web.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mut.RLock()
		validate := c.hostValidate
		allowLiteral := c.allowLiteralHost
		c.mut.RUnlock()
		if validate != nil && !validate(r.Host) {
			http.Error(w, "bad host", http.StatusBadRequest)
			return
		}
		if !allowLiteral {
			if host, _, err := net.SplitHostPort(r.Host); err == nil && net.ParseIP(host) != nil {
				http.Error(w, "literal host address not allowed", http.StatusBadRequest)
				return
			}
		}
		switch r.Method {
		case "SUBSCRIBE":
			c.handleSubscribe(w, r)
			return
		case "UNSUBSCRIBE":
			c.handleUnsubscribe(w, r)
			return
		}
		if r.Method == http.MethodPost {
			if action := r.Header.Get("SOAPACTION"); action != "" {
				c.handleSOAPAction(w, r, action)
				return
			}
		}
		web.ServeHTTP(w, r)
	})
}

func (c *CoreContext) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	route, ok := c.lookupRoute(r.URL.Path)
	if !ok || route.kind != routeEvent {
		http.NotFound(w, r)
		return
	}

	if sid := r.Header.Get("SID"); sid != "" {
		granted, err := c.GENAPub.Renew(sid, r.Header.Get("TIMEOUT"))
		if err != nil {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		w.Header().Set("SID", sid)
		w.Header().Set("TIMEOUT", timeoutHeaderFor(granted))
		w.WriteHeader(http.StatusOK)
		return
	}

	callback := r.Header.Get("CALLBACK")
	if r.Header.Get("NT") != "upnp:event" || callback == "" {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	initial := c.initialStateFor(route.handle, route.serviceID)
	sid, granted, err := c.GENAPub.AcceptSubscription(route.handle, route.serviceID, callback, r.Header.Get("TIMEOUT"), initial)
	if err != nil {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	w.Header().Set("SID", sid)
	w.Header().Set("TIMEOUT", timeoutHeaderFor(granted))
	w.WriteHeader(http.StatusOK)
}

func (c *CoreContext) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	route, ok := c.lookupRoute(r.URL.Path)
	if !ok || route.kind != routeEvent {
		http.NotFound(w, r)
		return
	}
	sid := r.Header.Get("SID")
	if sid == "" {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	if err := c.GENAPub.Unsubscribe(route.handle, sid); err != nil {
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *CoreContext) handleSOAPAction(w http.ResponseWriter, r *http.Request, soapActionHeader string) {
	route, ok := c.lookupRoute(r.URL.Path)
	if !ok || route.kind != routeControl {
		http.NotFound(w, r)
		return
	}
	_, action, err := soap.ParseSOAPAction(soapActionHeader)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	c.mut.RLock()
	maxLen := c.maxContentLength
	c.mut.RUnlock()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxLen+1))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if int64(len(body)) > maxLen {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	dev, err := c.Reg.Device(route.handle)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if action == "QueryStateVariable" {
		c.handleGetVarRequest(w, dev, route.serviceID, body)
		return
	}

	argDoc, err := soap.ParseActionRequestBody(body, action)
	if err != nil {
		argDoc = body
	}
	req := &soap.ActionRequest{ServiceID: route.serviceID, Action: action, Body: argDoc}
	if dev.Callback != nil {
		dev.Callback(soap.EventActionRequest, req)
	}

	if req.Fault != nil {
		w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(soap.BuildFaultEnvelope(req.Fault))
		return
	}

	env := soap.BuildActionResponse(req.Response)
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(env)
}

func (c *CoreContext) handleGetVarRequest(w http.ResponseWriter, dev *registry.DeviceRecord, serviceID string, envelope []byte) {
	name, err := soap.ParseQueryStateVariableBody(envelope)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	req := &soap.GetVarRequest{ServiceID: serviceID, VarName: name}
	if dev.Callback != nil {
		dev.Callback(soap.EventGetVarRequest, req)
	}
	if req.Fault != nil {
		w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(soap.BuildFaultEnvelope(req.Fault))
		return
	}
	env := soap.BuildQueryStateVariableResponse(req.Value)
	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(env)
}

func timeoutHeaderFor(d interface{ Seconds() float64 }) string {
	secs := int(d.Seconds())
	if secs <= 0 {
		return "Second-infinite"
	}
	return "Second-" + strconv.Itoa(secs)
}
