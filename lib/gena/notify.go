package gena

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/httpio"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/httpmsg"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/registry"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/upnperr"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/workerpool"
)

// Device-side callback events, delivered through DeviceRecord.Callback.
const (
	EventSubscriptionRequest = iota + 400
)

// retryDelays is the GENA NOTIFY delivery back-off ladder: 2, 4, 8 seconds,
// three attempts beyond the first.
var retryDelays = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// Publisher drives the device side of GENA: accepting subscriptions and
// delivering NOTIFY requests. Grounded on spec.md §4.8's device-side rules
// and on the NOTIFY wire example of §6.
type Publisher struct {
	Reg         *registry.Registry
	Pool        *workerpool.Pool
	HTTPTimeout time.Duration
	Activity    *ActivityLog
}

// NewPublisher creates a Publisher with sane defaults.
func NewPublisher(reg *registry.Registry, pool *workerpool.Pool) *Publisher {
	return &Publisher{
		Reg:         reg,
		Pool:        pool,
		HTTPTimeout: 10 * time.Second,
		Activity:    NewActivityLog(),
	}
}

// AcceptSubscription handles an incoming SUBSCRIBE with no SID: it mints a
// fresh SID, records the subscription, and schedules the initial NOTIFY
// (event key 0) carrying initialState. Returns the SID and the timeout
// actually granted.
func (p *Publisher) AcceptSubscription(deviceHandle int, serviceID, callbackHeader, timeoutHeader string, initialState map[string]string) (sid string, granted time.Duration, err error) {
	eventURL, err := parseCallbackHeader(callbackHeader)
	if err != nil {
		return "", 0, err
	}
	granted = parseRequestedTimeout(timeoutHeader)

	sub, err := p.Reg.Subscribe(deviceHandle, eventURL, serviceID, granted)
	if err != nil {
		return "", 0, err
	}

	dev, err := p.Reg.Device(deviceHandle)
	if err != nil {
		return "", 0, err
	}
	if dev.Callback != nil {
		dev.Callback(EventSubscriptionRequest, sub.SID)
	}

	p.Activity.Log(ActivitySubscribed, sub.SID, nil)
	if len(initialState) > 0 {
		p.Pool.AddJob(workerpool.Job{
			Run: func(ctx context.Context) { p.deliver(ctx, deviceHandle, sub, initialState, true) },
		}, workerpool.MED)
	}
	return sub.SID, granted, nil
}

// Renew resets sid's expiration without touching its event key, per
// spec.md §4.8's "RENEW (SUBSCRIBE with SID only): reset expiration; keep
// event key."
func (p *Publisher) Renew(sid string, timeoutHeader string) (time.Duration, error) {
	_, sub, err := p.Reg.LookupBySID(sid)
	if err != nil {
		return 0, err
	}
	granted := parseRequestedTimeout(timeoutHeader)
	sub.Expires = time.Now().Add(granted)
	return granted, nil
}

// Unsubscribe removes sid.
func (p *Publisher) Unsubscribe(deviceHandle int, sid string) error {
	return p.Reg.Unsubscribe(deviceHandle, sid)
}

// Notify publishes properties to every current subscriber of deviceHandle,
// one delivery per subscription, each with its own retry ladder and
// strictly ascending event keys.
func (p *Publisher) Notify(deviceHandle int, properties map[string]string) error {
	dev, err := p.Reg.Device(deviceHandle)
	if err != nil {
		return err
	}
	for _, sub := range dev.Subscriptions() {
		sub := sub
		p.Pool.AddJob(workerpool.Job{
			Run: func(ctx context.Context) { p.deliver(ctx, deviceHandle, sub, properties, false) },
		}, workerpool.MED)
	}
	return nil
}

// deliver sends one NOTIFY, serialized per-subscription so event keys are
// always observed in ascending order, retrying on I/O failure with the
// 2/4/8s back-off ladder and dropping the subscription on final failure.
func (p *Publisher) deliver(ctx context.Context, deviceHandle int, sub *registry.ServiceSubscription, properties map[string]string, initial bool) {
	sub.BeginDelivery()
	defer sub.EndDelivery()
	sub.Lock()
	defer sub.Unlock()

	// sub is already locked for the whole delivery (serializing per-
	// subscription send order), so the key is advanced inline here rather
	// than via NextEventKey, which takes the same lock itself.
	key := sub.EventKey
	if !initial {
		if sub.EventKey == ^uint32(0) {
			sub.EventKey = 1
		} else {
			sub.EventKey++
		}
		key = sub.EventKey
	}
	body := buildPropertySet(properties)

	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				return
			}
		}
		if err := p.sendNotify(ctx, sub, key, body); err != nil {
			lastErr = err
			if debug {
				l.Debugln("gena: NOTIFY attempt", attempt, "failed for SID", sub.SID, ":", err)
			}
			continue
		}
		p.Activity.Log(ActivityNotifySent, sub.SID, key)
		return
	}

	p.Activity.Log(ActivityNotifyFailed, sub.SID, lastErr)
	// Unsubscribe waits for in-flight deliveries, including this one, so it
	// runs once this delivery has ended.
	go func() { _ = p.Reg.Unsubscribe(deviceHandle, sub.SID) }()
}

func (p *Publisher) sendNotify(ctx context.Context, sub *registry.ServiceSubscription, key uint32, body []byte) error {
	host, path, err := splitEventURL(sub.EventURL)
	if err != nil {
		return err
	}

	conn, err := httpio.Connect(ctx, host, p.HTTPTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	err = httpio.SendMessage(ctx, conn, p.HTTPTimeout, 1, 1, "qENTcb", "NOTIFY", path, map[string]string{
		"HOST": host,
		"NT":   "upnp:event",
		"NTS":  "upnp:propchange",
		"SID":  sub.SID,
		"SEQ":  strconv.FormatUint(uint64(key), 10),
	}, len(body), `text/xml; charset="utf-8"`, body)
	if err != nil {
		return err
	}

	parser := httpmsg.NewResponseParser(httpmsg.MethodNotify)
	res, err := httpio.ReadMessage(ctx, conn, parser, p.HTTPTimeout)
	if err != nil {
		return err
	}
	if res != httpmsg.Success || parser.Msg.StatusCode/100 != 2 {
		return fmt.Errorf("gena: NOTIFY rejected with status %d", parser.Msg.StatusCode)
	}
	return nil
}

// buildPropertySet renders the <e:propertyset> body described in spec.md §6.
func buildPropertySet(properties map[string]string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?>`)
	buf.WriteString(`<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">`)
	for name, value := range properties {
		fmt.Fprintf(&buf, "<e:property><%s>%s</%s></e:property>", name, value, name)
	}
	buf.WriteString(`</e:propertyset>`)
	return buf.Bytes()
}

func parseCallbackHeader(header string) (string, error) {
	header = strings.TrimSpace(header)
	start := strings.Index(header, "<")
	end := strings.Index(header, ">")
	if start < 0 || end < 0 || end < start {
		return "", upnperr.InvalidParam
	}
	return header[start+1 : end], nil
}

func parseRequestedTimeout(header string) time.Duration {
	secs := parseTimeoutHeader(header, 1800)
	if secs < 0 {
		return 100 * 365 * 24 * time.Hour
	}
	return time.Duration(secs) * time.Second
}

func splitEventURL(eventURL string) (host, path string, err error) {
	const prefix = "http://"
	if !strings.HasPrefix(eventURL, prefix) {
		return "", "", fmt.Errorf("gena: unsupported event URL scheme: %s", eventURL)
	}
	rest := eventURL[len(prefix):]
	slash := strings.Index(rest, "/")
	if slash < 0 {
		return rest, "/", nil
	}
	return rest[:slash], rest[slash:], nil
}
