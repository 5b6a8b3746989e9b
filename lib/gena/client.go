package gena

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/httpio"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/httpmsg"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/registry"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/upnperr"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/workerpool"
)

// Control-point callback events, delivered through ControlPointRecord.Callback.
const (
	EventSubscribeComplete = iota + 300
	EventUnsubscribeComplete
	EventRenewalComplete
	EventAutorenewalFailed
	EventSubscriptionExpired
	EventReceived
)

// SubscribeCompleteResult is the payload of an EventSubscribeComplete
// callback.
type SubscribeCompleteResult struct {
	SID            string
	TimeoutSeconds int // -1 means infinite
}

// farFuture stands in for "Second-infinite": far enough out that no
// caller logic ever treats it as expired, without needing a special-case
// zero-value time.
var farFuture = time.Now().AddDate(100, 0, 0)

// Client drives the control-point side of GENA: SUBSCRIBE/RENEW/
// UNSUBSCRIBE, auto-renewal, and the activity log a sample driver can
// observe. Grounded on events.go's channel-fanout shape for ActivityLog
// and on spec.md §4.8's control-point GENA rules.
type Client struct {
	Reg           *registry.Registry
	Pool          *workerpool.Pool
	HTTPTimeout   time.Duration
	CallbackPort  int
	CallbackPath  string        // e.g. "/gena/notify"
	AutoRenewTime time.Duration // 0 disables auto-renew (spec.md §9 note 8)
	Activity      *ActivityLog
}

// NewClient creates a Client with sane defaults; callers override
// AutoRenewTime/CallbackPath/CallbackPort to taste.
func NewClient(reg *registry.Registry, pool *workerpool.Pool) *Client {
	return &Client{
		Reg:           reg,
		Pool:          pool,
		HTTPTimeout:   10 * time.Second,
		CallbackPath:  "/gena/notify",
		AutoRenewTime: 30 * time.Second,
		Activity:      NewActivityLog(),
	}
}

// Subscribe sends SUBSCRIBE to publisherURL, records a ClientSubscription
// under cpHandle on success, and schedules auto-renewal. timeoutSeconds
// <= 0 requests "Second-infinite".
func (c *Client) Subscribe(ctx context.Context, cpHandle int, publisherURL string, timeoutSeconds int) error {
	cp, err := c.Reg.ControlPoint(cpHandle)
	if err != nil {
		return err
	}

	u, err := url.Parse(publisherURL)
	if err != nil {
		return fmt.Errorf("gena: parse publisher URL: %w", err)
	}

	pubHost, _, _ := net.SplitHostPort(u.Host)
	if pubHost == "" {
		pubHost = u.Host
	}
	cbIP, err := chooseCallbackAddr(pubHost)
	if err != nil {
		return err
	}
	eventURL := fmt.Sprintf("http://%s/%s", netJoinHostPort(cbIP, c.CallbackPort), strings.TrimPrefix(c.CallbackPath, "/"))

	timeoutHeader := "Second-infinite"
	if timeoutSeconds > 0 {
		timeoutHeader = fmt.Sprintf("Second-%d", timeoutSeconds)
	}

	conn, err := httpio.Connect(ctx, hostPort(u), c.HTTPTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	err = httpio.SendMessage(ctx, conn, c.HTTPTimeout, 1, 1, "qEc", "SUBSCRIBE", requestURI(u), map[string]string{
		"HOST":     u.Host,
		"NT":       "upnp:event",
		"CALLBACK": "<" + eventURL + ">",
		"TIMEOUT":  timeoutHeader,
	})
	if err != nil {
		return err
	}

	parser := httpmsg.NewResponseParser(httpmsg.MethodSubscribe)
	res, err := httpio.ReadMessage(ctx, conn, parser, c.HTTPTimeout)
	if err != nil {
		return err
	}
	if res != httpmsg.Success || parser.Msg.StatusCode/100 != 2 {
		return upnperr.SubscribeUnaccepted
	}

	sid, _ := parser.Msg.HeaderValue("SID")
	toHeader, _ := parser.Msg.HeaderValue("TIMEOUT")
	secs := parseTimeoutHeader(toHeader, timeoutSeconds)

	sub := &registry.ClientSubscription{
		SID:          sid,
		PublisherURL: publisherURL,
		EventURL:     eventURL,
		Infinite:     secs < 0,
		Expires:      expiryFor(secs),
	}
	cp.AddSubscription(sub)
	c.Activity.Log(ActivitySubscribed, sid, nil)
	cp.Callback(EventSubscribeComplete, SubscribeCompleteResult{SID: sid, TimeoutSeconds: secs})

	c.scheduleAutoRenew(cpHandle, sub)
	return nil
}

func (c *Client) scheduleAutoRenew(cpHandle int, sub *registry.ClientSubscription) {
	if sub.Infinite {
		return
	}

	if c.AutoRenewTime <= 0 {
		delay := time.Until(sub.Expires)
		if delay < 0 {
			delay = 0
		}
		sub.RenewTimer = c.Pool.Schedule(delay, workerpool.REL, workerpool.Job{
			Run: func(ctx context.Context) { c.expire(cpHandle, sub) },
		}, workerpool.LOW)
		return
	}

	delay := time.Until(sub.Expires) - c.AutoRenewTime
	if delay < 0 {
		delay = 0
	}
	sub.RenewTimer = c.Pool.Schedule(delay, workerpool.REL, workerpool.Job{
		Run: func(ctx context.Context) { c.renew(ctx, cpHandle, sub) },
	}, workerpool.LOW)
}

func (c *Client) expire(cpHandle int, sub *registry.ClientSubscription) {
	cp, err := c.Reg.ControlPoint(cpHandle)
	if err != nil {
		return
	}
	cp.RemoveSubscription(sub.SID)
	c.Activity.Log(ActivityExpired, sub.SID, nil)
	cp.Callback(EventSubscriptionExpired, sub.SID)
}

func (c *Client) renew(ctx context.Context, cpHandle int, sub *registry.ClientSubscription) {
	u, err := url.Parse(sub.PublisherURL)
	if err != nil {
		c.failRenew(cpHandle, sub, err)
		return
	}

	conn, err := httpio.Connect(ctx, hostPort(u), c.HTTPTimeout)
	if err != nil {
		c.failRenew(cpHandle, sub, err)
		return
	}
	defer conn.Close()

	err = httpio.SendMessage(ctx, conn, c.HTTPTimeout, 1, 1, "qEc", "SUBSCRIBE", requestURI(u), map[string]string{
		"HOST":    u.Host,
		"SID":     sub.SID,
		"TIMEOUT": "Second-infinite",
	})
	if err != nil {
		c.failRenew(cpHandle, sub, err)
		return
	}

	parser := httpmsg.NewResponseParser(httpmsg.MethodSubscribe)
	res, err := httpio.ReadMessage(ctx, conn, parser, c.HTTPTimeout)
	if err != nil || res != httpmsg.Success || parser.Msg.StatusCode/100 != 2 {
		if err == nil {
			err = fmt.Errorf("gena: renew rejected with status %d", parser.Msg.StatusCode)
		}
		c.failRenew(cpHandle, sub, err)
		return
	}

	toHeader, _ := parser.Msg.HeaderValue("TIMEOUT")
	secs := parseTimeoutHeader(toHeader, -1)
	sub.Expires = expiryFor(secs)
	sub.Infinite = secs < 0
	c.Activity.Log(ActivityRenewed, sub.SID, nil)

	if cp, err := c.Reg.ControlPoint(cpHandle); err == nil {
		cp.Callback(EventRenewalComplete, sub.SID)
	}
	c.scheduleAutoRenew(cpHandle, sub)
}

func (c *Client) failRenew(cpHandle int, sub *registry.ClientSubscription, cause error) {
	c.Activity.Log(ActivityAutoRenewFailed, sub.SID, cause)
	if cp, err := c.Reg.ControlPoint(cpHandle); err == nil {
		cp.Callback(EventAutorenewalFailed, cause)
	}
}

// Unsubscribe sends UNSUBSCRIBE and removes the local record regardless
// of the network outcome, per spec.md §4.8 rule 4: a direct unsubscribe
// surfaces a non-200 as UnsubscribeUnaccepted, but the subscription is
// dropped locally either way.
func (c *Client) Unsubscribe(ctx context.Context, cpHandle int, sid string) error {
	cp, err := c.Reg.ControlPoint(cpHandle)
	if err != nil {
		return err
	}
	sub, ok := cp.Subscription(sid)
	if !ok {
		return upnperr.InvalidParam
	}
	if h, ok := sub.RenewTimer.(workerpool.Handle); ok {
		c.Pool.Remove(h)
	}

	u, err := url.Parse(sub.PublisherURL)
	if err != nil {
		cp.RemoveSubscription(sid)
		return err
	}

	conn, err := httpio.Connect(ctx, hostPort(u), c.HTTPTimeout)
	if err != nil {
		cp.RemoveSubscription(sid)
		return err
	}
	defer conn.Close()

	sendErr := httpio.SendMessage(ctx, conn, c.HTTPTimeout, 1, 1, "qEc", "UNSUBSCRIBE", requestURI(u), map[string]string{
		"HOST": u.Host,
		"SID":  sid,
	})
	cp.RemoveSubscription(sid)
	if sendErr != nil {
		return sendErr
	}

	parser := httpmsg.NewResponseParser(httpmsg.MethodUnsubscribe)
	res, err := httpio.ReadMessage(ctx, conn, parser, c.HTTPTimeout)
	if err != nil || res != httpmsg.Success || parser.Msg.StatusCode != 200 {
		return upnperr.UnsubscribeUnaccepted
	}

	c.Activity.Log(ActivityUnsubscribed, sid, nil)
	cp.Callback(EventUnsubscribeComplete, sid)
	return nil
}

func hostPort(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	return u.Host + ":80"
}

func requestURI(u *url.URL) string {
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery
	}
	if u.Path == "" {
		return "/"
	}
	return u.Path
}

func netJoinHostPort(ip net.IP, port int) string {
	return net.JoinHostPort(ip.String(), strconv.Itoa(port))
}

// parseTimeoutHeader extracts the seconds value of a TIMEOUT header,
// returning -1 for "Second-infinite". fallback is used if the header is
// missing or malformed.
func parseTimeoutHeader(header string, fallback int) int {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, "Second-infinite") {
		return -1
	}
	const prefix = "Second-"
	if strings.HasPrefix(strings.ToUpper(header), strings.ToUpper(prefix)) {
		n, err := strconv.Atoi(header[len(prefix):])
		if err == nil {
			return n
		}
	}
	return fallback
}

func expiryFor(secs int) time.Time {
	if secs < 0 {
		return farFuture
	}
	return time.Now().Add(time.Duration(secs) * time.Second)
}
