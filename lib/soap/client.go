package soap

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/httpio"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/httpmsg"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/registry"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/upnperr"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/workerpool"
)

// Control-point callback events, delivered through ControlPointRecord.Callback.
const (
	EventActionComplete = iota + 500
	EventGetVarComplete
)

// ActionCompleteResult is the payload of an EventActionComplete callback.
type ActionCompleteResult struct {
	CtrlURL  string
	Response []byte // <ActionResponse> element, opaque bytes
	Err      error
}

// GetVarCompleteResult is the payload of an EventGetVarComplete callback.
type GetVarCompleteResult struct {
	CtrlURL  string
	VarName  string
	Response []byte // <QueryStateVariableResponse> element, opaque bytes
	Err      error
}

// Client drives SOAP action invocation and state-variable queries on
// behalf of a control point. Grounded on spec.md §4.8's SendAction/
// GetServiceVarStatus rules and on lib/gena.Client's request-building
// style (same httpio tagged-format request, same synchronous-then-async
// wrapping shape).
type Client struct {
	Reg         *registry.Registry
	Pool        *workerpool.Pool
	HTTPTimeout time.Duration
}

// NewClient creates a Client with a sane default timeout.
func NewClient(reg *registry.Registry, pool *workerpool.Pool) *Client {
	return &Client{Reg: reg, Pool: pool, HTTPTimeout: 10 * time.Second}
}

// SendAction posts actionDoc (an already-serialized <u:ActionName> element)
// to ctrlURL with SOAPACTION "<svcType>#<action>", returning the opaque
// <ActionResponse> bytes on success or an *upnperr.Fault on a SOAP fault.
func (c *Client) SendAction(ctx context.Context, ctrlURL, svcType, action, authStr string, actionDoc []byte) ([]byte, error) {
	envelope := BuildEnvelope(actionDoc)
	resp, err := c.post(ctx, ctrlURL, fmt.Sprintf(`"%s#%s"`, svcType, action), authStr, envelope)
	if err != nil {
		return nil, err
	}
	return ExtractActionResponse(resp)
}

// GetServiceVarStatus posts a <QueryStateVariable> body for varName to
// ctrlURL, returning the opaque <QueryStateVariableResponse> bytes.
func (c *Client) GetServiceVarStatus(ctx context.Context, ctrlURL, varName, authStr string) ([]byte, error) {
	envelope := BuildEnvelope(QueryStateVariableBody(varName))
	resp, err := c.post(ctx, ctrlURL, `"urn:schemas-upnp-org:control-1-0#QueryStateVariable"`, authStr, envelope)
	if err != nil {
		return nil, err
	}
	return ExtractQueryStateVariableResponse(resp)
}

// SendActionAsync runs SendAction on the thread pool and delivers an
// EventActionComplete callback on cpHandle with the result.
func (c *Client) SendActionAsync(cpHandle int, ctrlURL, svcType, action, authStr string, actionDoc []byte) error {
	cp, err := c.Reg.ControlPoint(cpHandle)
	if err != nil {
		return err
	}
	return c.Pool.AddJob(workerpool.Job{
		Run: func(ctx context.Context) {
			resp, err := c.SendAction(ctx, ctrlURL, svcType, action, authStr, actionDoc)
			cp.Callback(EventActionComplete, ActionCompleteResult{CtrlURL: ctrlURL, Response: resp, Err: err})
		},
	}, workerpool.MED)
}

// GetServiceVarStatusAsync runs GetServiceVarStatus on the thread pool and
// delivers an EventGetVarComplete callback on cpHandle with the result.
func (c *Client) GetServiceVarStatusAsync(cpHandle int, ctrlURL, varName, authStr string) error {
	cp, err := c.Reg.ControlPoint(cpHandle)
	if err != nil {
		return err
	}
	return c.Pool.AddJob(workerpool.Job{
		Run: func(ctx context.Context) {
			resp, err := c.GetServiceVarStatus(ctx, ctrlURL, varName, authStr)
			cp.Callback(EventGetVarComplete, GetVarCompleteResult{CtrlURL: ctrlURL, VarName: varName, Response: resp, Err: err})
		},
	}, workerpool.MED)
}

func (c *Client) post(ctx context.Context, ctrlURL, soapAction, authStr string, envelope []byte) ([]byte, error) {
	u, err := url.Parse(ctrlURL)
	if err != nil {
		return nil, fmt.Errorf("soap: parse control URL: %w", err)
	}

	conn, err := httpio.Connect(ctx, hostPort(u), c.HTTPTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	headers := map[string]string{
		"HOST":       u.Host,
		"SOAPACTION": soapAction,
	}
	if authStr != "" {
		headers["AUTHORIZATION"] = authStr
	}

	err = httpio.SendMessage(ctx, conn, c.HTTPTimeout, 1, 1, "qENTcb", "POST", requestURI(u), headers,
		len(envelope), `text/xml; charset="utf-8"`, envelope)
	if err != nil {
		return nil, err
	}

	parser := httpmsg.NewResponseParser(httpmsg.MethodPost)
	res, err := httpio.ReadMessage(ctx, conn, parser, c.HTTPTimeout)
	if err != nil {
		return nil, err
	}
	if res != httpmsg.Success {
		return nil, upnperr.BadResponse
	}

	body, bodyErr := ExtractBody(parser.Msg.Body)
	if parser.Msg.StatusCode == 500 {
		if bodyErr == nil {
			if fault, ferr := ExtractFault(body); ferr == nil {
				return nil, fault
			}
		}
		return nil, upnperr.BadResponse
	}
	if parser.Msg.StatusCode/100 != 2 {
		return nil, upnperr.BadResponse
	}
	if bodyErr != nil {
		return nil, bodyErr
	}
	return body, nil
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
