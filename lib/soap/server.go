package soap

import (
	"fmt"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/upnperr"
)

// Device-side callback events, delivered through DeviceRecord.Callback when
// a control point posts a SOAP request to one of the device's services.
const (
	EventActionRequest = iota + 510
	EventGetVarRequest
)

// ActionRequest is the payload of an EventActionRequest callback. The
// device's callback fills in Response (or Fault) and BuildActionResponse/
// BuildFaultEnvelope turns it back into wire bytes.
type ActionRequest struct {
	ServiceID string
	Action    string
	Body      []byte // the inbound <u:ActionName> element, opaque bytes

	Response []byte // caller-filled: the <u:ActionNameResponse> element
	Fault    *upnperr.Fault
}

// GetVarRequest is the payload of an EventGetVarRequest callback.
type GetVarRequest struct {
	ServiceID string
	VarName   string

	Value string // caller-filled
	Fault *upnperr.Fault
}

// BuildActionResponse wraps a device's <u:ActionNameResponse> element in a
// full SOAP envelope for the 200 OK response body.
func BuildActionResponse(response []byte) []byte {
	return BuildEnvelope(response)
}

// BuildQueryStateVariableResponse wraps value in a <return> element inside
// the <QueryStateVariableResponse> element and envelope spec.md §4.8 names.
func BuildQueryStateVariableResponse(value string) []byte {
	body := []byte(fmt.Sprintf(
		`<u:QueryStateVariableResponse xmlns:u="urn:schemas-upnp-org:control-1-0"><return>%s</return></u:QueryStateVariableResponse>`,
		value,
	))
	return BuildEnvelope(body)
}

// BuildFaultEnvelope renders the UPnP fault envelope for a 500 response.
func BuildFaultEnvelope(fault *upnperr.Fault) []byte {
	body := []byte(fmt.Sprintf(
		`<s:Fault><faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring>`+
			`<detail><UPnPError xmlns="urn:schemas-upnp-org:control-1-0">`+
			`<errorCode>%d</errorCode><errorDescription>%s</errorDescription>`+
			`</UPnPError></detail></s:Fault>`,
		fault.ErrCode, fault.ErrString,
	))
	return BuildEnvelope(body)
}

// ParseActionRequestBody extracts the <u:ActionName> element from an
// inbound SOAP request envelope, given the action name already known from
// the SOAPACTION header (spec.md §4.8's "<svcType>#<action>" framing).
func ParseActionRequestBody(envelope []byte, action string) ([]byte, error) {
	body, err := ExtractBody(envelope)
	if err != nil {
		return nil, err
	}
	if inner, ierr := extractNamed(body, action); ierr == nil {
		return inner, nil
	}
	return body, nil
}

// ParseQueryStateVariableBody extracts the requested variable name from an
// inbound <QueryStateVariable> request.
func ParseQueryStateVariableBody(envelope []byte) (string, error) {
	body, err := ExtractBody(envelope)
	if err != nil {
		return "", err
	}
	name, ok := findTextElement(body, "varName")
	if !ok {
		return "", fmt.Errorf("soap: QueryStateVariable request missing <varName>")
	}
	return name, nil
}

// ParseSOAPAction splits a SOAPACTION header value ("<svcType>#<action>",
// quotes included) into its service-type and action-name parts.
func ParseSOAPAction(header string) (svcType, action string, err error) {
	h := header
	if len(h) >= 2 && h[0] == '"' && h[len(h)-1] == '"' {
		h = h[1 : len(h)-1]
	}
	idx := -1
	for i := len(h) - 1; i >= 0; i-- {
		if h[i] == '#' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", "", fmt.Errorf("soap: malformed SOAPACTION header %q", header)
	}
	return h[:idx], h[idx+1:], nil
}
