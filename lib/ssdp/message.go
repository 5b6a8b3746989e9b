package ssdp

import (
	"bytes"
	"fmt"
	"time"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/httpmsg"
)

// dateFormat matches the RFC 1123 "GMT" rendering the rest of the library
// uses for HTTP-ish timestamps.
const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// ServerHeader is emitted on every message this library originates, the
// three-token OS/UPnP/product string spec.md's wire format expects.
var ServerHeader = "UPnPsdk/1.0 UPnP/1.1 UPnPsdk-sub000/1.0"

// AliveParams carries the headers a single ssdp:alive advertisement
// needs. One call to BuildNotifyAlive emits one such advertisement; the
// engine issues three per root device (rootdevice, UDN, deviceType) per
// spec.md §4.7, plus one per service type.
type AliveParams struct {
	NT      string
	USN     string
	Location string
	MaxAge  int
	BootID  int
	ConfigID int
}

// BuildNotifyAlive renders a NOTIFY ssdp:alive datagram.
func BuildNotifyAlive(p AliveParams) []byte {
	return buildMessage("NOTIFY * HTTP/1.1", [][2]string{
		{"HOST", GroupV4},
		{"CACHE-CONTROL", fmt.Sprintf("max-age=%d", p.MaxAge)},
		{"LOCATION", p.Location},
		{"NT", p.NT},
		{"NTS", "ssdp:alive"},
		{"SERVER", ServerHeader},
		{"USN", p.USN},
		{"BOOTID.UPNP.ORG", fmt.Sprint(p.BootID)},
		{"CONFIGID.UPNP.ORG", fmt.Sprint(p.ConfigID)},
	})
}

// ByebyeParams carries the headers a single ssdp:byebye needs.
type ByebyeParams struct {
	NT     string
	USN    string
	BootID int
}

// BuildNotifyByebye renders a NOTIFY ssdp:byebye datagram.
func BuildNotifyByebye(p ByebyeParams) []byte {
	return buildMessage("NOTIFY * HTTP/1.1", [][2]string{
		{"HOST", GroupV4},
		{"NT", p.NT},
		{"NTS", "ssdp:byebye"},
		{"USN", p.USN},
		{"BOOTID.UPNP.ORG", fmt.Sprint(p.BootID)},
	})
}

// BuildMSearch renders a control-point multicast search. mx is clamped to
// [1,5] by the caller (Engine.Search); st is the search target.
func BuildMSearch(st string, mx int) []byte {
	return buildMessage("M-SEARCH * HTTP/1.1", [][2]string{
		{"HOST", GroupV4},
		{"MAN", `"ssdp:discover"`},
		{"MX", fmt.Sprint(mx)},
		{"ST", st},
	})
}

// ReplyParams carries the headers a unicast 200 OK M-SEARCH reply needs.
type ReplyParams struct {
	ST       string
	USN      string
	Location string
	MaxAge   int
	BootID   int
	ConfigID int
}

// BuildSearchReply renders the unicast HTTP/1.1 200 OK sent back to an
// M-SEARCH source address.
func BuildSearchReply(p ReplyParams) []byte {
	return buildMessage("HTTP/1.1 200 OK", [][2]string{
		{"CACHE-CONTROL", fmt.Sprintf("max-age=%d", p.MaxAge)},
		{"DATE", time.Now().UTC().Format(dateFormat)},
		{"EXT", ""},
		{"LOCATION", p.Location},
		{"SERVER", ServerHeader},
		{"ST", p.ST},
		{"USN", p.USN},
		{"BOOTID.UPNP.ORG", fmt.Sprint(p.BootID)},
		{"CONFIGID.UPNP.ORG", fmt.Sprint(p.ConfigID)},
	})
}

func buildMessage(startLine string, headers [][2]string) []byte {
	var buf bytes.Buffer
	buf.WriteString(startLine)
	buf.WriteString("\r\n")
	for _, h := range headers {
		if h[1] == "" {
			fmt.Fprintf(&buf, "%s:\r\n", h[0])
			continue
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1])
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// ParseDatagram parses a single SSDP HTTP-in-UDP datagram, dispatching to
// lib/httpmsg's request or response parser depending on the start line.
// A UDP datagram is delivered whole. A reply is parsed as the answer to an
// M-SEARCH, which carries no body, so it completes at the header block; a
// parse still Incomplete or IncompleteEntity after the whole datagram is
// closed out with SignalClose instead of waiting on more bytes.
func ParseDatagram(data []byte) (*httpmsg.Message, error) {
	var p *httpmsg.Parser
	if bytes.HasPrefix(data, []byte("HTTP/")) {
		// The only response datagram SSDP ever sees is an M-SEARCH reply.
		p = httpmsg.NewResponseParser(httpmsg.MethodMSearch)
	} else {
		p = httpmsg.NewRequestParser()
	}

	res := p.Append(data)
	if res == httpmsg.IncompleteEntity || res == httpmsg.Incomplete {
		p.SignalClose()
		res = p.Append(nil)
	}
	if res != httpmsg.Success {
		return nil, fmt.Errorf("ssdp: malformed datagram: %s", res)
	}
	return &p.Msg, nil
}
