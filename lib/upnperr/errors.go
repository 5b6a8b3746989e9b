// Package upnperr is the library's flat error taxonomy (spec.md §7),
// split out of lib/upnpcore so the lower-level protocol packages
// (lib/registry, lib/soap, lib/gena) can return these errors without
// importing lib/upnpcore itself — lib/upnpcore imports all three of
// them to assemble CoreContext, so the dependency has to run this way.
package upnperr

import "fmt"

// Code represents one of the library's named error conditions as a Go
// error, so callers can use errors.Is instead of comparing negative
// integers the way the original C API does.
type Code int

const (
	Success Code = iota
	OutOfMemory
	InvalidParam
	InvalidArgument
	InvalidHandle
	ErrFinish // operation requires a prior Init
	InvalidInterface
	NetworkError
	SocketError
	SocketBind
	SocketWrite
	SocketRead
	OutOfSocket
	Timeout
	BufferTooSmall
	NotImplemented
	Unauthorized
	NotFound
	SubscribeUnaccepted
	UnsubscribeUnaccepted
	BadResponse
	BadRequest
	FileNotFound
	InternalError
)

var codeNames = map[Code]string{
	Success:               "Success",
	OutOfMemory:           "OutOfMemory",
	InvalidParam:          "InvalidParam",
	InvalidArgument:       "InvalidArgument",
	InvalidHandle:         "InvalidHandle",
	ErrFinish:             "Finish",
	InvalidInterface:      "InvalidInterface",
	NetworkError:          "NetworkError",
	SocketError:           "SocketError",
	SocketBind:            "SocketBind",
	SocketWrite:           "SocketWrite",
	SocketRead:            "SocketRead",
	OutOfSocket:           "OutOfSocket",
	Timeout:               "Timeout",
	BufferTooSmall:        "BufferTooSmall",
	NotImplemented:        "NotImplemented",
	Unauthorized:          "Unauthorized",
	NotFound:              "NotFound",
	SubscribeUnaccepted:   "SubscribeUnaccepted",
	UnsubscribeUnaccepted: "UnsubscribeUnaccepted",
	BadResponse:           "BadResponse",
	BadRequest:            "BadRequest",
	FileNotFound:          "FileNotFound",
	InternalError:         "InternalError",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error implements the error interface so a Code can be returned directly
// or wrapped with fmt.Errorf("%w: ...", code).
func (c Code) Error() string { return c.String() }

// Is lets errors.Is(err, upnperr.NotFound) match a wrapped Code without
// requiring callers to unwrap manually.
func (c Code) Is(target error) bool {
	oc, ok := target.(Code)
	return ok && oc == c
}

// Fault is a SOAP/UPnP fault response (spec.md §4.8's {ErrCode, ErrString}).
type Fault struct {
	ErrCode   int
	ErrString string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("upnp fault %d: %s", f.ErrCode, f.ErrString)
}
