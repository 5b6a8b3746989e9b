package upnpcore

import "github.com/UPnPsdk/UPnPsdk-sub000/lib/upnperr"

// Code and Fault are re-exported from lib/upnperr so existing callers of
// this package can keep writing upnpcore.NotFound / upnpcore.Fault; the
// definitions themselves live in lib/upnperr to break the import cycle
// that would otherwise exist between upnpcore and the packages (gena,
// soap, registry) it assembles into a CoreContext.
type Code = upnperr.Code

const (
	Success               = upnperr.Success
	OutOfMemory           = upnperr.OutOfMemory
	InvalidParam          = upnperr.InvalidParam
	InvalidArgument       = upnperr.InvalidArgument
	InvalidHandle         = upnperr.InvalidHandle
	ErrFinish             = upnperr.ErrFinish
	InvalidInterface      = upnperr.InvalidInterface
	NetworkError          = upnperr.NetworkError
	SocketError           = upnperr.SocketError
	SocketBind            = upnperr.SocketBind
	SocketWrite           = upnperr.SocketWrite
	SocketRead            = upnperr.SocketRead
	OutOfSocket           = upnperr.OutOfSocket
	Timeout               = upnperr.Timeout
	BufferTooSmall        = upnperr.BufferTooSmall
	NotImplemented        = upnperr.NotImplemented
	Unauthorized          = upnperr.Unauthorized
	NotFound              = upnperr.NotFound
	SubscribeUnaccepted   = upnperr.SubscribeUnaccepted
	UnsubscribeUnaccepted = upnperr.UnsubscribeUnaccepted
	BadResponse           = upnperr.BadResponse
	BadRequest            = upnperr.BadRequest
	FileNotFound          = upnperr.FileNotFound
	InternalError         = upnperr.InternalError
)

type Fault = upnperr.Fault
