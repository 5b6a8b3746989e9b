package httpmsg

import (
	"os"
	"strings"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/logger"
)

var (
	debug = strings.Contains(os.Getenv("UPNPSDK_TRACE"), "httpmsg") || os.Getenv("UPNPSDK_TRACE") == "all"
	l     = logger.DefaultLogger
)
