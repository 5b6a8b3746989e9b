package sockaddr

import (
	"os"
	"strings"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/logger"
)

var (
	debug = strings.Contains(os.Getenv("UPNPSDK_TRACE"), "sockaddr") || os.Getenv("UPNPSDK_TRACE") == "all"
	l     = logger.DefaultLogger
)
