package upnpcore

import (
	"io"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/webserver"
)

// SetWebServerRootDir sets the on-disk directory static GET/HEAD
// requests resolve against when no virtual directory or alias matches.
func (c *CoreContext) SetWebServerRootDir(dir string) {
	c.mut.Lock()
	c.webRootDir = dir
	enabled := c.webserverEnabled
	c.mut.Unlock()
	if enabled {
		c.Web.DocumentRoot = dir
	}
}

// EnableWebserver turns the embedded web server's static/document-root
// path on or off; virtual directories and the description alias are
// always reachable regardless of this flag, matching pupnp's own
// separation between "web server" (document root) and virtual dirs.
func (c *CoreContext) EnableWebserver(enable bool) {
	c.mut.Lock()
	c.webserverEnabled = enable
	dir := c.webRootDir
	c.mut.Unlock()
	if enable {
		c.Web.DocumentRoot = dir
	} else {
		c.Web.DocumentRoot = ""
	}
}

// IsWebserverEnabled reports the last value passed to EnableWebserver.
func (c *CoreContext) IsWebserverEnabled() bool {
	c.mut.RLock()
	defer c.mut.RUnlock()
	return c.webserverEnabled
}

// HostValidateFunc decides whether an inbound request's HOST header is
// acceptable, per SetHostValidateCallback.
type HostValidateFunc func(host string) bool

// SetHostValidateCallback installs a HOST-header validator; nil disables
// validation (the default).
func (c *CoreContext) SetHostValidateCallback(fn HostValidateFunc) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.hostValidate = fn
}

// SetAllowLiteralHostRedirection toggles whether a request whose HOST
// header is a bare IP literal (rather than a DNS name) is served
// directly. When it is not allowed, such a request gets 400 Bad Request;
// no redirect is issued. The name matches the pupnp flag.
func (c *CoreContext) SetAllowLiteralHostRedirection(allow bool) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.allowLiteralHost = allow
}

// AddVirtualDir mounts vd on the embedded web server.
func (c *CoreContext) AddVirtualDir(vd *webserver.VirtualDir) {
	c.Web.AddVirtualDir(vd)
}

// RemoveVirtualDir unmounts the virtual directory at prefix.
func (c *CoreContext) RemoveVirtualDir(prefix string) {
	c.Web.RemoveVirtualDir(prefix)
}

// RemoveAllVirtualDirs unmounts every virtual directory.
func (c *CoreContext) RemoveAllVirtualDirs() {
	c.Web.RemoveAllVirtualDirs()
}

// VirtualDirSetGetInfoCallback installs prefix's GetInfo callback,
// mounting a new VirtualDir if prefix isn't registered yet. Collapses
// pupnp's VirtualDir_set_GetInfoCallback shim.
func (c *CoreContext) VirtualDirSetGetInfoCallback(prefix string, fn func(cookie interface{}, path string) (webserver.FileInfo, error)) {
	c.mutateVirtualDir(prefix, func(vd *webserver.VirtualDir) { vd.GetInfo = fn })
}

// VirtualDirSetOpenCallback installs prefix's Open callback. The
// returned io.ReadCloser's Read/Seek/Close methods replace pupnp's
// separate Read/Seek/Close shim callbacks (see SPEC_FULL.md §9's "raw
// pointer graph" design note).
func (c *CoreContext) VirtualDirSetOpenCallback(prefix string, fn func(cookie interface{}, path string) (io.ReadCloser, error)) {
	c.mutateVirtualDir(prefix, func(vd *webserver.VirtualDir) { vd.Open = fn })
}

// VirtualDirSetWriteCallback installs prefix's Write callback, invoked
// once per POST body chunk delivered to that virtual directory.
func (c *CoreContext) VirtualDirSetWriteCallback(prefix string, fn func(cookie interface{}, path string, data []byte) error) {
	c.mutateVirtualDir(prefix, func(vd *webserver.VirtualDir) { vd.Write = fn })
}

func (c *CoreContext) mutateVirtualDir(prefix string, mutate func(*webserver.VirtualDir)) {
	c.routeMut.Lock()
	vd, ok := c.virtualDirs[prefix]
	if !ok {
		vd = &webserver.VirtualDir{Prefix: prefix}
		c.virtualDirs[prefix] = vd
		c.routeMut.Unlock()
		mutate(vd)
		c.Web.AddVirtualDir(vd)
		return
	}
	c.routeMut.Unlock()
	mutate(vd)
}
