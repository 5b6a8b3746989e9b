// Package webserver implements the embedded mini web server: path
// resolution across virtual directories, an XML description alias,
// and an optional on-disk document root, with byte-range support. See
// spec.md §4.6.
package webserver

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
)

// ResponseType is the response-selection state named in spec.md §4.6.
type ResponseType int

const (
	RTypeFileDoc ResponseType = iota
	RTypeXMLDoc
	RTypeHeaders
	RTypeWebDoc
	RTypePost
)

// FileInfo is what a VirtualDir's GetInfo callback returns.
type FileInfo struct {
	Length       int64 // UsingChunked below makes this advisory
	LastModified time.Time
	ContentType  string
	UsingChunked bool
}

// VirtualDir is the callback bundle spec.md's VirtualDir type names,
// matched against a request path by longest-prefix match.
type VirtualDir struct {
	Prefix  string
	Cookie  interface{}
	GetInfo func(cookie interface{}, path string) (FileInfo, error)
	Open    func(cookie interface{}, path string) (io.ReadCloser, error)
	Write   func(cookie interface{}, path string, data []byte) error
}

// matchesPrefix implements spec.md §4.6's four accepted prefix-match
// forms: exact, prefix+"/", prefix+NUL, prefix+"?".
func (v *VirtualDir) matchesPrefix(reqPath string) bool {
	p := v.Prefix
	if reqPath == p {
		return true
	}
	if strings.HasPrefix(reqPath, p) {
		rest := reqPath[len(p):]
		return len(rest) > 0 && (rest[0] == '/' || rest[0] == 0 || rest[0] == '?')
	}
	return false
}

// WebAlias is the refcounted XML-description document named in spec.md's
// data model.
type WebAlias struct {
	mut          sync.Mutex
	path         string
	content      []byte
	lastModified time.Time
	refcount     int
}

func (a *WebAlias) pin() (content []byte, lastModified time.Time) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.refcount++
	return a.content, a.lastModified
}

func (a *WebAlias) release() {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.refcount--
}

// extensionContentType maps a small set of well-known extensions to a
// Content-Type, per spec.md §4.6; anything else falls back to
// application/octet-stream.
var extensionContentType = map[string]string{
	".txt":  "text/plain",
	".html": "text/html",
	".htm":  "text/html",
	".xml":  `text/xml; charset="utf-8"`,
	".css":  "text/css",
	".js":   "application/javascript",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
}

func contentTypeForPath(p string) string {
	if ct, ok := extensionContentType[strings.ToLower(filepath.Ext(p))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Server is the mini web server. The zero value is usable once
// DocumentRoot/Alias/virtual dirs are configured.
type Server struct {
	DocumentRoot string

	mut     sync.Mutex
	alias   *WebAlias
	aliasOn string // virtual path the alias answers to
	dirs    []*VirtualDir

	// WriteToDisk, when true, makes POST bodies land under DocumentRoot
	// instead of being routed only to a matching VirtualDir.Write.
	WriteToDisk bool
}

// SetAlias installs (or replaces) the XML description document served at
// virtualPath. The previous alias, if any, is released (its refcount no
// longer gates new readers, though readers already holding it keep it
// until Close).
func (s *Server) SetAlias(virtualPath string, content []byte) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.alias = &WebAlias{path: virtualPath, content: content, lastModified: time.Now()}
	s.aliasOn = virtualPath
}

// AddVirtualDir registers vd. Dirs are matched longest-prefix-first.
func (s *Server) AddVirtualDir(vd *VirtualDir) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.dirs = append(s.dirs, vd)
	sort.Slice(s.dirs, func(i, j int) bool { return len(s.dirs[i].Prefix) > len(s.dirs[j].Prefix) })
}

// RemoveVirtualDir unregisters the virtual directory mounted at prefix.
func (s *Server) RemoveVirtualDir(prefix string) {
	s.mut.Lock()
	defer s.mut.Unlock()
	kept := s.dirs[:0]
	for _, vd := range s.dirs {
		if vd.Prefix != prefix {
			kept = append(kept, vd)
		}
	}
	s.dirs = kept
}

// RemoveAllVirtualDirs unregisters every virtual directory.
func (s *Server) RemoveAllVirtualDirs() {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.dirs = nil
}

// Handler returns an http.Handler implementing the path-resolution
// sequence and byte-range support of spec.md §4.6. httprouter handles
// only the catch-all dispatch; path resolution itself is dynamic
// (registered virtual directories), so it cannot be expressed as static
// httprouter routes.
func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(s.serveHTTP)
	router.HandleMethodNotAllowed = false
	return router
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	decoded, err := url.PathUnescape(r.URL.Path)
	if err != nil || !strings.HasPrefix(decoded, "/") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if pathEscapesRoot(decoded) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.serveGetHead(w, r, decoded)
	case http.MethodPost:
		s.servePost(w, r, decoded)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// pathEscapesRoot rejects any ".." segment that would climb above the
// document root, per spec.md §4.6 step 1.
func pathEscapesRoot(p string) bool {
	clean := path.Clean(strings.TrimLeft(p, "/"))
	return clean == ".." || strings.HasPrefix(clean, "../")
}

func (s *Server) serveGetHead(w http.ResponseWriter, r *http.Request, reqPath string) {
	s.mut.Lock()
	dirs := s.dirs
	alias := s.alias
	aliasOn := s.aliasOn
	docRoot := s.DocumentRoot
	s.mut.Unlock()

	for _, vd := range dirs {
		if vd.matchesPrefix(reqPath) {
			s.serveVirtualDir(w, r, vd, reqPath)
			return
		}
	}

	if alias != nil && reqPath == aliasOn {
		content, lastMod := alias.pin()
		defer alias.release()
		w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
		serveBytes(w, r, content, lastMod)
		return
	}

	if docRoot != "" {
		full := filepath.Join(docRoot, filepath.FromSlash(reqPath))
		if info, err := os.Stat(full); err == nil && info.IsDir() {
			full = filepath.Join(full, "index.html")
		}
		data, err := os.ReadFile(full)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		fi, _ := os.Stat(full)
		var modTime time.Time
		if fi != nil {
			modTime = fi.ModTime()
		}
		w.Header().Set("Content-Type", contentTypeForPath(full))
		serveBytes(w, r, data, modTime)
		return
	}

	if debug {
		l.Debugln("webserver: no match for", reqPath)
	}
	http.NotFound(w, r)
}

func (s *Server) serveVirtualDir(w http.ResponseWriter, r *http.Request, vd *VirtualDir, reqPath string) {
	info, err := vd.GetInfo(vd.Cookie, reqPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if !info.LastModified.IsZero() {
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(rfc1123GMT))
	}

	if info.UsingChunked {
		if r.ProtoMajor == 1 && r.ProtoMinor == 0 {
			http.Error(w, "Not Acceptable", http.StatusNotAcceptable)
			return
		}
		w.Header().Set("Transfer-Encoding", "chunked")
	}

	if r.Method == http.MethodHead {
		return
	}

	rc, err := vd.Open(vd.Cookie, reqPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer rc.Close()
	io.Copy(w, rc)
}

func (s *Server) servePost(w http.ResponseWriter, r *http.Request, reqPath string) {
	s.mut.Lock()
	dirs := s.dirs
	docRoot := s.DocumentRoot
	writeToDisk := s.WriteToDisk
	s.mut.Unlock()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	for _, vd := range dirs {
		if vd.matchesPrefix(reqPath) && vd.Write != nil {
			if err := vd.Write(vd.Cookie, reqPath, body); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	if writeToDisk && docRoot != "" {
		full := filepath.Join(docRoot, filepath.FromSlash(reqPath))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if err := os.WriteFile(full, body, 0o644); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
}

const rfc1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"

// serveBytes applies spec.md §4.6's single-range byte-serving rule,
// falling back to a plain 200 when no Range header is present; a Range
// header that does not parse or cannot be satisfied gets 416.
func serveBytes(w http.ResponseWriter, r *http.Request, data []byte, modTime time.Time) {
	rng := r.Header.Get("Range")
	if rng == "" {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			return
		}
		http.ServeContent(w, r, "", modTime, &byteReadSeeker{data: data})
		return
	}

	first, last, ok := parseRange(rng, int64(len(data)))
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(data)))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", first, last, len(data)))
	w.Header().Set("Content-Length", strconv.FormatInt(last-first+1, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method != http.MethodHead {
		w.Write(data[first : last+1])
	}
}

// parseRange parses "bytes=first-last", "bytes=-suffix", or
// "bytes=first-", validating first <= last and first < length; a last at
// or past length, or a suffix longer than length, is clamped to the end
// of the data, per spec.md §4.6.
func parseRange(header string, length int64) (first, last int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := header[len(prefix):]
	if strings.Contains(spec, ",") {
		return 0, 0, false // only one range per request is honoured
	}
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return 0, 0, false
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	switch {
	case startStr == "" && endStr != "":
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, false
		}
		if suffix > length {
			suffix = length
		}
		first = length - suffix
		last = length - 1
	case startStr != "" && endStr == "":
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		first = start
		last = length - 1
	case startStr != "" && endStr != "":
		start, err1 := strconv.ParseInt(startStr, 10, 64)
		end, err2 := strconv.ParseInt(endStr, 10, 64)
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		first, last = start, end
		if last >= length {
			last = length - 1
		}
	default:
		return 0, 0, false
	}

	if first < 0 || last < 0 || first > last || first >= length {
		return 0, 0, false
	}
	return first, last, true
}

// byteReadSeeker adapts a []byte to io.ReadSeeker for http.ServeContent.
type byteReadSeeker struct {
	data []byte
	pos  int64
}

func (b *byteReadSeeker) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *byteReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = b.pos + offset
	case io.SeekEnd:
		newPos = int64(len(b.data)) + offset
	}
	if newPos < 0 {
		return 0, fmt.Errorf("webserver: negative seek position")
	}
	b.pos = newPos
	return newPos, nil
}
