// Package httpio layers connect/send/receive operations on top of TCP
// sockets and lib/httpmsg, with a shared per-call timeout. See spec.md
// §4.5.
package httpio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/UPnPsdk/UPnPsdk-sub000/lib/buffers"
	"github.com/UPnPsdk/UPnPsdk-sub000/lib/httpmsg"
)

// ErrTimeout is returned when an operation exceeds its deadline.
var ErrTimeout = errors.New("httpio: operation timed out")

// rfc1123GMT is the GMT date format UPnP requires for DATE and
// LAST-MODIFIED headers, e.g. "Mon, 02 Jan 2006 15:04:05 GMT".
const rfc1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"

// Connect dials addr (host:port) with timeout, returning a live TCP
// connection. TLS is not dialed here; callers wrap the returned net.Conn
// with tls.Client for an https:// URI, mirroring the teacher's
// layering of TLS above a plain dialer rather than inside it.
func Connect(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if debug {
			l.Debugln("httpio: connect failed to", addr, ":", err)
		}
		return nil, fmt.Errorf("httpio: connect %s: %w", addr, err)
	}
	return conn, nil
}

// messageBuilder accumulates SendMessage's tagged-format output.
type messageBuilder struct {
	buf   []byte
	major int
	minor int
}

func (b *messageBuilder) writeString(s string) { b.buf = append(b.buf, s...) }
func (b *messageBuilder) writeCRLF()            { b.buf = append(b.buf, '\r', '\n') }

// SendMessage builds an HTTP message from a tagged format string and
// positional args, then writes it to conn, honoring timeout per syscall.
// Format letters (spec.md §4.5): q=request line (method,uri), R=response
// status line (code), N=Content-Length (int), T=Content-Type (string),
// L=Last-Modified (time.Time), K=Transfer-Encoding: chunked, G=Content-Range
// (string), S=Server (string), X=User-Agent (string), D=Date (emitted as
// now, no arg consumed), A=Access-Control-Allow-Origin (string, skipped if
// empty), E=extra headers (map[string]string), b=raw bytes (io.Reader or
// []byte), f=file contents (path string), c=bare CRLF (no arg), s=literal
// string, d=decimal integer. major/minor are supplied once and reused for
// every q/R produced by this call.
func SendMessage(ctx context.Context, conn net.Conn, timeout time.Duration, major, minor int, format string, args ...interface{}) error {
	b := &messageBuilder{major: major, minor: minor}
	ai := 0
	next := func() interface{} {
		if ai >= len(args) {
			panic("httpio: SendMessage: not enough arguments for format " + format)
		}
		v := args[ai]
		ai++
		return v
	}

	for _, r := range format {
		switch r {
		case 'q':
			method := next().(string)
			uri := next().(string)
			b.writeString(fmt.Sprintf("%s %s HTTP/%d.%d", method, uri, b.major, b.minor))
			b.writeCRLF()
		case 'R':
			code := next().(int)
			b.writeString(fmt.Sprintf("HTTP/%d.%d %d %s", b.major, b.minor, code, statusReason(code)))
			b.writeCRLF()
		case 'N':
			n := next().(int)
			b.writeString("CONTENT-LENGTH: " + strconv.Itoa(n))
			b.writeCRLF()
		case 'T':
			ct := next().(string)
			b.writeString("CONTENT-TYPE: " + ct)
			b.writeCRLF()
		case 'L':
			t := next().(time.Time)
			b.writeString("LAST-MODIFIED: " + t.UTC().Format(rfc1123GMT))
			b.writeCRLF()
		case 'K':
			b.writeString("TRANSFER-ENCODING: chunked")
			b.writeCRLF()
		case 'G':
			rng := next().(string)
			b.writeString("CONTENT-RANGE: " + rng)
			b.writeCRLF()
		case 'S':
			srv := next().(string)
			b.writeString("SERVER: " + srv)
			b.writeCRLF()
		case 'X':
			ua := next().(string)
			b.writeString("USER-AGENT: " + ua)
			b.writeCRLF()
		case 'D':
			b.writeString("DATE: " + time.Now().UTC().Format(rfc1123GMT))
			b.writeCRLF()
		case 'A':
			origin := next().(string)
			if origin != "" {
				b.writeString("ACCESS-CONTROL-ALLOW-ORIGIN: " + origin)
				b.writeCRLF()
			}
		case 'E':
			extra := next().(map[string]string)
			for k, v := range extra {
				b.writeString(k + ": " + v)
				b.writeCRLF()
			}
		case 'b':
			data := next()
			switch v := data.(type) {
			case []byte:
				b.buf = append(b.buf, v...)
			case io.Reader:
				got, err := io.ReadAll(v)
				if err != nil {
					return fmt.Errorf("httpio: reading raw byte block: %w", err)
				}
				b.buf = append(b.buf, got...)
			default:
				return fmt.Errorf("httpio: 'b' expects []byte or io.Reader")
			}
		case 'f':
			path := next().(string)
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("httpio: reading file %q: %w", path, err)
			}
			b.buf = append(b.buf, data...)
		case 'c':
			b.writeCRLF()
		case 's':
			s := next().(string)
			b.writeString(s)
		case 'd':
			n := next().(int)
			b.writeString(strconv.Itoa(n))
		default:
			return fmt.Errorf("httpio: unknown SendMessage format letter %q", string(r))
		}
	}

	return writeAll(ctx, conn, b.buf, timeout)
}

func writeAll(ctx context.Context, conn net.Conn, data []byte, timeout time.Duration) error {
	if timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
		defer conn.SetWriteDeadline(time.Time{})
	}
	_, err := conn.Write(data)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return ErrTimeout
		}
		return fmt.Errorf("httpio: write: %w", err)
	}
	return nil
}

func statusReason(code int) string {
	if r, ok := statusReasons[code]; ok {
		return r
	}
	return "Unknown"
}

var statusReasons = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	206: "Partial Content",
	301: "Moved Permanently",
	304: "Not Modified",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	411: "Length Required",
	416: "Range Not Satisfiable",
	500: "Internal Server Error",
	501: "Not Implemented",
}

// ReadMessage loops reading into a pooled scratch buffer and feeding
// parser.Append until the parser reports Success or a terminal error.
// On socket EOF it calls SignalClose and appends once more, so a
// read-until-close body ends in Success; a Content-Length or chunked body
// cut short returns the parser's Incomplete or IncompleteEntity result.
func ReadMessage(ctx context.Context, conn net.Conn, parser *httpmsg.Parser, timeout time.Duration) (httpmsg.Result, error) {
	scratch := buffers.Get(buffers.HTTPReadScratch)
	defer buffers.Put(scratch)

	for {
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}
		n, err := conn.Read(scratch)
		if n > 0 {
			res := parser.Append(scratch[:n])
			switch res {
			case httpmsg.Success, httpmsg.Failure, httpmsg.NoMatch:
				return res, nil
			}
		}
		if err != nil {
			if err == io.EOF {
				parser.SignalClose()
				res := parser.Append(nil)
				return res, nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return httpmsg.Incomplete, ErrTimeout
			}
			return httpmsg.Failure, fmt.Errorf("httpio: read: %w", err)
		}
	}
}

// HTTPDownloadResult is the outcome of HttpDownloadUrlItem.
type HTTPDownloadResult struct {
	Body        []byte
	ContentType string
}

// HttpDownloadUrlItem performs a one-shot GET of rawURL and returns its
// entity bytes and Content-Type.
func HttpDownloadUrlItem(ctx context.Context, rawURL string, timeout time.Duration) (*HTTPDownloadResult, error) {
	host, path, err := splitURL(rawURL)
	if err != nil {
		return nil, err
	}

	conn, err := Connect(ctx, host, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := SendMessage(ctx, conn, timeout, 1, 1, "qscscc",
		"GET", path,
		"HOST: "+host,
		"USER-AGENT: UPnPsdk/1.0",
	); err != nil {
		return nil, err
	}

	parser := httpmsg.NewResponseParser(httpmsg.MethodGet)
	res, err := ReadMessage(ctx, conn, parser, timeout)
	if err != nil {
		return nil, err
	}
	if res != httpmsg.Success {
		return nil, fmt.Errorf("httpio: download %s: parser returned %s", rawURL, res)
	}
	if parser.Msg.StatusCode != 200 {
		return nil, fmt.Errorf("httpio: download %s: status %d", rawURL, parser.Msg.StatusCode)
	}

	ct, _ := parser.Msg.HeaderValue("Content-Type")
	return &HTTPDownloadResult{Body: parser.Msg.Body, ContentType: ct}, nil
}

// GetStream is an incremental read cursor into a GET response body,
// returned by OpenHttpGet.
type GetStream struct {
	conn    net.Conn
	parser  *httpmsg.Parser
	timeout time.Duration
	pos     int
}

// OpenHttpGet connects, sends a GET, and reads until the parser reports the
// whole response complete, so the full body is already buffered when it
// returns a GetStream positioned at the start of the entity.
func OpenHttpGet(ctx context.Context, rawURL string, timeout time.Duration) (*GetStream, error) {
	host, path, err := splitURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := Connect(ctx, host, timeout)
	if err != nil {
		return nil, err
	}
	if err := SendMessage(ctx, conn, timeout, 1, 1, "qscscc",
		"GET", path,
		"HOST: "+host,
		"USER-AGENT: UPnPsdk/1.0",
	); err != nil {
		conn.Close()
		return nil, err
	}

	parser := httpmsg.NewResponseParser(httpmsg.MethodGet)
	res, err := ReadMessage(ctx, conn, parser, timeout)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if res != httpmsg.Success && res != httpmsg.IncompleteEntity {
		conn.Close()
		return nil, fmt.Errorf("httpio: open GET %s: parser returned %s", rawURL, res)
	}
	if parser.Msg.StatusCode != 200 {
		conn.Close()
		return nil, fmt.Errorf("httpio: open GET %s: status %d", rawURL, parser.Msg.StatusCode)
	}
	return &GetStream{conn: conn, parser: parser, timeout: timeout}, nil
}

// ReadHttpGet copies already-buffered body bytes into p, returning 0,
// io.EOF once the parser has reached Success and every byte has been
// handed out.
func (g *GetStream) ReadHttpGet(p []byte) (int, error) {
	if g.pos < len(g.parser.Msg.Body) {
		n := copy(p, g.parser.Msg.Body[g.pos:])
		g.pos += n
		return n, nil
	}
	if g.parser.State == httpmsg.PosComplete {
		return 0, io.EOF
	}
	res, err := ReadMessage(context.Background(), g.conn, g.parser, g.timeout)
	if err != nil {
		return 0, err
	}
	if res != httpmsg.Success && res != httpmsg.IncompleteEntity {
		return 0, fmt.Errorf("httpio: ReadHttpGet: parser returned %s", res)
	}
	n := copy(p, g.parser.Msg.Body[g.pos:])
	g.pos += n
	return n, nil
}

// CloseHttpGet closes the underlying connection.
func (g *GetStream) CloseHttpGet() error { return g.conn.Close() }

// PostStream produces a chunked request body written incrementally via
// WriteHttpPost.
type PostStream struct {
	conn    net.Conn
	timeout time.Duration
}

// OpenHttpPost connects and sends request headers for a chunked POST;
// callers then call WriteHttpPost repeatedly and finally CloseHttpPost.
func OpenHttpPost(ctx context.Context, rawURL, contentType string, timeout time.Duration) (*PostStream, error) {
	host, path, err := splitURL(rawURL)
	if err != nil {
		return nil, err
	}
	conn, err := Connect(ctx, host, timeout)
	if err != nil {
		return nil, err
	}
	if err := SendMessage(ctx, conn, timeout, 1, 1, "qscscKc",
		"POST", path,
		"HOST: "+host,
		"CONTENT-TYPE: "+contentType,
	); err != nil {
		conn.Close()
		return nil, err
	}
	return &PostStream{conn: conn, timeout: timeout}, nil
}

// WriteHttpPost writes one chunk of p as a chunked-encoding fragment.
func (p *PostStream) WriteHttpPost(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	chunk := fmt.Sprintf("%x\r\n", len(data))
	buf := append([]byte(chunk), data...)
	buf = append(buf, '\r', '\n')
	return writeAll(context.Background(), p.conn, buf, p.timeout)
}

// CloseHttpPost writes the terminating zero-length chunk and closes the
// connection.
func (p *PostStream) CloseHttpPost() error {
	if err := writeAll(context.Background(), p.conn, []byte("0\r\n\r\n"), p.timeout); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

func splitURL(rawURL string) (hostport, path string, err error) {
	rest := rawURL
	rest = strings.TrimPrefix(rest, "http://")
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return rest, "/", nil
	}
	return rest[:slash], rest[slash:], nil
}
