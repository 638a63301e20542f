package response

import (
	"bufio"
	"io"
	"net"
	"time"
	"unicode/utf8"

	"github.com/nilcode/httplite/pkg/buffer"
	"github.com/nilcode/httplite/pkg/chunked"
	"github.com/nilcode/httplite/pkg/errors"
	"github.com/nilcode/httplite/pkg/timing"
	"github.com/nilcode/httplite/pkg/transport"
	"github.com/nilcode/httplite/pkg/urlmodel"
)

// ConnMetadata is the connection-level information carried from transport
// onto a Response (spec §3 supplemented connection metadata).
type ConnMetadata = transport.ConnectionMetadata

// Response is a fully buffered HTTP/1.1 response (spec §3, "Response
// (eager)").
type Response struct {
	URL          *urlmodel.URL
	StatusCode   int
	ReasonPhrase string
	Headers      *Header
	Method       string

	body *buffer.Buffer

	Metrics timing.Metrics
	Conn    ConnMetadata
}

// head is the parsed status line and headers shared by the eager and lazy
// paths, before either one consumes the body.
type head struct {
	url         *urlmodel.URL
	method      string
	statusLine  StatusLine
	headers     *Header
	framingKind framing
	contentLen  int64
}

// parseHead reads the status line and headers, then decides body framing,
// enforcing the configured size caps (spec §4.4). conn's read deadline is
// armed to the request's absolute deadline before each blocking read, so a
// stalled peer unblocks the read itself rather than just failing a pre-read
// clock check.
func parseHead(conn net.Conn, r *bufio.Reader, u *urlmodel.URL, method string, maxStatusLine, maxHeadersSize int, deadline time.Time) (*head, error) {
	if _, err := errors.RemainingOrTimeout("read_status_line", deadline); err != nil {
		return nil, err
	}
	conn.SetReadDeadline(deadline)
	sl, err := readStatusLine(r, maxStatusLine)
	if err != nil {
		return nil, err
	}

	if _, err := errors.RemainingOrTimeout("read_headers", deadline); err != nil {
		return nil, err
	}
	conn.SetReadDeadline(deadline)
	h, err := readHeaders(r, maxHeadersSize)
	if err != nil {
		return nil, err
	}

	kind, n, err := decideFraming(method, sl.StatusCode, h)
	if err != nil {
		return nil, err
	}

	return &head{
		url:         u,
		method:      method,
		statusLine:  sl,
		headers:     h,
		framingKind: kind,
		contentLen:  n,
	}, nil
}

// ReadEager parses a response from conn and collects the entire body into
// memory (spilling to disk past memLimit bytes), closing conn once done.
func ReadEager(conn net.Conn, u *urlmodel.URL, method string, maxStatusLine, maxHeadersSize int, memLimit int64, deadline time.Time, meta ConnMetadata, timer *timing.Timer) (*Response, error) {
	defer conn.Close()

	br := bufio.NewReader(conn)

	timer.StartTTFB()
	h, err := parseHead(conn, br, u, method, maxStatusLine, maxHeadersSize, deadline)
	timer.EndTTFB()
	if err != nil {
		return nil, err
	}

	body := buffer.New(memLimit)

	bodyReader, trailerFn, err := bodyReaderFor(br, h, deadline)
	if err != nil {
		body.Close()
		return nil, err
	}
	if bodyReader != nil {
		if _, err := errors.RemainingOrTimeout("read_body", deadline); err != nil {
			body.Close()
			return nil, err
		}
		conn.SetReadDeadline(deadline)
		if _, err := io.Copy(body, bodyReader); err != nil {
			body.Close()
			return nil, errors.NewIOError("read_body", u.Host, u.Port, err)
		}
	}
	if trailerFn != nil {
		for k, v := range trailerFn() {
			if len(v) > 0 {
				h.headers.set(k, v[len(v)-1])
			}
		}
	}

	return &Response{
		URL:          u,
		StatusCode:   h.statusLine.StatusCode,
		ReasonPhrase: h.statusLine.ReasonPhrase,
		Headers:      h.headers,
		Method:       method,
		body:         body,
		Metrics:      timer.Metrics(),
		Conn:         meta,
	}, nil
}

// bodyReaderFor returns the reader selected by h's framing decision, and,
// for chunked bodies, a trailer accessor valid once the reader is
// exhausted. A nil reader means the response has no body (spec §4.4 case
// 1).
func bodyReaderFor(br *bufio.Reader, h *head, deadline time.Time) (io.Reader, func() map[string][]string, error) {
	switch h.framingKind {
	case framingNone:
		return nil, nil, nil
	case framingChunked:
		dec := chunked.NewDecoder(br)
		return dec, dec.Trailer, nil
	case framingContentLength:
		return &contentLengthReader{r: br, left: h.contentLen}, nil, nil
	default:
		return &untilCloseReader{r: br}, nil, nil
	}
}

// Bytes returns the collected body bytes. If the body spilled to disk this
// reads the whole spill file into memory.
func (r *Response) Bytes() ([]byte, error) {
	if !r.body.IsSpilled() {
		return r.body.Bytes(), nil
	}
	rc, err := r.body.Reader()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// String returns the body as a string. It is "best-effort" in the sense
// that non-UTF-8 bytes are not rejected, only carried through as-is (spec
// §3's "body as a string when UTF-8-decodable" accessor); IsUTF8 lets a
// caller check validity first.
func (r *Response) String() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// IsUTF8 reports whether the collected body is valid UTF-8.
func (r *Response) IsUTF8() (bool, error) {
	b, err := r.Bytes()
	if err != nil {
		return false, err
	}
	return utf8.Valid(b), nil
}

// BodySize returns the number of body bytes collected.
func (r *Response) BodySize() int64 {
	return r.body.Size()
}

// Close releases the body buffer (and any spill file).
func (r *Response) Close() error {
	return r.body.Close()
}
