package response

import (
	"bufio"
	"io"
	"net"
	"time"

	"github.com/nilcode/httplite/pkg/errors"
	"github.com/nilcode/httplite/pkg/timing"
	"github.com/nilcode/httplite/pkg/urlmodel"
)

// LazyResponse delivers status/header metadata immediately and exposes the
// body through an incremental Read, driving whichever framing the response
// selected (spec §3 "Response (lazy)", §4.4 "generic read-into-buffer
// contract for bulk consumption", §9 redesign flag).
//
// The underlying connection is owned by the LazyResponse until Read
// returns io.EOF or Close is called; either one releases it.
type LazyResponse struct {
	URL          *urlmodel.URL
	StatusCode   int
	ReasonPhrase string
	Headers      *Header
	Method       string

	Metrics timing.Metrics
	Conn    ConnMetadata

	conn      net.Conn
	body      io.Reader
	trailerFn func() map[string][]string
	deadline  time.Time
	done      bool
	closed    bool
}

// ReadLazy parses the status line and headers from conn, then returns a
// LazyResponse ready to stream the body on demand. Unlike ReadEager, conn
// is not closed here; it stays open until the LazyResponse's body is fully
// read or it is explicitly closed.
func ReadLazy(conn net.Conn, u *urlmodel.URL, method string, maxStatusLine, maxHeadersSize int, deadline time.Time, meta ConnMetadata, timer *timing.Timer) (*LazyResponse, error) {
	br := bufio.NewReader(conn)

	timer.StartTTFB()
	h, err := parseHead(conn, br, u, method, maxStatusLine, maxHeadersSize, deadline)
	timer.EndTTFB()
	if err != nil {
		conn.Close()
		return nil, err
	}

	bodyReader, trailerFn, err := bodyReaderFor(br, h, deadline)
	if err != nil {
		conn.Close()
		return nil, err
	}

	lr := &LazyResponse{
		URL:          u,
		StatusCode:   h.statusLine.StatusCode,
		ReasonPhrase: h.statusLine.ReasonPhrase,
		Headers:      h.headers,
		Method:       method,
		Metrics:      timer.Metrics(),
		Conn:         meta,
		conn:         conn,
		body:         bodyReader,
		trailerFn:    trailerFn,
		deadline:     deadline,
	}
	if bodyReader == nil {
		lr.done = true
		conn.Close()
	}
	return lr, nil
}

// Read implements io.Reader, pulling bytes through whichever framing
// (chunked, fixed-length, or until-close) the response selected. Each call
// re-arms conn's read deadline to the request's absolute deadline first, so
// a caller pulling the body in many small reads still has every individual
// read bounded (spec §5). It returns io.EOF exactly when the framing
// machine reaches its end condition, and releases the connection at that
// point.
func (lr *LazyResponse) Read(p []byte) (int, error) {
	if lr.closed {
		return 0, io.ErrClosedPipe
	}
	if lr.done {
		return 0, io.EOF
	}

	if _, err := errors.RemainingOrTimeout("read_body", lr.deadline); err != nil {
		lr.done = true
		lr.conn.Close()
		return 0, err
	}
	lr.conn.SetReadDeadline(lr.deadline)

	n, err := lr.body.Read(p)
	if err == io.EOF {
		lr.done = true
		lr.conn.Close()
	}
	return n, err
}

// Trailer returns any trailer headers announced after a chunked body.
// Only meaningful once Read has returned io.EOF.
func (lr *LazyResponse) Trailer() map[string][]string {
	if lr.trailerFn == nil {
		return nil
	}
	return lr.trailerFn()
}

// Close releases the underlying connection regardless of how much of the
// body has been consumed (spec §5: "dropping the reader closes the
// connection regardless of remaining framing state").
func (lr *LazyResponse) Close() error {
	if lr.closed {
		return nil
	}
	lr.closed = true
	if !lr.done {
		lr.done = true
		return lr.conn.Close()
	}
	return nil
}
