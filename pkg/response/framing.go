package response

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/nilcode/httplite/pkg/constants"
	"github.com/nilcode/httplite/pkg/errors"
)

// framing identifies how the body's length is determined (spec §4.4,
// RFC 7230 §3.3.3 applied in order).
type framing int

const (
	framingNone framing = iota
	framingChunked
	framingContentLength
	framingUntilClose
)

// decideFraming implements the RFC 7230 §3.3.3 ordering: no-body statuses
// first, then chunked, then Content-Length, then read-until-close.
func decideFraming(method string, statusCode int, h *Header) (framing, int64, error) {
	if method == "HEAD" ||
		(statusCode >= 100 && statusCode < 200) ||
		statusCode == 204 ||
		statusCode == 304 {
		return framingNone, 0, nil
	}

	if te, ok := h.Get("Transfer-Encoding"); ok {
		codings := strings.Split(te, ",")
		last := strings.ToLower(strings.TrimSpace(codings[len(codings)-1]))
		if last == "chunked" {
			return framingChunked, 0, nil
		}
	}

	if cl, ok := h.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil {
			return 0, 0, errors.NewMalformedResponseError("decide_framing", "invalid Content-Length", err)
		}
		if n < 0 {
			return 0, 0, errors.NewMalformedResponseError("decide_framing", "negative Content-Length", nil)
		}
		if n > constants.MaxContentLength {
			return 0, 0, errors.NewMalformedResponseError("decide_framing", "Content-Length too large", nil)
		}
		return framingContentLength, n, nil
	}

	return framingUntilClose, 0, nil
}

// contentLengthReader reads exactly n bytes from r, then returns io.EOF.
type contentLengthReader struct {
	r    *bufio.Reader
	left int64
}

func (c *contentLengthReader) Read(p []byte) (int, error) {
	if c.left <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > c.left {
		p = p[:c.left]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	if err == nil && c.left == 0 {
		err = io.EOF
	}
	if err == io.EOF && c.left > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// untilCloseReader is a thin alias: reading from the buffered connection
// directly already yields io.EOF on connection close.
type untilCloseReader struct {
	r *bufio.Reader
}

func (u *untilCloseReader) Read(p []byte) (int, error) {
	return u.r.Read(p)
}
