// Package chunked decodes HTTP/1.1 chunked transfer coding (spec §4.5),
// including trailer headers.
//
// Per the redesign note in spec §9, decoding is exposed as a pull-based
// bulk reader rather than a per-byte iterator: Decoder implements io.Reader
// directly, and Trailer returns the trailer header block once Read has
// returned io.EOF.
package chunked

import (
	"bufio"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/nilcode/httplite/pkg/errors"
)

// Decoder reads a chunked-encoded body from an underlying *bufio.Reader,
// yielding decoded bytes through Read and exposing trailers afterward.
type Decoder struct {
	tp      *textproto.Reader
	r       *bufio.Reader
	state   state
	remain  int64 // bytes left in the current chunk body
	trailer map[string][]string
	err     error
}

type state int

const (
	stateChunkHeader state = iota
	stateChunkData
	stateChunkCRLF
	stateTrailer
	stateDone
)

// NewDecoder wraps r, reading the chunked framing directly from it.
func NewDecoder(r *bufio.Reader) *Decoder {
	return &Decoder{
		tp:      textproto.NewReader(r),
		r:       r,
		trailer: make(map[string][]string),
	}
}

// Read implements io.Reader. It returns io.EOF once the terminating
// zero-size chunk and any trailers have been consumed; Trailer is then
// safe to call.
func (d *Decoder) Read(p []byte) (int, error) {
	if d.err != nil {
		return 0, d.err
	}

	for {
		switch d.state {
		case stateChunkHeader:
			line, err := d.tp.ReadLine()
			if err != nil {
				return 0, d.fail(errors.NewMalformedResponseError("chunked_decode", "reading chunk size", err))
			}
			size, err := parseChunkSize(line)
			if err != nil {
				return 0, d.fail(errors.NewMalformedResponseError("chunked_decode", "invalid chunk size", err))
			}
			if size == 0 {
				d.state = stateTrailer
				continue
			}
			d.remain = size
			d.state = stateChunkData

		case stateChunkData:
			if len(p) == 0 {
				return 0, nil
			}
			n := int64(len(p))
			if n > d.remain {
				n = d.remain
			}
			read, err := d.r.Read(p[:n])
			if read > 0 {
				d.remain -= int64(read)
				if d.remain == 0 {
					d.state = stateChunkCRLF
				}
				return read, nil
			}
			if err != nil {
				return 0, d.fail(errors.NewIOError("chunked_decode", "", 0, err))
			}

		case stateChunkCRLF:
			if _, err := d.tp.ReadLine(); err != nil {
				return 0, d.fail(errors.NewMalformedResponseError("chunked_decode", "reading chunk terminator", err))
			}
			d.state = stateChunkHeader

		case stateTrailer:
			for {
				line, err := d.tp.ReadLine()
				if err != nil {
					return 0, d.fail(errors.NewMalformedResponseError("chunked_decode", "reading trailer", err))
				}
				if line == "" {
					d.state = stateDone
					break
				}
				if parts := strings.SplitN(line, ":", 2); len(parts) == 2 {
					key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(parts[0]))
					value := strings.TrimSpace(parts[1])
					d.trailer[key] = append(d.trailer[key], value)
				}
			}
			return 0, d.fail(io.EOF)

		case stateDone:
			return 0, d.fail(io.EOF)
		}
	}
}

func (d *Decoder) fail(err error) error {
	d.err = err
	return err
}

// Trailer returns the trailer header block read after the terminating
// chunk. Only meaningful once Read has returned io.EOF.
func (d *Decoder) Trailer() map[string][]string {
	return d.trailer
}

// parseChunkSize parses a chunk-size line, discarding any
// chunk-extensions after a ';' (spec §4.5).
func parseChunkSize(line string) (int64, error) {
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	return strconv.ParseInt(strings.TrimSpace(line), 16, 64)
}
