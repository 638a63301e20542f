// Package response parses an HTTP/1.1 response from a buffered stream and
// exposes it either as a fully buffered Response or as a LazyResponse whose
// body is streamed on demand (spec §4.4).
package response

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/nilcode/httplite/pkg/errors"
)

// StatusLine holds the three fields of an HTTP status line.
type StatusLine struct {
	HTTPVersion  string
	StatusCode   int
	ReasonPhrase string
}

// readStatusLine reads and parses "HTTP-version SP status-code [SP
// reason-phrase] CRLF". The status code is the token between the first two
// spaces, tolerating a missing reason phrase (spec §4.4).
func readStatusLine(r *bufio.Reader, maxLen int) (StatusLine, error) {
	line, err := readCappedLine(r, maxLen, errors.NewStatusLineOverflowError)
	if err != nil {
		return StatusLine{}, err
	}

	firstSpace := strings.IndexByte(line, ' ')
	if firstSpace < 0 {
		return StatusLine{}, errors.NewMalformedResponseError("read_status_line", "missing status code", nil)
	}
	version := line[:firstSpace]
	rest := line[firstSpace+1:]

	codeStr := rest
	reason := ""
	if secondSpace := strings.IndexByte(rest, ' '); secondSpace >= 0 {
		codeStr = rest[:secondSpace]
		reason = rest[secondSpace+1:]
	}

	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return StatusLine{}, errors.NewMalformedResponseError("read_status_line", "invalid status code", err)
	}

	return StatusLine{HTTPVersion: version, StatusCode: code, ReasonPhrase: reason}, nil
}

// readHeaders reads header lines up to the terminating blank line,
// supporting RFC 7230 §3.2.4 obs-fold continuation lines, and folds them
// into a last-wins Header map.
func readHeaders(r *bufio.Reader, maxSize int) (*Header, error) {
	h := newHeader()
	var lastKey string
	total := 0

	for {
		line, raw, err := readLineCountingBytes(r)
		if err != nil {
			return nil, errors.NewMalformedResponseError("read_headers", "reading header line", err)
		}
		total += raw
		if maxSize > 0 && total > maxSize {
			return nil, errors.NewHeadersOverflowError(maxSize)
		}
		if line == "" {
			break
		}

		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			if lastKey == "" {
				continue
			}
			existing, _ := h.Get(lastKey)
			h.set(lastKey, existing+" "+strings.TrimSpace(line))
			continue
		}

		name, value, ok := splitHeaderLine(line)
		if !ok {
			return nil, errors.NewMalformedResponseError("read_headers", "malformed header line", nil)
		}
		h.set(name, value)
		lastKey = name
	}

	return h, nil
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

// readCappedLine reads one CRLF-terminated line, stripping the CRLF, and
// fails with overflowErr(limit) if the line's raw length, terminator
// included, exceeds limit bytes (0 = unlimited). The whole line is read
// before the length is checked; reading does not stop at limit.
func readCappedLine(r *bufio.Reader, limit int, overflowErr func(int) *errors.Error) (string, error) {
	line, n, err := readLineCountingBytes(r)
	if err != nil {
		return "", err
	}
	if limit > 0 && n > limit {
		return "", overflowErr(limit)
	}
	return line, nil
}

// readLineCountingBytes reads a single CRLF- or LF-terminated line from r,
// returning the line with its terminator stripped and the number of raw
// bytes consumed (including the terminator).
func readLineCountingBytes(r *bufio.Reader) (string, int, error) {
	raw, err := r.ReadString('\n')
	if err != nil {
		return "", len(raw), err
	}
	n := len(raw)
	if strings.HasSuffix(raw, "\r\n") {
		return raw[:n-2], n, nil
	}
	return strings.TrimRight(raw, "\n"), n, nil
}
