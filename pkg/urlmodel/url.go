// Package urlmodel parses absolute HTTP(S) URLs and resolves redirect
// targets against them, following the grammar in spec §4.1.
package urlmodel

import (
	"strconv"
	"strings"

	"github.com/nilcode/httplite/pkg/errors"
)

// URL is the normalized form of an absolute http(s) URL.
type URL struct {
	Scheme   string // always "http" or "https", lowercase
	Host     string
	Port     int  // effective port (defaulted per scheme if HasPort is false)
	HasPort  bool // true if the input explicitly carried a port
	Path     string // always begins with "/"
	RawQuery string // without the leading '?'
	HasQuery bool
	Fragment string // without the leading '#'; never transmitted on the wire
}

// DefaultPort returns the scheme's default port.
func DefaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

// Parse parses an absolute URL of the form
// scheme "://" authority path-and-query-and-fragment.
func Parse(raw string) (*URL, error) {
	scheme, rest, ok := cutScheme(raw)
	if !ok {
		return nil, errors.NewUnsupportedSchemeError(schemePrefix(raw))
	}

	authority, pathAndRest := splitAuthority(rest)
	if authority == "" {
		return nil, errors.NewInvalidURLError(raw, nil)
	}

	host, port, hasPort, err := splitAuthorityHostPort(authority)
	if err != nil {
		return nil, errors.NewInvalidURLError(raw, err)
	}
	if host == "" {
		return nil, errors.NewInvalidURLError(raw, nil)
	}

	path, query, hasQuery, fragment := splitPathQueryFragment(pathAndRest)

	effectivePort := port
	if !hasPort {
		effectivePort = DefaultPort(scheme)
	}

	return &URL{
		Scheme:   scheme,
		Host:     host,
		Port:     effectivePort,
		HasPort:  hasPort,
		Path:     path,
		RawQuery: query,
		HasQuery: hasQuery,
		Fragment: fragment,
	}, nil
}

func schemePrefix(raw string) string {
	if idx := strings.Index(raw, "://"); idx > 0 {
		return raw[:idx]
	}
	return raw
}

// cutScheme recognizes the "http://" or "https://" prefix.
func cutScheme(raw string) (scheme, rest string, ok bool) {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return "https", raw[len("https://"):], true
	case strings.HasPrefix(raw, "http://"):
		return "http", raw[len("http://"):], true
	default:
		return "", "", false
	}
}

// splitAuthority splits "authority path?query#fragment" on the first
// '/', '?', or '#'.
func splitAuthority(rest string) (authority, pathAndRest string) {
	idx := strings.IndexAny(rest, "/?#")
	if idx < 0 {
		return rest, ""
	}
	return rest[:idx], rest[idx:]
}

// splitAuthorityHostPort splits "host[:port]" on the LAST colon outside of
// a bracketed IPv6 literal. Userinfo is not supported (spec §4.1).
func splitAuthorityHostPort(authority string) (host string, port int, hasPort bool, err error) {
	if authority == "" {
		return "", 0, false, nil
	}

	if authority[0] == '[' {
		// Bracketed IPv6 literal: [::1] or [::1]:8080
		closeIdx := strings.IndexByte(authority, ']')
		if closeIdx < 0 {
			return "", 0, false, errUnterminatedIPv6
		}
		host = authority[:closeIdx+1]
		remainder := authority[closeIdx+1:]
		if remainder == "" {
			return host, 0, false, nil
		}
		if remainder[0] != ':' {
			return "", 0, false, errTrailingAfterIPv6
		}
		p, perr := strconv.Atoi(remainder[1:])
		if perr != nil {
			return "", 0, false, errInvalidPort
		}
		return host, p, true, nil
	}

	lastColon := strings.LastIndexByte(authority, ':')
	if lastColon < 0 {
		return authority, 0, false, nil
	}
	host = authority[:lastColon]
	p, perr := strconv.Atoi(authority[lastColon+1:])
	if perr != nil {
		return "", 0, false, errInvalidPort
	}
	return host, p, true, nil
}

// splitPathQueryFragment splits "path?query#fragment"; an empty path
// normalizes to "/".
func splitPathQueryFragment(s string) (path, query string, hasQuery bool, fragment string) {
	fragIdx := strings.IndexByte(s, '#')
	if fragIdx >= 0 {
		fragment = s[fragIdx+1:]
		s = s[:fragIdx]
	}

	queryIdx := strings.IndexByte(s, '?')
	if queryIdx >= 0 {
		hasQuery = true
		query = s[queryIdx+1:]
		s = s[:queryIdx]
	}

	if s == "" {
		path = "/"
	} else {
		path = s
	}
	return
}

// RequestTarget returns the origin-form request target: path, then '?'
// and the raw query if present. The fragment is never included (spec §4.1).
func (u *URL) RequestTarget() string {
	if u.HasQuery {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path
}

// AbsoluteForm returns the absolute-form request target used for plain
// http requests sent through a proxy (spec §4.3).
func (u *URL) AbsoluteForm() string {
	return u.Scheme + "://" + u.HostHeader() + u.RequestTarget()
}

// HostHeader returns the value the Host header should carry: "host" if the
// port is implied by the scheme, "host:port" otherwise (spec §4.3,
// testable property 1).
func (u *URL) HostHeader() string {
	if !u.HasPort || u.Port == DefaultPort(u.Scheme) {
		return u.Host
	}
	return u.Host + ":" + strconv.Itoa(u.Port)
}

// String renders the URL including its fragment, for diagnostics and as
// the final URL surfaced to callers (fragment is never put on the wire,
// only ever reported here).
func (u *URL) String() string {
	s := u.Scheme + "://" + u.HostHeader() + u.RequestTarget()
	if u.Fragment != "" {
		s += "#" + u.Fragment
	}
	return s
}

// Clone returns a deep copy of u.
func (u *URL) Clone() *URL {
	c := *u
	return &c
}

var (
	errUnterminatedIPv6  = simpleErr("unterminated IPv6 literal")
	errTrailingAfterIPv6 = simpleErr("unexpected characters after IPv6 literal")
	errInvalidPort       = simpleErr("invalid port")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
