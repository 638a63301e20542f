package urlmodel

import "strings"

// RedirectStatuses are the status codes that trigger redirect resolution
// when a Location header is present (spec §4.1).
var RedirectStatuses = map[int]bool{
	301: true,
	302: true,
	303: true,
	307: true,
	308: true,
}

// ResolveRedirect computes the URL a redirect response points to, given the
// URL that produced it and the Location header value. It implements the
// three cases from spec §4.1 (absolute, absolute-path, relative) plus the
// RFC 7231 §7.1.2 fragment-inheritance rule.
func ResolveRedirect(current *URL, location string) (*URL, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		next, err := Parse(location)
		if err != nil {
			return nil, err
		}
		if next.Fragment == "" {
			next.Fragment = current.Fragment
		}
		return next, nil
	}

	next := current.Clone()

	locFragment := ""
	locRest := location
	if idx := strings.IndexByte(locRest, '#'); idx >= 0 {
		locFragment = locRest[idx+1:]
		locRest = locRest[:idx]
	}

	switch {
	case strings.HasPrefix(location, "/"):
		next.Path, next.RawQuery, next.HasQuery = splitPathAndQuery(locRest)
	default:
		next.Path, next.RawQuery, next.HasQuery = resolveRelativeReference(current.Path, locRest)
	}

	if locFragment != "" {
		next.Fragment = locFragment
	}
	// else: fragment inherited from current, already copied by Clone.

	return next, nil
}

// splitPathAndQuery splits "path?query" without touching the fragment
// (already stripped by the caller).
func splitPathAndQuery(s string) (path, query string, hasQuery bool) {
	if idx := strings.IndexByte(s, '?'); idx >= 0 {
		return s[:idx], s[idx+1:], true
	}
	return s, "", false
}

// resolveRelativeReference replaces everything after the last '/' of
// currentPath with rest, which may itself carry a "?query" suffix (spec
// §4.1 "otherwise" case: "replace everything after the last / of the
// current path").
func resolveRelativeReference(currentPath, rest string) (path, query string, hasQuery bool) {
	idx := strings.LastIndexByte(currentPath, '/')
	prefix := "/"
	if idx >= 0 {
		prefix = currentPath[:idx+1]
	}
	combined := prefix + rest
	return splitPathAndQuery(combined)
}
