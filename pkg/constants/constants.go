// Package constants defines the size caps and defaults shared by the
// request, response, and buffer packages.
package constants

// HTTP limits
const (
	// MaxContentLength bounds the Content-Length value this client will trust.
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB

	// DefaultMaxRedirects is the default redirect hop limit (spec §3: "default 100").
	DefaultMaxRedirects = 100
)

// MaxHeadersSize and MaxStatusLineSize have no default: the caller must set
// them explicitly, or parsing proceeds unbounded (spec §3).

// Buffer limits
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024   // 4MB, before spilling to disk
	MaxRawBufferSize    = 100 * 1024 * 1024 // 100MB cap for raw buffer
)
