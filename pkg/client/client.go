// Package client drives the redirect loop described in spec §4.6: send a
// request, inspect the response for a redirect status, resolve the next
// URL, and repeat until a non-redirect response or the hop limit.
package client

import (
	"context"
	"crypto/x509"
	"net"
	"time"

	"github.com/nilcode/httplite/pkg/errors"
	"github.com/nilcode/httplite/pkg/request"
	"github.com/nilcode/httplite/pkg/response"
	"github.com/nilcode/httplite/pkg/timing"
	"github.com/nilcode/httplite/pkg/tlsconfig"
	"github.com/nilcode/httplite/pkg/transport"
	"github.com/nilcode/httplite/pkg/urlmodel"
)

// TLSConfig holds the TLS settings a Sender applies to every https
// connection it makes. Each Sender keeps its own copy, fixed when the
// Sender is built; there is no process-wide TLS state shared between
// Senders.
type TLSConfig struct {
	InsecureSkipVerify bool
	RootCAs            *x509.CertPool
	ClientCertPEM      []byte
	ClientKeyPEM       []byte
	MinVersion         uint16
	MaxVersion         uint16
}

// Sender sends requests and drives the redirect loop.
type Sender struct {
	transport    *transport.Transport
	tls          TLSConfig
	hostEncoder  transport.HostEncoder
	bodyMemLimit int64
}

// New returns a Sender with default TLS settings and IDNA hostname
// encoding (spec §6 punycode collaborator).
func New() *Sender {
	return &Sender{
		transport:   transport.New(),
		hostEncoder: transport.IDNAHostEncoder{},
	}
}

// NewWithTLSConfig returns a Sender configured with tls, applied to every
// https connection this Sender makes.
func NewWithTLSConfig(tlsCfg TLSConfig) *Sender {
	s := New()
	s.tls = tlsCfg
	return s
}

// NewWithTLSProfile returns a Sender whose Min/MaxVersion come from one of
// tlsconfig's named profiles (Modern, Secure, Compatible, Legacy) instead of
// explicit version numbers.
func NewWithTLSProfile(profile tlsconfig.VersionProfile) *Sender {
	return NewWithTLSConfig(TLSConfig{
		MinVersion: profile.Min,
		MaxVersion: profile.Max,
	})
}

// WithHostEncoder overrides the hostname normalizer (spec §6's
// "encode_hostname" collaborator); tests substitute an identity encoder to
// avoid depending on IDNA for ASCII-only hosts.
func (s *Sender) WithHostEncoder(enc transport.HostEncoder) *Sender {
	s.hostEncoder = enc
	return s
}

// WithBodyMemLimit sets the in-memory threshold before an eager response
// body spills to disk (0 keeps buffer's own default).
func (s *Sender) WithBodyMemLimit(n int64) *Sender {
	s.bodyMemLimit = n
	return s
}

// Send drives req's redirect loop to completion and returns a fully
// buffered Response (spec §6 "send(request) → Response").
func (s *Sender) Send(req *request.Request) (*response.Response, error) {
	deadline := deadlineFor(req)
	current := req.URL
	hop := 0

	for {
		timer := timing.NewTimer()
		conn, meta, err := s.connectAndWrite(req, current, deadline, timer)
		if err != nil {
			return nil, err
		}

		resp, err := response.ReadEager(conn, current, req.Method, req.MaxStatusLine, req.MaxHeadersSize, s.bodyMemLimit, deadline, meta, timer)
		if err != nil {
			return nil, err
		}

		next, redirecting, err := decideRedirect(req, current, resp.StatusCode, resp.Headers, hop)
		if err != nil {
			resp.Close()
			return nil, err
		}
		if !redirecting {
			return resp, nil
		}
		resp.Close()
		current = next
		hop++
	}
}

// SendLazy drives req's redirect loop through every hop but the last
// eagerly, then returns the final hop's metadata plus an incremental body
// reader (spec §6 "send_lazy(request) → LazyResponse").
func (s *Sender) SendLazy(req *request.Request) (*response.LazyResponse, error) {
	deadline := deadlineFor(req)
	current := req.URL
	hop := 0

	for {
		timer := timing.NewTimer()
		conn, meta, err := s.connectAndWrite(req, current, deadline, timer)
		if err != nil {
			return nil, err
		}

		lr, err := response.ReadLazy(conn, current, req.Method, req.MaxStatusLine, req.MaxHeadersSize, deadline, meta, timer)
		if err != nil {
			return nil, err
		}

		next, redirecting, err := decideRedirect(req, current, lr.StatusCode, lr.Headers, hop)
		if err != nil {
			lr.Close()
			return nil, err
		}
		if !redirecting {
			return lr, nil
		}
		lr.Close()
		current = next
		hop++
	}
}

// deadlineFor converts req's total timeout (nanoseconds, 0 = none) into an
// absolute deadline computed once at request start (spec §5).
func deadlineFor(req *request.Request) time.Time {
	if req.Timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(req.Timeout))
}

// decideRedirect applies spec §4.1/§4.6: a redirect status with a Location
// header and hops remaining resolves to the next URL; exceeding the limit
// is a fatal error; anything else means the current response is final.
func decideRedirect(req *request.Request, current *urlmodel.URL, statusCode int, headers *response.Header, hop int) (*urlmodel.URL, bool, error) {
	if !urlmodel.RedirectStatuses[statusCode] {
		return nil, false, nil
	}
	location, ok := headers.Get("Location")
	if !ok {
		return nil, false, nil
	}
	if hop >= req.MaxRedirects {
		return nil, false, errors.NewTooManyRedirectsError(req.MaxRedirects)
	}
	next, err := urlmodel.ResolveRedirect(current, location)
	if err != nil {
		return nil, false, err
	}
	return next, true, nil
}

// connectAndWrite opens a fresh connection for one hop and writes the
// serialized request to it (spec §4.2/§4.3; no connection pooling —
// every hop gets its own transport per spec.md §1 Non-goals). It only
// arms the write deadline and clears it once the request is flushed;
// the read deadline is armed downstream by response.ReadEager/ReadLazy
// (and per incremental call by LazyResponse.Read), since this function
// returns before any response byte is read.
func (s *Sender) connectAndWrite(req *request.Request, current *urlmodel.URL, deadline time.Time, timer *timing.Timer) (net.Conn, transport.ConnectionMetadata, error) {
	if _, err := errors.RemainingOrTimeout("connect", deadline); err != nil {
		return nil, transport.ConnectionMetadata{}, err
	}

	cfg := transport.Config{
		Scheme:             current.Scheme,
		Host:               current.Host,
		Port:               current.Port,
		Proxy:              req.Proxy,
		InsecureSkipVerify: s.tls.InsecureSkipVerify,
		RootCAs:            s.tls.RootCAs,
		ClientCertPEM:      s.tls.ClientCertPEM,
		ClientKeyPEM:       s.tls.ClientKeyPEM,
		MinTLSVersion:      s.tls.MinVersion,
		MaxTLSVersion:      s.tls.MaxVersion,
		HostEncoder:        s.hostEncoder,
		Deadline:           deadline,
	}

	conn, meta, err := s.transport.Connect(context.Background(), cfg, timer)
	if err != nil {
		return nil, transport.ConnectionMetadata{}, err
	}

	usingProxy := req.Proxy != nil
	raw := req.SerializeAgainst(current, usingProxy)

	if remaining, err := errors.RemainingOrTimeout("write_request", deadline); err == nil {
		if remaining > 0 {
			conn.SetWriteDeadline(time.Now().Add(remaining))
		}
	} else {
		conn.Close()
		return nil, transport.ConnectionMetadata{}, err
	}

	written := 0
	for written < len(raw) {
		n, werr := conn.Write(raw[written:])
		written += n
		if werr != nil {
			conn.Close()
			return nil, transport.ConnectionMetadata{}, errors.NewIOError("write_request", current.Host, current.Port, werr)
		}
	}
	conn.SetWriteDeadline(time.Time{})

	return conn, *meta, nil
}
